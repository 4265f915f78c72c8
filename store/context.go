package store

import "context"

type actorKey struct{}

// WithActor 在上下文中携带当前操作者，写入时记录为最后修改者
func WithActor(ctx context.Context, actor int64) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom 读取上下文中的操作者
func ActorFrom(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(actorKey{}).(int64)
	return v, ok
}
