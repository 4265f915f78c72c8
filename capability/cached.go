package capability

import (
	"context"
	"time"

	"stagekit/cache"
	"stagekit/content"
)

type decisionKey struct {
	actor  int64
	action Action
	ref    content.EntityRef
	field  string
}

// CachedOracle 缓存判定结果的装饰器
//
// 缓存键不含角色，角色变化后需调用 InvalidateActor。
type CachedOracle struct {
	inner IOracle
	cache *cache.Cache[decisionKey, bool]
}

// NewCachedOracle 创建带缓存的判定服务
func NewCachedOracle(inner IOracle, maxSize int, ttl time.Duration) *CachedOracle {
	return &CachedOracle{
		inner: inner,
		cache: cache.New[decisionKey, bool](cache.Config{Name: "capability", MaxSize: maxSize, TTL: ttl}),
	}
}

func (o *CachedOracle) CanActorPerform(ctx context.Context, actor Actor, action Action, ref content.EntityRef, field string) bool {
	key := decisionKey{actor: actor.ID, action: action, ref: ref, field: field}
	if v, ok := o.cache.Get(key); ok {
		return v
	}
	v := o.inner.CanActorPerform(ctx, actor, action, ref, field)
	o.cache.Set(key, v)
	return v
}

// InvalidateActor 清除某操作者的全部缓存判定
func (o *CachedOracle) InvalidateActor(actorID int64) int {
	return o.cache.DeleteFunc(func(k decisionKey) bool { return k.actor == actorID })
}

// InvalidateRef 清除某实体的全部缓存判定（实体作者变化等）
func (o *CachedOracle) InvalidateRef(ref content.EntityRef) int {
	return o.cache.DeleteFunc(func(k decisionKey) bool { return k.ref == ref })
}

// Stats 缓存统计
func (o *CachedOracle) Stats() cache.Stats {
	return o.cache.Stats()
}
