// Package middleware 提供消息总线中间件
package middleware

import (
	"context"

	"stagekit/messaging"
	"stagekit/store"
)

// KeyActorID 元数据中的操作者字段
const KeyActorID = "actor_id"

// ActorMiddleware 将上下文中的操作者写入消息元数据（已有时不覆盖）
type ActorMiddleware struct{}

func NewActorMiddleware() *ActorMiddleware { return &ActorMiddleware{} }

func (m *ActorMiddleware) Name() string { return "Actor" }

func (m *ActorMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message != nil {
		md := message.GetMetadata()
		if _, ok := md[KeyActorID]; !ok {
			if actor, ok := store.ActorFrom(ctx); ok {
				md[KeyActorID] = actor
			}
		}
	}
	return next(ctx, message)
}
