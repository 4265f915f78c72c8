package messaging

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc 中间件链与处理器的执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// IMiddleware 发布侧中间件，在消息交给传输前执行
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IEventPublisher 生命周期事件发布端
type IEventPublisher interface {
	PublishEvent(ctx context.Context, messageType string, payload any) error
}

// IEventSubscriber 生命周期事件订阅端
type IEventSubscriber interface {
	Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error
}

// IMessageBus 事件总线
type IMessageBus interface {
	IEventPublisher
	IEventSubscriber
	Publish(ctx context.Context, message IMessage) error
	Use(middleware IMiddleware)
}

// MessageBus 事件总线：发布经中间件链后交给 Transport；订阅直接委托给 Transport
type MessageBus struct {
	transport Transport

	mu          sync.RWMutex
	middlewares []IMiddleware
	chain       HandlerFunc
}

var _ IMessageBus = (*MessageBus)(nil)

// NewMessageBus 创建事件总线
func NewMessageBus(transport Transport) *MessageBus {
	bus := &MessageBus{transport: transport}
	bus.chain = bus.send
	return bus
}

func (bus *MessageBus) send(ctx context.Context, message IMessage) error {
	return bus.transport.Publish(ctx, message)
}

// Use 追加中间件；先注册的先执行
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)

	next := HandlerFunc(bus.send)
	for i := len(bus.middlewares) - 1; i >= 0; i-- {
		mw, inner := bus.middlewares[i], next
		next = func(ctx context.Context, msg IMessage) error {
			return mw.Handle(ctx, msg, inner)
		}
	}
	bus.chain = next
}

// Middlewares 已注册中间件名称
func (bus *MessageBus) Middlewares() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	names := make([]string, 0, len(bus.middlewares))
	for _, mw := range bus.middlewares {
		names = append(names, mw.Name())
	}
	return names
}

func (bus *MessageBus) Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Subscribe(messageType, handler)
}

func (bus *MessageBus) Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Unsubscribe(messageType, handler)
}

func (bus *MessageBus) Transport() Transport { return bus.transport }

func (bus *MessageBus) Start(ctx context.Context) error { return bus.transport.Start(ctx) }

func (bus *MessageBus) Close() error { return bus.transport.Close() }

// PublishEvent 以类型与载荷构造消息并发布
func (bus *MessageBus) PublishEvent(ctx context.Context, messageType string, payload any) error {
	return bus.Publish(ctx, NewMessage(messageType, payload))
}

// Publish 发布消息；消息类型不可为空，也不可为通配类型
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	if message == nil {
		return fmt.Errorf("messaging: nil message")
	}
	if t := message.GetType(); t == "" || t == TypeAny {
		return fmt.Errorf("messaging: message %s has invalid type %q", message.GetID(), t)
	}
	bus.mu.RLock()
	chain := bus.chain
	bus.mu.RUnlock()
	return chain(ctx, message)
}
