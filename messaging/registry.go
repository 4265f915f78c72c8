package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// HandlerRegistry 按消息类型登记处理器，三种传输共用
//
// 分发时精确匹配的处理器在前，TypeAny 处理器在后；
// 单个处理器失败或 panic 不影响其余处理器，错误汇总后返回。
type HandlerRegistry struct {
	mu     sync.RWMutex
	routes map[string][]IMessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{routes: make(map[string][]IMessageHandler)}
}

// Add 登记处理器，返回该类型是否首次出现
func (r *HandlerRegistry) Add(messageType string, handler IMessageHandler) (bool, error) {
	if handler == nil {
		return false, fmt.Errorf("nil handler for message type %s", messageType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	first := len(r.routes[messageType]) == 0
	r.routes[messageType] = append(r.routes[messageType], handler)
	return first, nil
}

// Remove 按实例移除处理器，返回该类型剩余的处理器数
func (r *HandlerRegistry) Remove(messageType string, handler IMessageHandler) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.routes[messageType], handler)
	if i < 0 {
		return len(r.routes[messageType]), fmt.Errorf("handler not found for message type %s", messageType)
	}
	remaining := slices.Delete(slices.Clone(r.routes[messageType]), i, i+1)
	if len(remaining) == 0 {
		delete(r.routes, messageType)
	} else {
		r.routes[messageType] = remaining
	}
	return len(remaining), nil
}

// Types 已登记的类型，升序
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.routes))
	for mt := range r.routes {
		types = append(types, mt)
	}
	slices.Sort(types)
	return types
}

// Stats 组装传输状态
func (r *HandlerRegistry) Stats(running bool) TransportStats {
	stats := TransportStats{Running: running, MessageTypes: r.Types()}
	r.mu.RLock()
	for _, hs := range r.routes {
		stats.HandlerCount += len(hs)
	}
	r.mu.RUnlock()
	return stats
}

func (r *HandlerRegistry) route(messageType string) []IMessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Concat(r.routes[messageType], r.routes[TypeAny])
}

// Dispatch 依次执行匹配的处理器
func (r *HandlerRegistry) Dispatch(ctx context.Context, message IMessage) error {
	var errs []error
	for _, h := range r.route(message.GetType()) {
		if err := invoke(ctx, h, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("message %s handled with %d errors: %w", message.GetType(), len(errs), errors.Join(errs...))
	}
	return nil
}

func invoke(ctx context.Context, h IMessageHandler, message IMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, message)
}
