// Package sync 提供进程内同步传输
//
// Publish 在调用方 goroutine 内依次执行匹配的处理器并汇总错误，
// 生命周期事件因此与触发它的请求处于同一执行序列。
package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"stagekit/messaging"
)

// SyncTransport 同步内存传输
type SyncTransport struct {
	registry   *messaging.HandlerRegistry
	running    atomic.Bool
	dispatched atomic.Uint64
}

var _ messaging.Transport = (*SyncTransport)(nil)

// NewSyncTransport 创建同步传输
func NewSyncTransport() *SyncTransport {
	return &SyncTransport{registry: messaging.NewHandlerRegistry()}
}

// Publish 依次执行处理器；单个处理器失败或 panic 不影响其余处理器
func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	if !t.running.Load() {
		return fmt.Errorf("sync transport is not running")
	}
	t.dispatched.Add(1)
	return t.registry.Dispatch(ctx, message)
}

// PublishAll 依次发布，遇错即停
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for i, m := range messages {
		if err := t.Publish(ctx, m); err != nil {
			return fmt.Errorf("message %d/%d: %w", i+1, len(messages), err)
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Add(messageType, handler)
	return err
}

func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Remove(messageType, handler)
	return err
}

// Start 启动；重复启动是空操作
func (t *SyncTransport) Start(ctx context.Context) error {
	t.running.Store(true)
	return nil
}

func (t *SyncTransport) Close() error {
	t.running.Store(false)
	return nil
}

// Dispatched 已分发的消息数
func (t *SyncTransport) Dispatched() uint64 { return t.dispatched.Load() }

func (t *SyncTransport) Stats() messaging.TransportStats {
	return t.registry.Stats(t.running.Load())
}
