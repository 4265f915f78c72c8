package messaging

import "context"

// Publisher 传输的发布端
type Publisher interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
}

// Subscriber 传输的订阅端；handler 按实例匹配
type Subscriber interface {
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
}

// Transport 生命周期事件传输
//
// sync 在进程内同步分发；redisstreams 与 natsjetstream 把事件复制到其他进程，
// 在 Start 之前注册的消息类型才会建立消费者。
type Transport interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输状态快照
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
}
