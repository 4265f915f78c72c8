// Package natsjetstream 基于 NATS JetStream 的跨进程事件传输
//
// 所有事件写入同一个 stream（主题前缀 + 消息类型），每种类型一个持久化队列消费者。
// 处理器失败的消息延迟 Nak 以便重投，超过 MaxDeliver 后由服务端丢弃；无法解码的消息直接 Term。
package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"stagekit/logging"
	"stagekit/messaging"
)

// Config 传输配置
type Config struct {
	URL           string
	Conn          *nats.Conn
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	MaxDeliver    int
	// NakDelay 处理失败后的重投延迟
	NakDelay time.Duration
	// Retention workqueue|limits|interest，默认 workqueue
	Retention string
	MaxAge    time.Duration
	Logger    logging.Logger
}

// Transport JetStream 传输
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	registry *messaging.HandlerRegistry

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	running bool
}

var _ messaging.Transport = (*Transport)(nil)

// NewTransport 创建传输；连接在 Start 时建立
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "STAGEKIT"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "stagekit."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "stagekit-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 256
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.NakDelay <= 0 {
		cfg.NakDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		registry: messaging.NewHandlerRegistry(),
		subs:     make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.Lock()
	js, running := t.js, t.running
	t.mu.Unlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}
	data, err := messaging.Encode(message)
	if err != nil {
		return fmt.Errorf("natsjetstream: encode %s: %w", message.GetType(), err)
	}
	_, err = js.Publish(t.subject(message.GetType()), data, nats.Context(ctx), nats.MsgId(message.GetID()))
	return err
}

// PublishAll 异步发布整批消息后统一等待服务端确认
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	t.mu.Lock()
	js, running := t.js, t.running
	t.mu.Unlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}
	futures := make([]nats.PubAckFuture, 0, len(messages))
	for _, m := range messages {
		data, err := messaging.Encode(m)
		if err != nil {
			return fmt.Errorf("natsjetstream: encode %s: %w", m.GetType(), err)
		}
		f, err := js.PublishAsync(t.subject(m.GetType()), data, nats.MsgId(m.GetID()))
		if err != nil {
			return fmt.Errorf("natsjetstream: publish %s: %w", m.GetType(), err)
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		select {
		case <-f.Ok():
		case err := <-f.Err():
			return fmt.Errorf("natsjetstream: publish ack: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if _, err := t.registry.Add(messageType, handler); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

// Unsubscribe 移除处理器；类型下再无处理器时排空其消费者
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	left, err := t.registry.Remove(messageType, handler)
	if err != nil || left > 0 {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[messageType]; ok {
		delete(t.subs, messageType)
		return sub.Drain()
	}
	return nil
}

// Start 建立连接、确保 stream 存在并为已注册类型创建消费者
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	if err := t.connectLocked(); err != nil {
		return err
	}
	if err := t.ensureStreamLocked(); err != nil {
		return err
	}
	for _, mt := range t.registry.Types() {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn, t.js = nil, nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	return t.registry.Stats(running)
}

func (t *Transport) connectLocked() error {
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("stagekit"))
		if err != nil {
			return fmt.Errorf("natsjetstream: connect: %w", err)
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return fmt.Errorf("natsjetstream: jetstream context: %w", err)
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStreamLocked() error {
	if _, err := t.js.StreamInfo(t.cfg.Stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err := t.js.AddStream(streamConfig(t.cfg))
	return err
}

func streamConfig(cfg Config) *nats.StreamConfig {
	retention := nats.WorkQueuePolicy
	switch strings.ToLower(cfg.Retention) {
	case "limits":
		retention = nats.LimitsPolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	return &nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.SubjectPrefix + ">"},
		Retention: retention,
		MaxAge:    cfg.MaxAge,
	}
}

// 通配订阅只参与分发，不单独创建消费者
func (t *Transport) subscribeLocked(messageType string) error {
	if messageType == messaging.TypeAny {
		return nil
	}
	if _, ok := t.subs[messageType]; ok {
		return nil
	}
	durable := t.durable(messageType)
	sub, err := t.js.QueueSubscribe(t.subject(messageType), durable, t.onMessage,
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxDeliver(t.cfg.MaxDeliver),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("natsjetstream: subscribe %s: %w", messageType, err)
	}
	t.subs[messageType] = sub
	return nil
}

func (t *Transport) onMessage(msg *nats.Msg) {
	ctx := context.Background()
	decoded, err := messaging.Decode(msg.Data)
	if err != nil {
		t.logger.Warn(ctx, "decode nats message failed, terminating", logging.String("subject", msg.Subject), logging.Error(err))
		_ = msg.Term()
		return
	}
	if decoded.Type == "" {
		decoded.Type = strings.TrimPrefix(msg.Subject, t.cfg.SubjectPrefix)
	}
	if err := t.dispatch(ctx, decoded); err != nil {
		t.logger.Warn(ctx, "handler failed, redelivering", logging.String("type", decoded.Type),
			logging.Duration("delay", t.cfg.NakDelay), logging.Error(err))
		if nakErr := msg.NakWithDelay(t.cfg.NakDelay); nakErr != nil {
			t.logger.Warn(ctx, "nats nak failed", logging.Error(nakErr))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		t.logger.Warn(ctx, "nats ack failed", logging.Error(err))
	}
}

func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) error {
	return t.registry.Dispatch(ctx, message)
}

func (t *Transport) subject(messageType string) string {
	return t.cfg.SubjectPrefix + messageType
}

// durable 消费者名不允许包含 '.'
func (t *Transport) durable(messageType string) string {
	return t.cfg.DurablePrefix + strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(messageType)
}
