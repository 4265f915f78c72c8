// Package redisstreams 基于 Redis Streams 消费组的跨进程事件传输
//
// 每种消息类型对应一个 stream；同一消费组内每条事件只由一个进程处理，
// 适合共享存储之上的草稿生命周期推进。
package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stagekit/logging"
	"stagekit/messaging"
)

// client 依赖的 go-redis 命令子集（便于测试替换）
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config 传输配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
	Group        string
	Consumer     string
	Block        time.Duration
	Count        int64
	// MaxLen 每个 stream 近似保留的条目数，0 表示不裁剪
	MaxLen int64
	Logger logging.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Transport Redis Streams 传输
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	registry *messaging.HandlerRegistry

	mu       sync.RWMutex
	readers  map[string]bool
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTransport 创建传输；未提供 Client 时按 Addr 建立连接并在 Close 时关闭
func NewTransport(cfg Config) (*Transport, error) {
	switch {
	case cfg.Client != nil:
		return newTransport(cfg, cfg.Client, false), nil
	case cfg.Addr != "":
		c := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		return newTransport(cfg, c, true), nil
	default:
		return nil, errors.New("redisstreams: client or addr required")
	}
}

func newTransport(cfg Config, c client, own bool) *Transport {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "stagekit:"
	}
	if cfg.Group == "" {
		cfg.Group = "stagekit"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "stagekit-" + uuid.NewString()
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 16
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.redisstreams")
	}
	return &Transport{
		cfg:       cfg,
		client:    c,
		ownClient: own,
		logger:    cfg.Logger,
		registry:  messaging.NewHandlerRegistry(),
		readers:   make(map[string]bool),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	data, err := messaging.Encode(message)
	if err != nil {
		return fmt.Errorf("redisstreams: encode %s: %w", message.GetType(), err)
	}
	args := &redis.XAddArgs{
		Stream: t.stream(message.GetType()),
		Values: map[string]any{"type": message.GetType(), "data": string(data)},
	}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	return t.client.XAdd(ctx, args).Err()
}

// PublishAll 依次 XADD（Streams 不支持跨 stream 原子追加）
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, m := range messages {
		if err := t.Publish(ctx, m); err != nil {
			return err
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
		t.startReaderLocked(messageType)
	}
	return nil
}

// Unsubscribe 只移除处理器；读取协程保留到 Close，之后到达的记录照常确认
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.registry.Remove(messageType, handler)
	return err
}

// Start 为每个已订阅类型启动一个读取协程
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	for _, mt := range t.registry.Types() {
		t.startReaderLocked(mt)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	wasRunning := t.running
	t.running = false
	t.readers = make(map[string]bool)
	t.mu.Unlock()

	if wasRunning && cancel != nil {
		cancel()
		t.wg.Wait()
	}
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	running := t.running
	t.mu.RUnlock()
	return t.registry.Stats(running)
}

// 通配订阅无法映射到单个 stream，只参与已订阅类型的分发
func (t *Transport) startReaderLocked(messageType string) {
	if messageType == messaging.TypeAny || t.readers[messageType] {
		return
	}
	t.readers[messageType] = true
	t.wg.Add(1)
	go t.readLoop(t.ctx, messageType)
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.stream(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "create consumer group failed", logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.Group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.Count,
		Block:    t.cfg.Block,
	}
	backoff := t.cfg.MinBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.String("stream", stream), logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, t.cfg.MaxBackoff)
			continue
		}
		backoff = t.cfg.MinBackoff
		for _, sr := range res {
			for _, entry := range sr.Messages {
				t.consume(ctx, sr.Stream, entry)
			}
		}
	}
}

// consume 解码并分发一条记录；无论成功与否都确认，避免毒消息反复投递
func (t *Transport) consume(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeEntry(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode stream entry failed", logging.String("entry", entry.ID), logging.Error(err))
	} else if err := t.registry.Dispatch(ctx, msg); err != nil {
		t.logger.Warn(ctx, "handler failed", logging.String("entry", entry.ID), logging.String("type", msg.Type), logging.Error(err))
	}
	if err := t.client.XAck(ctx, stream, t.cfg.Group, entry.ID).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("entry", entry.ID), logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.Group, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) stream(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

func decodeEntry(entry redis.XMessage) (*messaging.Message, error) {
	raw, ok := entry.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", entry.ID)
	}
	msg, err := messaging.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	if msg.Type == "" {
		msg.Type, _ = entry.Values["type"].(string)
	}
	return msg, nil
}
