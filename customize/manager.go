// Package customize 组合各组件形成请求管线
//
// Manager 进程级持有存储、判定服务、变更集存储、事件总线与草稿生命周期管理器；
// 每个编辑上下文通过 NewSession 取得独立的 Session（注册表、覆盖层、能力缓存），
// 会话状态不跨会话共享。
package customize

import (
	"context"
	"time"

	"stagekit/capability"
	"stagekit/changeset"
	"stagekit/conflict"
	"stagekit/content"
	"stagekit/draft"
	"stagekit/logging"
	"stagekit/messaging"
	"stagekit/messaging/middleware"
	synctransport "stagekit/messaging/transport/sync"
	"stagekit/preview"
	"stagekit/retry"
	"stagekit/schema"
	"stagekit/setting"
	"stagekit/store"
)

// Config 管理器配置
type Config struct {
	Oracle     capability.IOracle
	Changesets changeset.IStore
	Bus        *messaging.MessageBus
	Detector   *conflict.Detector
	Logger     logging.Logger
	Now        func() time.Time

	PlaceholderStatus content.Status
	AllowEmptyContent bool
	ThemeSupports     []string

	// DecisionCacheSize 会话级能力判定缓存容量，0 表示不缓存
	DecisionCacheSize int
	DecisionCacheTTL  time.Duration

	// PublishRetry 生命周期事件发布的重试策略，默认不重试
	PublishRetry retry.Config
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Oracle:            capability.DenyAll,
		PlaceholderStatus: content.StatusPublish,
		DecisionCacheSize: 1024,
		DecisionCacheTTL:  time.Minute,
		PublishRetry:      retry.Once(),
	}
}

// Option 配置项
type Option func(*Config)

// WithOracle 设置能力判定
func WithOracle(o capability.IOracle) Option {
	return func(c *Config) { c.Oracle = o }
}

// WithChangesets 设置变更集存储
func WithChangesets(s changeset.IStore) Option {
	return func(c *Config) { c.Changesets = s }
}

// WithBus 设置事件总线
func WithBus(b *messaging.MessageBus) Option {
	return func(c *Config) { c.Bus = b }
}

// WithDetector 设置冲突检测器
func WithDetector(d *conflict.Detector) Option {
	return func(c *Config) { c.Detector = d }
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithPlaceholderStatus 占位状态提交时改写成的状态
func WithPlaceholderStatus(s content.Status) Option {
	return func(c *Config) { c.PlaceholderStatus = s }
}

// WithAllowEmptyContent 允许保存标题、正文、摘要全空的实体
func WithAllowEmptyContent(allow bool) Option {
	return func(c *Config) { c.AllowEmptyContent = allow }
}

// WithThemeSupports 主题支持的特性
func WithThemeSupports(features ...string) Option {
	return func(c *Config) { c.ThemeSupports = features }
}

// WithDecisionCache 会话级能力判定缓存；size 为 0 时不缓存
func WithDecisionCache(size int, ttl time.Duration) Option {
	return func(c *Config) { c.DecisionCacheSize, c.DecisionCacheTTL = size, ttl }
}

// WithPublishRetry 生命周期事件发布的重试策略
func WithPublishRetry(cfg retry.Config) Option {
	return func(c *Config) { c.PublishRetry = cfg }
}

// Manager 进程级管理器
type Manager struct {
	cfg    Config
	store  store.IStore
	schema *schema.Registry
	drafts *draft.Manager
	logger logging.Logger

	subscribed bool
}

// NewManager 创建管理器；未提供总线时使用进程内同步传输
func NewManager(st store.IStore, sch *schema.Registry, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("customize")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Oracle == nil {
		cfg.Oracle = capability.DenyAll
	}
	if cfg.Changesets == nil {
		cfg.Changesets = changeset.NewMemoryStore()
	}
	if cfg.Detector == nil {
		cfg.Detector = conflict.NewDetector()
	}
	if cfg.Bus == nil {
		cfg.Bus = messaging.NewMessageBus(synctransport.NewSyncTransport())
		cfg.Bus.Use(middleware.NewActorMiddleware())
		cfg.Bus.Use(middleware.NewLoggingMiddleware(cfg.Logger))
	}
	if sch == nil {
		sch = schema.NewDefaultRegistry()
	}
	return &Manager{
		cfg:    cfg,
		store:  st,
		schema: sch,
		drafts: draft.NewManager(st, cfg.Changesets, draft.WithLogger(cfg.Logger), draft.WithClock(cfg.Now)),
		logger: cfg.Logger,
	}
}

// Start 订阅生命周期处理器并启动总线；启动失败后可再次调用，处理器只订阅一次
func (m *Manager) Start(ctx context.Context) error {
	if !m.subscribed {
		if err := m.drafts.Subscribe(ctx, m.cfg.Bus); err != nil {
			return err
		}
		m.subscribed = true
	}
	return m.cfg.Bus.Start(ctx)
}

// Close 关闭总线
func (m *Manager) Close() error {
	return m.cfg.Bus.Close()
}

func (m *Manager) Store() store.IStore          { return m.store }
func (m *Manager) Schema() *schema.Registry     { return m.schema }
func (m *Manager) Drafts() *draft.Manager       { return m.drafts }
func (m *Manager) Bus() *messaging.MessageBus   { return m.cfg.Bus }
func (m *Manager) Changesets() changeset.IStore { return m.cfg.Changesets }
func (m *Manager) Oracle() capability.IOracle   { return m.cfg.Oracle }

// publish 按重试策略发布生命周期事件
func (m *Manager) publish(ctx context.Context, messageType string, payload any) error {
	cfg := m.cfg.PublishRetry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
			m.logger.Warn(ctx, "publish failed, retrying",
				logging.String("type", messageType), logging.Int("attempt", attempt),
				logging.Duration("delay", delay), logging.Error(err))
		}
	}
	return retry.Do(ctx, cfg, func(ctx context.Context, _ int) error {
		return m.cfg.Bus.PublishEvent(ctx, messageType, payload)
	})
}

// PublishEvent 按重试策略发布事件，供设置层使用
func (m *Manager) PublishEvent(ctx context.Context, messageType string, payload any) error {
	return m.publish(ctx, messageType, payload)
}

// Reconcile 草稿对账
func (m *Manager) Reconcile(ctx context.Context) ([]content.EntityRef, error) {
	return m.drafts.Reconcile(ctx)
}

// NewSession 为操作者创建会话
func (m *Manager) NewSession(actor capability.Actor) *Session {
	oracle := m.cfg.Oracle
	if m.cfg.DecisionCacheSize > 0 {
		oracle = capability.NewCachedOracle(oracle, m.cfg.DecisionCacheSize, m.cfg.DecisionCacheTTL)
	}
	logger := m.logger.WithFields(logging.Int64("actor", actor.ID))
	overlay := preview.New(m.store,
		preview.WithOracle(oracle),
		preview.WithActor(actor),
		preview.WithLogger(logger))
	registry := setting.NewRegistry(setting.Deps{
		Store:             m.store,
		Overlay:           overlay,
		Oracle:            oracle,
		Actor:             actor,
		Schema:            m.schema,
		Detector:          m.cfg.Detector,
		Bus:               m,
		Logger:            logger,
		Now:               m.cfg.Now,
		ThemeSupports:     m.cfg.ThemeSupports,
		PlaceholderStatus: m.cfg.PlaceholderStatus,
		AllowEmptyContent: m.cfg.AllowEmptyContent,
	})
	return &Session{
		manager:  m,
		actor:    actor,
		overlay:  overlay,
		registry: registry,
		logger:   logger,
	}
}
