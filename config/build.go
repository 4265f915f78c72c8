package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"stagekit/capability"
	"stagekit/changeset"
	"stagekit/content"
	"stagekit/customize"
	core "stagekit/data/db"
	"stagekit/data/db/basic"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/messaging"
	"stagekit/messaging/middleware"
	"stagekit/messaging/transport/natsjetstream"
	"stagekit/messaging/transport/redisstreams"
	synctransport "stagekit/messaging/transport/sync"
	"stagekit/retry"
	"stagekit/schema"
	"stagekit/store"
	"stagekit/store/memory"
	"stagekit/store/sqlstore"
)

// Runtime Build 装配出的组件
type Runtime struct {
	Manager *customize.Manager
	Store   store.IStore
	Logger  logging.Logger

	db    *basic.DB
	retry retry.Config
}

// Start 启动管理器（订阅生命周期处理器并启动传输），连接失败时按传输重试策略重试
func (r *Runtime) Start(ctx context.Context) error {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.Logger.Warn(ctx, "runtime start failed, retrying",
			logging.Int("attempt", attempt), logging.Duration("delay", delay), logging.Error(err))
	}
	return retry.Do(ctx, cfg, func(ctx context.Context, _ int) error {
		return r.Manager.Start(ctx)
	})
}

// Close 关闭传输与数据库连接
func (r *Runtime) Close() error {
	err := r.Manager.Close()
	if r.db != nil {
		if cerr := r.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Build 按配置装配日志、存储、传输、判定服务与注册表
//
// opts 在配置派生的选项之后应用，可覆盖任一组件。
func Build(ctx context.Context, cfg *Config, opts ...customize.Option) (*Runtime, error) {
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logging.SetLogger(logger)

	rt := &Runtime{Logger: logger, retry: retry.Once()}
	if cfg.Transport.Kind != "sync" {
		rt.retry = cfg.Transport.Retry
	}
	changesets, err := rt.buildStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	registry, err := buildSchema(cfg)
	if err != nil {
		rt.closeDB()
		return nil, err
	}

	bus, err := buildBus(cfg.Transport, logger)
	if err != nil {
		rt.closeDB()
		return nil, err
	}

	oracle, err := buildOracle(cfg.Capability, rt.Store)
	if err != nil {
		rt.closeDB()
		return nil, err
	}

	base := []customize.Option{
		customize.WithLogger(logger.WithFields(logging.String("component", "customize"))),
		customize.WithOracle(oracle),
		customize.WithChangesets(changesets),
		customize.WithBus(bus),
		customize.WithPlaceholderStatus(content.Status(cfg.Commit.PlaceholderStatus)),
		customize.WithAllowEmptyContent(cfg.Commit.AllowEmptyContent),
		customize.WithThemeSupports(cfg.Commit.ThemeSupports...),
		customize.WithDecisionCache(cfg.Capability.CacheSize, cfg.Capability.CacheTTL),
		customize.WithPublishRetry(rt.retry),
	}
	rt.Manager = customize.NewManager(rt.Store, registry, append(base, opts...)...)
	logger.Info(ctx, "runtime built", logging.String("config", cfg.String()))
	return rt, nil
}

func (r *Runtime) closeDB() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

func buildLogger(cfg LogConfig) (logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	switch cfg.Backend {
	case "zap":
		return logging.NewZapLoggerFromConfig(level, cfg.Development)
	case "noop":
		return logging.NewNoopLogger(), nil
	default:
		return logging.NewStdLogger("[stagekit] ").WithLevel(level), nil
	}
}

func (r *Runtime) buildStore(ctx context.Context, cfg StoreConfig, logger logging.Logger) (changeset.IStore, error) {
	if cfg.Driver == "memory" {
		var opts []memory.Option
		if cfg.LockTTL > 0 {
			opts = append(opts, memory.WithLockTTL(cfg.LockTTL))
		}
		r.Store = memory.New(opts...)
		return changeset.NewMemoryStore(), nil
	}

	database, err := basic.New(core.DBConfig{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "打开数据库失败").
			WithContext("driver", cfg.Driver)
	}
	r.db = database

	opts := []sqlstore.Option{sqlstore.WithLogger(logger)}
	if cfg.LockTTL > 0 {
		opts = append(opts, sqlstore.WithLockTTL(cfg.LockTTL))
	}
	st := sqlstore.New(database, opts...)
	if err := st.Migrate(ctx); err != nil {
		r.closeDB()
		return nil, err
	}
	changesets := changeset.NewSQLStore(database)
	if err := changesets.Migrate(ctx); err != nil {
		r.closeDB()
		return nil, err
	}
	r.Store = st
	return changesets, nil
}

func buildBus(cfg TransportConfig, logger logging.Logger) (*messaging.MessageBus, error) {
	var transport messaging.Transport
	switch cfg.Kind {
	case "redis":
		t, err := redisstreams.NewTransport(redisstreams.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamPrefix: cfg.Redis.StreamPrefix,
			Group:        cfg.Redis.Group,
			Block:        cfg.Redis.Block,
			MaxLen:       cfg.Redis.MaxLen,
			Logger:       logger,
		})
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeQueue, "创建 redis 传输失败")
		}
		transport = t
	case "nats":
		transport = natsjetstream.NewTransport(natsjetstream.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			DurablePrefix: cfg.NATS.DurablePrefix,
			AckWait:       cfg.NATS.AckWait,
			Retention:     cfg.NATS.Retention,
			Logger:        logger,
		})
	default:
		transport = synctransport.NewSyncTransport()
	}
	bus := messaging.NewMessageBus(transport)
	bus.Use(middleware.NewActorMiddleware())
	bus.Use(middleware.NewLoggingMiddleware(logger))
	return bus, nil
}

func buildOracle(cfg CapabilityConfig, st store.IEntityReader) (capability.IOracle, error) {
	switch cfg.Mode {
	case "allow_all":
		return capability.AllowAll, nil
	case "static":
		return staticOracle(cfg.Grants), nil
	case "rule":
		var fallback capability.IOracle = capability.DenyAll
		if len(cfg.Grants) > 0 {
			fallback = staticOracle(cfg.Grants)
		}
		return capability.NewRuleOracle(cfg.Rules,
			capability.WithFallback(fallback),
			capability.WithOwnerLookup(ownerLookup(st)),
		)
	default:
		return capability.DenyAll, nil
	}
}

func staticOracle(grants []GrantConfig) *capability.StaticOracle {
	o := capability.NewStaticOracle()
	for _, g := range grants {
		if g.Deny {
			o.Deny(g.Role, capability.Action(g.Action), g.Fields...)
		} else {
			o.Allow(g.Role, capability.Action(g.Action), g.Fields...)
		}
	}
	return o
}

func ownerLookup(st store.IEntityReader) capability.OwnerLookup {
	return func(ctx context.Context, ref content.EntityRef) (int64, bool) {
		if ref.IsPlaceholder() {
			return 0, false
		}
		e, err := st.GetEntity(ctx, ref)
		if err != nil {
			return 0, false
		}
		return e.Author, true
	}
}

func buildSchema(cfg *Config) (*schema.Registry, error) {
	r := schema.NewDefaultRegistry(cfg.Commit.PageTemplates...)
	for _, t := range cfg.Types {
		plural := t.Plural
		if plural == "" {
			plural = t.Name + "s"
		}
		features := make([]schema.Feature, 0, len(t.Features))
		for _, f := range t.Features {
			features = append(features, schema.Feature(f))
		}
		if err := r.RegisterType(schema.EntityType{
			Name:         t.Name,
			Features:     features,
			Hierarchical: t.Hierarchical,
			Caps:         schema.DefaultCaps(plural),
		}); err != nil {
			return nil, err
		}
	}
	for _, t := range cfg.Taxonomies {
		if err := r.RegisterTaxonomy(schema.Taxonomy{
			Name:        t.Name,
			ObjectTypes: t.ObjectTypes,
			AssignCap:   t.AssignCap,
			Singleton:   t.Singleton,
		}); err != nil {
			return nil, err
		}
	}
	for _, m := range cfg.Meta {
		def := schema.MetaDef{
			Key:         m.Key,
			EntityTypes: m.EntityTypes,
			Single:      m.Single,
			Capability:  m.Capability,
			Sanitize:    sanitizerFor(m.Kind),
			Default:     m.Default,
		}
		if err := r.RegisterMeta(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sanitizerFor(kind string) schema.MetaSanitizeFunc {
	switch kind {
	case "int":
		return func(_ context.Context, value any) (any, error) {
			n, ok := content.CoerceInt64(value)
			if !ok {
				return nil, errors.NewError(errors.ErrCodeInvalidMetaValue, fmt.Sprintf("期望整数，得到 %v", value))
			}
			return n, nil
		}
	case "bool":
		return func(_ context.Context, value any) (any, error) {
			switch v := value.(type) {
			case bool:
				return v, nil
			case string:
				b, err := strconv.ParseBool(strings.TrimSpace(v))
				if err != nil {
					return nil, errors.WrapError(err, errors.ErrCodeInvalidMetaValue, "期望布尔值")
				}
				return b, nil
			}
			if n, ok := content.CoerceInt64(value); ok {
				return n != 0, nil
			}
			return nil, errors.NewError(errors.ErrCodeInvalidMetaValue, fmt.Sprintf("期望布尔值，得到 %v", value))
		}
	case "string":
		return func(_ context.Context, value any) (any, error) {
			return content.CoerceString(value), nil
		}
	default:
		return nil
	}
}
