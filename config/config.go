// Package config 进程级配置：YAML 文档 + 环境变量覆盖
//
// 配置由 Default() 提供基线，YAML 中出现的键覆盖基线，随后应用 STAGEKIT_*
// 环境变量，最后以 struct tag 校验。Build 按配置装配 customize.Manager。
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stagekit/capability"
	"stagekit/errors"
	"stagekit/retry"
	"stagekit/validation"
)

// 环境变量
const (
	EnvLogLevel      = "STAGEKIT_LOG_LEVEL"
	EnvLogBackend    = "STAGEKIT_LOG_BACKEND"
	EnvStoreDriver   = "STAGEKIT_STORE_DRIVER"
	EnvStoreDSN      = "STAGEKIT_STORE_DSN"
	EnvTransportKind = "STAGEKIT_TRANSPORT_KIND"
	EnvRedisAddr     = "STAGEKIT_REDIS_ADDR"
	EnvNATSURL       = "STAGEKIT_NATS_URL"
)

// Config 顶层配置
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Transport  TransportConfig  `yaml:"transport"`
	Capability CapabilityConfig `yaml:"capability"`
	Commit     CommitConfig     `yaml:"commit"`
	Types      []TypeConfig     `yaml:"types" validate:"dive"`
	Taxonomies []TaxonomyConfig `yaml:"taxonomies" validate:"dive"`
	Meta       []MetaConfig     `yaml:"meta" validate:"dive"`
}

// LogConfig 日志
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Backend     string `yaml:"backend" validate:"oneof=std zap noop"`
	Development bool   `yaml:"development"`
}

// StoreConfig 内容存储与变更集存储
type StoreConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN             string        `yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime int           `yaml:"conn_max_lifetime" validate:"gte=0"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gte=0"`
}

// TransportConfig 生命周期事件传输
//
// Retry 作用于 redis/nats 的启动连接与事件发布；sync 传输不重试。
type TransportConfig struct {
	Kind  string       `yaml:"kind" validate:"oneof=sync redis nats"`
	Redis RedisConfig  `yaml:"redis"`
	NATS  NATSConfig   `yaml:"nats"`
	Retry retry.Config `yaml:"retry"`
}

// RedisConfig Redis Streams 传输
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	StreamPrefix string        `yaml:"stream_prefix"`
	Group        string        `yaml:"group"`
	Block        time.Duration `yaml:"block"`
	MaxLen       int64         `yaml:"max_len" validate:"gte=0"`
}

// NATSConfig JetStream 传输
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	DurablePrefix string        `yaml:"durable_prefix"`
	AckWait       time.Duration `yaml:"ack_wait"`
	Retention     string        `yaml:"retention" validate:"omitempty,oneof=workqueue limits interest"`
}

// CapabilityConfig 能力判定
//
// mode=static 使用 grants；mode=rule 使用 rules 并以 grants 构成的静态判定兜底。
type CapabilityConfig struct {
	Mode      string            `yaml:"mode" validate:"oneof=allow_all deny_all static rule"`
	Grants    []GrantConfig     `yaml:"grants" validate:"dive"`
	Rules     []capability.Rule `yaml:"rules"`
	CacheSize int               `yaml:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration     `yaml:"cache_ttl" validate:"gte=0"`
}

// GrantConfig 角色授权；fields 为空表示任意字段
type GrantConfig struct {
	Role   string   `yaml:"role" validate:"required"`
	Action string   `yaml:"action" validate:"required"`
	Fields []string `yaml:"fields"`
	Deny   bool     `yaml:"deny"`
}

// CommitConfig 提交行为
type CommitConfig struct {
	PlaceholderStatus string   `yaml:"placeholder_status" validate:"oneof=publish draft pending private future"`
	AllowEmptyContent bool     `yaml:"allow_empty_content"`
	ThemeSupports     []string `yaml:"theme_supports"`
	PageTemplates     []string `yaml:"page_templates"`
}

// TypeConfig 额外注册的实体类型
type TypeConfig struct {
	Name         string   `yaml:"name" validate:"required,key"`
	Plural       string   `yaml:"plural"`
	Features     []string `yaml:"features" validate:"dive,required"`
	Hierarchical bool     `yaml:"hierarchical"`
}

// TaxonomyConfig 额外注册的分类法
type TaxonomyConfig struct {
	Name        string   `yaml:"name" validate:"required,key"`
	ObjectTypes []string `yaml:"object_types" validate:"min=1,dive,required"`
	AssignCap   string   `yaml:"assign_cap"`
	Singleton   bool     `yaml:"singleton"`
}

// MetaConfig 额外注册的元数据键
type MetaConfig struct {
	Key         string   `yaml:"key" validate:"required"`
	EntityTypes []string `yaml:"entity_types"`
	Single      bool     `yaml:"single"`
	// Kind 值净化方式
	Kind       string `yaml:"kind" validate:"omitempty,oneof=string int bool"`
	Capability string `yaml:"capability"`
	Default    any    `yaml:"default"`
}

// Default 默认配置：内存存储 + 进程内同步传输 + 全部拒绝
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Backend: "std"},
		Store: StoreConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Transport: TransportConfig{
			Kind: "sync",
			Redis: RedisConfig{
				StreamPrefix: "stagekit:",
				Group:        "stagekit",
			},
			NATS: NATSConfig{
				Stream:        "STAGEKIT",
				SubjectPrefix: "stagekit",
				DurablePrefix: "stagekit",
			},
			Retry: retry.DefaultConfig(),
		},
		Capability: CapabilityConfig{
			Mode:      "deny_all",
			CacheSize: 1024,
			CacheTTL:  time.Minute,
		},
		Commit: CommitConfig{PlaceholderStatus: "publish"},
	}
}

// Load 读取 YAML 文件，展开 ${VAR} 引用并应用环境变量覆盖
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "读取配置文件失败").
			WithContext("path", path)
	}
	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Parse 在默认配置之上解析 YAML；不读取环境变量
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput, "解析配置失败")
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ApplyEnv 以 STAGEKIT_* 环境变量覆盖配置
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvLogLevel, &c.Log.Level)
	set(EnvLogBackend, &c.Log.Backend)
	set(EnvStoreDriver, &c.Store.Driver)
	set(EnvStoreDSN, &c.Store.DSN)
	set(EnvTransportKind, &c.Transport.Kind)
	set(EnvRedisAddr, &c.Transport.Redis.Addr)
	set(EnvNATSURL, &c.Transport.NATS.URL)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	switch c.Transport.Kind {
	case "redis":
		if c.Transport.Redis.Addr == "" {
			return errors.NewFieldError(errors.ErrCodeValidation, "transport.redis.addr",
				"redis 传输需要配置 addr")
		}
	case "nats":
		if c.Transport.NATS.URL == "" {
			return errors.NewFieldError(errors.ErrCodeValidation, "transport.nats.url",
				"nats 传输需要配置 url")
		}
	}
	if c.Capability.Mode == "rule" && len(c.Capability.Rules) == 0 {
		return errors.NewFieldError(errors.ErrCodeValidation, "capability.rules",
			"rule 模式至少需要一条规则")
	}
	for i, r := range c.Capability.Rules {
		if r.Action == "" || strings.TrimSpace(r.Expr) == "" {
			return errors.NewFieldError(errors.ErrCodeValidation,
				"capability.rules["+strconv.Itoa(i)+"]", "规则需要 action 与 expr")
		}
	}
	return nil
}

// String 摘要，不输出凭据
func (c *Config) String() string {
	return fmt.Sprintf("log=%s/%s store=%s transport=%s capability=%s",
		c.Log.Backend, c.Log.Level, c.Store.Driver, c.Transport.Kind, c.Capability.Mode)
}
