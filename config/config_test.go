package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/capability"
	"stagekit/changeset"
	"stagekit/content"
	"stagekit/customize"
	"stagekit/errors"
	"stagekit/store/memory"
	"stagekit/store/sqlstore"
)

const sampleYAML = `
log:
  level: debug
  backend: noop
store:
  driver: memory
  lock_ttl: 90s
transport:
  kind: sync
  redis:
    addr: localhost:6379
capability:
  mode: rule
  cache_ttl: 30s
  grants:
    - role: editor
      action: assign_terms
  rules:
    - action: edit_post
      expr: owner == actor_id
commit:
  placeholder_status: draft
  allow_empty_content: true
  page_templates: [wide.php, narrow.php]
types:
  - name: product
    features: [title, editor]
taxonomies:
  - name: brand
    object_types: [product]
    singleton: true
meta:
  - key: price
    entity_types: [product]
    single: true
    kind: int
`

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "sync", cfg.Transport.Kind)
	assert.Equal(t, "deny_all", cfg.Capability.Mode)
	assert.Equal(t, "publish", cfg.Commit.PlaceholderStatus)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Store.LockTTL)
	assert.Equal(t, "localhost:6379", cfg.Transport.Redis.Addr)
	// 未出现的键保留默认值
	assert.Equal(t, "stagekit", cfg.Transport.Redis.Group)
	assert.Equal(t, 1024, cfg.Capability.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Capability.CacheTTL)

	require.Len(t, cfg.Capability.Rules, 1)
	assert.Equal(t, capability.ActionEditPost, cfg.Capability.Rules[0].Action)
	assert.Equal(t, "owner == actor_id", cfg.Capability.Rules[0].Expr)
	assert.Equal(t, []string{"wide.php", "narrow.php"}, cfg.Commit.PageTemplates)
	require.Len(t, cfg.Meta, 1)
	assert.Equal(t, "int", cfg.Meta[0].Kind)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("log: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:      "WARN",
		EnvStoreDriver:   "sqlite",
		EnvStoreDSN:      "file:test.db",
		EnvTransportKind: "nats",
		EnvNATSURL:       "nats://127.0.0.1:4222",
		EnvRedisAddr:     "   ",
	}
	cfg := Default()
	cfg.Transport.Redis.Addr = "keep:6379"
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "std", cfg.Log.Backend)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:test.db", cfg.Store.DSN)
	assert.Equal(t, "nats", cfg.Transport.Kind)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Transport.NATS.URL)
	assert.Equal(t, "keep:6379", cfg.Transport.Redis.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExpandsAndOverrides(t *testing.T) {
	t.Setenv("PREVIEW_DSN", "file:from-ref.db")
	t.Setenv(EnvLogBackend, "zap")

	path := filepath.Join(t.TempDir(), "stagekit.yaml")
	doc := "store:\n  driver: sqlite\n  dsn: ${PREVIEW_DSN}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:from-ref.db", cfg.Store.DSN)
	assert.Equal(t, "zap", cfg.Log.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown backend", func(c *Config) { c.Log.Backend = "logrus" }},
		{"sql driver without dsn", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql"; c.Store.DSN = "x" }},
		{"redis without addr", func(c *Config) { c.Transport.Kind = "redis" }},
		{"nats without url", func(c *Config) { c.Transport.Kind = "nats" }},
		{"rule mode without rules", func(c *Config) { c.Capability.Mode = "rule" }},
		{"rule without expr", func(c *Config) {
			c.Capability.Mode = "rule"
			c.Capability.Rules = []capability.Rule{{Action: capability.ActionEditPost}}
		}},
		{"grant without role", func(c *Config) {
			c.Capability.Mode = "static"
			c.Capability.Grants = []GrantConfig{{Action: "edit_post"}}
		}},
		{"bad placeholder status", func(c *Config) { c.Commit.PlaceholderStatus = "trash" }},
		{"bad type name", func(c *Config) { c.Types = []TypeConfig{{Name: "bad name"}} }},
		{"taxonomy without object types", func(c *Config) { c.Taxonomies = []TaxonomyConfig{{Name: "brand"}} }},
		{"meta with unknown kind", func(c *Config) { c.Meta = []MetaConfig{{Key: "price", Kind: "float"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), err.Error())
		})
	}
}

func TestBuild_Memory(t *testing.T) {
	ctx := context.Background()
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg.Capability.Mode = "allow_all"

	rt, err := Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() { _ = rt.Close() })

	st, ok := rt.Store.(*memory.Store)
	require.True(t, ok)

	sch := rt.Manager.Schema()
	_, ok = sch.Type("product")
	assert.True(t, ok)
	brand, ok := sch.Taxonomy("brand")
	require.True(t, ok)
	assert.True(t, brand.Singleton)
	assert.Equal(t, []string{"wide.php", "narrow.php"}, sch.PageTemplates())

	product := content.Ref("product", 7)
	st.Seed(&content.Entity{Ref: product, Author: 1, Title: "Lamp", Status: content.StatusPublish})

	s := rt.Manager.NewSession(capability.Actor{ID: 1, Login: "alice", Roles: []string{"editor"}})
	require.NoError(t, s.SetRawValue(ctx, "postmeta[product][7][price]", "12"))
	resp, err := s.Commit(ctx, customize.CommitOptions{})
	require.NoError(t, err)
	require.True(t, resp.OK(), resp.Failed())

	price, err := st.GetMeta(ctx, product, "price")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(12)}, price)
}

func TestBuild_RuleOracle(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	post := content.Ref("post", 3)
	st.Seed(&content.Entity{Ref: post, Author: 1, Title: "Mine", Status: content.StatusPublish})

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	oracle, err := buildOracle(cfg.Capability, st)
	require.NoError(t, err)

	owner := capability.Actor{ID: 1, Roles: []string{"editor"}}
	other := capability.Actor{ID: 2, Roles: []string{"editor"}}
	assert.True(t, oracle.CanActorPerform(ctx, owner, capability.ActionEditPost, post, ""))
	assert.False(t, oracle.CanActorPerform(ctx, other, capability.ActionEditPost, post, ""))
	// 无匹配规则时落到静态授权
	assert.True(t, oracle.CanActorPerform(ctx, other, capability.ActionAssignTerms, post, "category"))
	assert.False(t, oracle.CanActorPerform(ctx, other, capability.ActionPublishPosts, post, ""))
}

func TestBuild_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Log.Backend = "noop"
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = ":memory:"
	cfg.Store.MaxOpenConns = 1
	cfg.Capability.Mode = "allow_all"

	rt, err := Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() { _ = rt.Close() })

	_, ok := rt.Store.(*sqlstore.Store)
	require.True(t, ok)

	cs := changeset.New(1, map[string]any{"post[post][1]": map[string]any{"title": "x"}}, time.Now())
	require.NoError(t, rt.Manager.Changesets().Save(ctx, cs))
	got, err := rt.Manager.Changesets().Get(ctx, cs.UUID)
	require.NoError(t, err)
	assert.Equal(t, changeset.StatusDraft, got.Status)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "sqlite"
	_, err := Build(context.Background(), cfg)
	assert.True(t, errors.IsValidation(err))
}
