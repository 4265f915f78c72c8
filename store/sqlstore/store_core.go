// Package sqlstore 提供基于关系数据库的实体存储适配器
//
// 语句通过 squirrel 构造，执行经由 data/db 抽象，支持 sqlite 与 postgres。
// 时间戳以 UTC 纳秒整数存储，0 表示零值时间。
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	core "stagekit/data/db"
	"stagekit/data/db/dialect"
	log "stagekit/logging"
	"stagekit/store"
)

const (
	tableEntities      = "entities"
	tableEntityMeta    = "entity_meta"
	tableTerms         = "terms"
	tableRelationships = "term_relationships"
	tableEditLocks     = "edit_locks"
)

var entityColumns = []string{
	"id", "type", "author", "date_ns", "title", "content", "excerpt", "status", "name",
	"parent", "menu_order", "comment_status", "ping_status", "password", "modified_ns", "modified_by",
}

// Store SQL 实体存储
type Store struct {
	db      core.IDatabase
	dialect dialect.Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
	lockTTL time.Duration
	logger  log.Logger

	mu           sync.Mutex
	lastModified int64
}

// Option 配置项
type Option func(*Store)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLockTTL 设置编辑锁有效期
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New 创建 SQL 存储；方言从 db 推断，无法推断时按 sqlite 处理
func New(database core.IDatabase, opts ...Option) *Store {
	d := dialect.FromDatabase(database)
	if d.Name() == dialect.NameUnknown {
		d = dialect.New(string(dialect.NameSQLite))
	}
	s := &Store{
		db:      database,
		dialect: d,
		sb:      d.Builder(),
		now:     time.Now,
		lockTTL: store.DefaultEditLockTTL,
		logger:  log.ComponentLogger("store.sql"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.IStore = (*Store)(nil)

// Schema 返回当前方言的建表语句
func Schema(d dialect.Dialect) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
	{{id}},
	type TEXT NOT NULL,
	author {{int}} NOT NULL DEFAULT 0,
	date_ns {{int}} NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	excerpt TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	name TEXT NOT NULL DEFAULT '',
	parent {{int}} NOT NULL DEFAULT 0,
	menu_order {{int}} NOT NULL DEFAULT 0,
	comment_status TEXT NOT NULL DEFAULT '',
	ping_status TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	modified_ns {{int}} NOT NULL DEFAULT 0,
	modified_by {{int}} NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_status ON entities (status)`,
		`CREATE TABLE IF NOT EXISTS entity_meta (
	{{id}},
	entity_type TEXT NOT NULL,
	entity_id {{int}} NOT NULL,
	meta_key TEXT NOT NULL,
	meta_value TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_meta_key ON entity_meta (entity_type, entity_id, meta_key)`,
		`CREATE TABLE IF NOT EXISTS terms (
	{{id}},
	taxonomy TEXT NOT NULL,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	parent {{int}} NOT NULL DEFAULT 0
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_terms_slug ON terms (taxonomy, slug)`,
		`CREATE TABLE IF NOT EXISTS term_relationships (
	entity_type TEXT NOT NULL,
	entity_id {{int}} NOT NULL,
	taxonomy TEXT NOT NULL,
	term_id {{int}} NOT NULL,
	position {{int}} NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, entity_id, taxonomy, term_id)
)`,
		`CREATE TABLE IF NOT EXISTS edit_locks (
	entity_type TEXT NOT NULL,
	entity_id {{int}} NOT NULL,
	holder {{int}} NOT NULL,
	locked_at_ns {{int}} NOT NULL,
	PRIMARY KEY (entity_type, entity_id)
)`,
	}
	r := strings.NewReplacer("{{id}}", d.IDColumn(), "{{int}}", d.BigInt())
	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}
	return stmts
}

// Migrate 创建所需的表与索引（幂等）
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.dialect) {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	s.logger.Debug(ctx, "schema migrated", log.String("dialect", string(s.dialect.Name())))
	return nil
}

// tick 返回严格递增的修改时间（纳秒）
//
// 首次调用时以库中最大修改时间作为下界，保证跨进程重启后仍单调。
func (s *Store) tick(ctx context.Context, q core.IQuerier) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastModified == 0 {
		var maxNS int64
		query, args, err := s.sb.Select("COALESCE(MAX(modified_ns), 0)").From(tableEntities).ToSql()
		if err != nil {
			return 0, err
		}
		if err := q.QueryRow(ctx, query, args...).Scan(&maxNS); err != nil {
			return 0, fmt.Errorf("sqlstore: read max modified: %w", err)
		}
		s.lastModified = maxNS
	}
	t := s.now().UTC().UnixNano()
	if t <= s.lastModified {
		t = s.lastModified + int64(time.Microsecond)
	}
	s.lastModified = t
	return t, nil
}

func (s *Store) exec(ctx context.Context, q core.IQuerier, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("sqlstore: build query: %w", err)
	}
	_, err = q.Exec(ctx, query, args...)
	return err
}

func (s *Store) query(ctx context.Context, q core.IQuerier, b sq.Sqlizer) (core.IRows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build query: %w", err)
	}
	return q.Query(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, q core.IQuerier, b sq.Sqlizer) core.IRow {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{err: fmt.Errorf("sqlstore: build query: %w", err)}
	}
	return q.QueryRow(ctx, query, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}
