package changeset

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	core "stagekit/data/db"
	"stagekit/data/db/dialect"
	"stagekit/errors"
)

const tableChangesets = "changesets"

// SQLStore 关系数据库变更集存储，原始值以 JSON 文本保存
type SQLStore struct {
	db      core.IDatabase
	dialect dialect.Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
}

// NewSQLStore 创建 SQL 存储
func NewSQLStore(database core.IDatabase) *SQLStore {
	d := dialect.FromDatabase(database)
	if d.Name() == dialect.NameUnknown {
		d = dialect.New(string(dialect.NameSQLite))
	}
	return &SQLStore{db: database, dialect: d, sb: d.Builder(), now: time.Now}
}

var _ IStore = (*SQLStore)(nil)

// Migrate 建表（幂等）
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS changesets (
	uuid TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	author %[1]s NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	created_ns %[1]s NOT NULL,
	modified_ns %[1]s NOT NULL
)`, s.dialect.BigInt()),
		`CREATE INDEX IF NOT EXISTS idx_changesets_status ON changesets (status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return errors.WrapError(err, errors.ErrCodeDatabase, "migrate changesets")
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Changeset, error) {
	query, args, err := s.sb.Select("uuid", "status", "author", "payload", "created_ns", "modified_ns").
		From(tableChangesets).Where(sq.Eq{"uuid": id}).ToSql()
	if err != nil {
		return nil, err
	}
	c, err := scanChangeset(s.db.QueryRow(ctx, query, args...))
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "get changeset")
	}
	return c, nil
}

func (s *SQLStore) Save(ctx context.Context, c *Changeset) error {
	if err := c.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(c.Values)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "encode changeset values")
	}
	query, args, err := s.sb.Insert(tableChangesets).
		Columns("uuid", "status", "author", "payload", "created_ns", "modified_ns").
		Values(c.UUID, string(c.Status), c.Author, string(payload), toNanos(c.Created), toNanos(c.Modified)).
		Suffix(s.dialect.UpsertSuffix([]string{"uuid"}, []string{"status", "author", "payload", "modified_ns"})).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "save changeset")
	}
	return nil
}

func (s *SQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	query, args, err := s.sb.Update(tableChangesets).
		Set("status", string(status)).
		Set("modified_ns", toNanos(s.now())).
		Where(sq.Eq{"uuid": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "update changeset status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFound(id)
	}
	return nil
}

func (s *SQLStore) ListByStatus(ctx context.Context, status Status) ([]*Changeset, error) {
	query, args, err := s.sb.Select("uuid", "status", "author", "payload", "created_ns", "modified_ns").
		From(tableChangesets).Where(sq.Eq{"status": string(status)}).OrderBy("uuid").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "list changesets")
	}
	defer rows.Close()
	var out []*Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "scan changeset")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChangeset(row scanner) (*Changeset, error) {
	var (
		c                Changeset
		status, payload  string
		createdNS, modNS int64
	)
	if err := row.Scan(&c.UUID, &status, &c.Author, &payload, &createdNS, &modNS); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.Created = fromNanos(createdNS)
	c.Modified = fromNanos(modNS)
	if err := json.Unmarshal([]byte(payload), &c.Values); err != nil {
		return nil, fmt.Errorf("decode changeset payload: %w", err)
	}
	if c.Values == nil {
		c.Values = map[string]any{}
	}
	return &c, nil
}

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
