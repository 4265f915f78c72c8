// Package basic 基于 database/sql 的 IDatabase 实现
package basic

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	core "stagekit/data/db"
	"stagekit/data/db/dialect"
)

const pingTimeout = 3 * time.Second

// DB 连接池；语句执行前按方言改写占位符
type DB struct {
	pool    *sql.DB
	dialect dialect.Dialect
}

var (
	_ core.IDatabase    = (*DB)(nil)
	_ core.DialectNamer = (*DB)(nil)
)

// New 打开并探活连接
//
// 驱动需由调用方注册，如 _ "modernc.org/sqlite" 或 _ "github.com/lib/pq"。
func New(cfg core.DBConfig) (*DB, error) {
	d := dialect.New(cfg.Driver)
	if d.Name() == dialect.NameUnknown {
		return nil, fmt.Errorf("basic: unsupported driver %q", cfg.Driver)
	}
	pool, err := sql.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("basic: ping %s: %w", d.Name(), err)
	}
	return &DB{pool: pool, dialect: d}, nil
}

// Wrap 包装已打开的连接池（sqlmock 或外部连接）
func Wrap(pool *sql.DB, driver string) *DB {
	return &DB{pool: pool, dialect: dialect.New(driver)}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.pool.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return d.pool.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.pool.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.pool.PingContext(ctx) }
func (d *DB) Close() error                   { return d.pool.Close() }

func (d *DB) DialectName() string { return string(d.dialect.Name()) }
