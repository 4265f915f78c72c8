// Package db SQL 存储适配器使用的最小数据库抽象
//
// sqlstore 与 changeset 只依赖 IQuerier/IDatabase，测试可换成 sqlmock 或内存 sqlite。
// 语句统一使用 ? 占位符，由实现按方言改写。
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// IQuerier 读写语句；连接与事务都实现它
type IQuerier interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// IDatabase 连接池
type IDatabase interface {
	IQuerier
	Begin(ctx context.Context) (ITransaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// ITransaction 单个事务；不支持嵌套
type ITransaction interface {
	IQuerier
	Commit() error
	Rollback() error
}

// DialectNamer 可选接口：报告底层方言名称
type DialectNamer interface {
	DialectName() string
}

// IRows 结果集；*sql.Rows 满足该接口
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// IRow 单行结果；*sql.Row 满足该接口
type IRow interface {
	Scan(dest ...any) error
}

// DBConfig 连接配置
type DBConfig struct {
	Driver          string // sqlite | postgres
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // 秒
}

// WithTx 在事务中执行 fn：fn 返回错误或 panic 时回滚，否则提交
func WithTx(ctx context.Context, database IDatabase, fn func(q IQuerier) error) (err error) {
	tx, err := database.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
