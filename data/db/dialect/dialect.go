// Package dialect sqlite 与 postgres 的语句差异
package dialect

import (
	"errors"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	core "stagekit/data/db"
)

// Name 方言名
type Name string

const (
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// pq 的唯一约束冲突码
const pgUniqueViolation = "23505"

// Dialect 方言
type Dialect struct {
	name Name
}

// New 解析方言名，大小写不敏感
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pq":
		return Dialect{name: NamePostgres}
	}
	return Dialect{name: NameUnknown}
}

// FromDatabase 从实现了 DialectNamer 的数据库推断方言
func FromDatabase(db core.IDatabase) Dialect {
	if n, ok := db.(core.DialectNamer); ok {
		return New(n.DialectName())
	}
	return Dialect{name: NameUnknown}
}

func (d Dialect) Name() Name { return d.name }

// DriverName database/sql 注册的驱动名
func (d Dialect) DriverName() string { return string(d.name) }

// Rebind 把 ? 改写为 $n（仅 postgres），单引号字面量内的 ? 保持不变
func (d Dialect) Rebind(query string) string {
	if d.name != NamePostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n, quoted := 0, false
	for i := 0; i < len(query); i++ {
		switch c := query[i]; {
		case c == '\'':
			quoted = !quoted
			sb.WriteByte(c)
		case c == '?' && !quoted:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Builder 绑定方言占位符的 squirrel 构造器
func (d Dialect) Builder() sq.StatementBuilderType {
	if d.name == NamePostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// IDColumn 自增主键列定义
func (d Dialect) IDColumn() string {
	if d.name == NamePostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// BigInt 64 位整数列类型
func (d Dialect) BigInt() string {
	if d.name == NamePostgres {
		return "BIGINT"
	}
	return "INTEGER"
}

// UpsertSuffix 主键冲突时覆盖写入的 ON CONFLICT 子句
func (d Dialect) UpsertSuffix(conflictCols, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = c + " = excluded." + c
	}
	return "ON CONFLICT (" + strings.Join(conflictCols, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// IsUniqueViolation 唯一约束冲突；postgres 按 SQLSTATE 判定，sqlite 按错误消息判定
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	msg := strings.ToLower(err.Error())
	if d.name == NameSQLite {
		return strings.Contains(msg, "unique constraint failed")
	}
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
