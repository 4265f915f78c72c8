// Package store 定义预览引擎消费的实体存储适配器契约
//
// 核心把存储当作黑盒 CRUD 后端：实体标识、修改时间戳与状态字段都由存储维护，
// 且每次成功写入都必须原子地推进修改时间戳（冲突检测的唯一依据）。
package store

import (
	"context"
	"time"

	"stagekit/content"
)

// IEntityReader 实体读取
type IEntityReader interface {
	// GetEntity 读取实体；不存在时返回 ErrEntityNotFound
	GetEntity(ctx context.Context, ref content.EntityRef) (*content.Entity, error)
}

// IMetaReader 元数据读取
type IMetaReader interface {
	// GetMeta 读取某个键的全部值（按写入顺序）；键不存在时返回空切片
	GetMeta(ctx context.Context, ref content.EntityRef, key string) ([]any, error)

	// GetAllMeta 批量读取实体的全部元数据
	GetAllMeta(ctx context.Context, ref content.EntityRef) (map[string][]any, error)
}

// ITermReader 分类项读取
type ITermReader interface {
	// GetTerms 读取实体在某分类法下的分类项，结果形状由 mode 决定
	GetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, mode content.TermFields) (content.TermList, error)

	// GetTerm 读取单个分类项；不存在时返回 ErrTermNotFound
	GetTerm(ctx context.Context, taxonomy string, id int64) (*content.Term, error)

	// GetTermBySlug 按 slug 读取分类项；不存在时返回 ErrTermNotFound
	GetTermBySlug(ctx context.Context, taxonomy, slug string) (*content.Term, error)
}

// IReader 全部读路径；预览覆盖层拦截的就是这一组方法
type IReader interface {
	IEntityReader
	IMetaReader
	ITermReader
}

// IWriter 写路径
type IWriter interface {
	// UpsertEntity 写入实体字段；ref 为占位引用（负 ID）或 ID 为 0 时创建新实体，
	// 返回落库后的真实引用
	UpsertEntity(ctx context.Context, ref content.EntityRef, fields content.Fields) (content.EntityRef, error)

	// TrashEntity 将实体移入回收站
	TrashEntity(ctx context.Context, ref content.EntityRef) (bool, error)

	// SetEntityStatus 仅修改实体状态（草稿生命周期迁移使用）
	SetEntityStatus(ctx context.Context, ref content.EntityRef, status content.Status) error

	// UpdateMeta 以单值替换某键全部值
	UpdateMeta(ctx context.Context, ref content.EntityRef, key string, value any) error

	// AddMeta 追加一个值
	AddMeta(ctx context.Context, ref content.EntityRef, key string, value any) error

	// DeleteMeta 删除某键等于 value 的值；value 为 nil 时删除该键全部值
	DeleteMeta(ctx context.Context, ref content.EntityRef, key string, value any) error

	// ReplaceMeta 以 values 原子地替换某键全部值；values 为空时删除该键
	ReplaceMeta(ctx context.Context, ref content.EntityRef, key string, values []any) error

	// SetTerms 以给定 ID 集合替换实体在某分类法下的分配
	SetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, termIDs []int64) (bool, error)

	// InsertTerm 创建分类项，返回新 ID
	InsertTerm(ctx context.Context, taxonomy, name, slug string) (int64, error)
}

// ILocker 编辑锁（建议性互斥）
type ILocker interface {
	// GetEditLockHolder 返回当前有效锁的持有者
	GetEditLockHolder(ctx context.Context, ref content.EntityRef) (holder int64, locked bool, err error)

	// SetEditLock 为 actor 获取/刷新编辑锁
	SetEditLock(ctx context.Context, ref content.EntityRef, actor int64) error
}

// IStatusLister 按状态列出实体（草稿对账使用）
type IStatusLister interface {
	ListByStatus(ctx context.Context, status content.Status) ([]content.EntityRef, error)
}

// IStore 完整的实体存储适配器
type IStore interface {
	IReader
	IWriter
	ILocker
	IStatusLister
}

// DefaultEditLockTTL 编辑锁默认有效期
const DefaultEditLockTTL = 150 * time.Second

// SingleMeta 取多值元数据的第一个值；为空时返回 nil
func SingleMeta(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
