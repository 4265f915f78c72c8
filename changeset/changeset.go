// Package changeset 持久化会话快照（变更集）
//
// 变更集记录一个会话提交的全部原始值，使会话在正式提交前就能被持久保存；
// 草稿生命周期以它为依据决定占位实体是否仍被引用。
package changeset

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stagekit/errors"
	"stagekit/validation"
)

// Status 变更集状态
type Status string

const (
	StatusDraft   Status = "draft"
	StatusPublish Status = "publish"
	StatusTrash   Status = "trash"
)

// Open 是否仍可继续编辑
func (s Status) Open() bool {
	return s == StatusDraft
}

// Changeset 会话快照
type Changeset struct {
	UUID   string `json:"uuid" validate:"required,uuid"`
	Status Status `json:"status" validate:"required,oneof=draft publish trash"`
	Author int64  `json:"author" validate:"gte=0"`
	// Values 设置标识 → 客户端原始值
	Values   map[string]any `json:"values"`
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
}

// New 创建草稿变更集
func New(author int64, values map[string]any, now time.Time) *Changeset {
	return &Changeset{
		UUID:     uuid.NewString(),
		Status:   StatusDraft,
		Author:   author,
		Values:   copyValues(values),
		Created:  now,
		Modified: now,
	}
}

// Validate 结构校验
func (c *Changeset) Validate() error {
	return validation.Struct(c)
}

// Clone 深拷贝顶层值映射
func (c *Changeset) Clone() *Changeset {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Values = copyValues(c.Values)
	return &cp
}

// IStore 变更集存储
type IStore interface {
	// Get 不存在时返回 NOT_FOUND
	Get(ctx context.Context, id string) (*Changeset, error)
	// Save 插入或整体覆盖
	Save(ctx context.Context, c *Changeset) error
	SetStatus(ctx context.Context, id string, status Status) error
	ListByStatus(ctx context.Context, status Status) ([]*Changeset, error)
}

// NotFound 变更集不存在
func NotFound(id string) error {
	return errors.Newf(errors.ErrCodeNotFound, "changeset %s not found", id).WithContext("uuid", id)
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
