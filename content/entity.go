// Package content 定义预览引擎操作的内容实体模型
//
// 实体以 (Type, ID) 唯一标识；ID 为负数表示会话内尚未落库的客户端占位实体。
package content

import (
	"fmt"
	"time"
)

// EntityRef 实体引用
type EntityRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Ref 构造实体引用
func Ref(entityType string, id int64) EntityRef {
	return EntityRef{Type: entityType, ID: id}
}

// IsPlaceholder 是否为客户端占位引用（负 ID）
func (r EntityRef) IsPlaceholder() bool {
	return r.ID < 0
}

// IsZero 是否为空引用
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Status 实体状态
type Status string

const (
	StatusPublish        Status = "publish"
	StatusFuture         Status = "future"
	StatusDraft          Status = "draft"
	StatusPending        Status = "pending"
	StatusPrivate        Status = "private"
	StatusTrash          Status = "trash"
	StatusAutoDraft      Status = "auto-draft"      // 存储原生的可回收占位状态
	StatusCustomizeDraft Status = "customize-draft" // 会话快照持有期间的不可回收状态
)

// IsPlaceholder 是否为占位状态
func (s Status) IsPlaceholder() bool {
	return s == StatusAutoDraft || s == StatusCustomizeDraft
}

// IsTerminal 是否为终态（离开占位处理）
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublish, StatusFuture, StatusDraft, StatusPending, StatusPrivate, StatusTrash:
		return true
	}
	return false
}

// IsUnpublished 草稿类状态：不自动生成 slug，日期清零
func (s Status) IsUnpublished() bool {
	return s == StatusDraft || s == StatusPending || s == StatusAutoDraft
}

// KnownStatus 是否为已知状态
func KnownStatus(s Status) bool {
	return s.IsTerminal() || s.IsPlaceholder()
}

// Entity 存储中的实体快照
type Entity struct {
	Ref           EntityRef
	Author        int64
	Date          time.Time
	Title         string
	Content       string
	Excerpt       string
	Status        Status
	Name          string
	Parent        int64
	MenuOrder     int
	CommentStatus string
	PingStatus    string
	Password      string
	Modified      time.Time
	ModifiedBy    int64
}

// Clone 返回副本
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Fields 导出为字段集合（包含全部默认字段）
func (e *Entity) Fields() Fields {
	return Fields{
		FieldType:          e.Ref.Type,
		FieldAuthor:        e.Author,
		FieldDate:          e.Date,
		FieldTitle:         e.Title,
		FieldContent:       e.Content,
		FieldExcerpt:       e.Excerpt,
		FieldStatus:        e.Status,
		FieldName:          e.Name,
		FieldParent:        e.Parent,
		FieldMenuOrder:     e.MenuOrder,
		FieldCommentStatus: e.CommentStatus,
		FieldPingStatus:    e.PingStatus,
		FieldPassword:      e.Password,
		FieldModified:      e.Modified,
	}
}

// Apply 将已净化的字段写入实体副本；未出现的字段保持原值
func (e *Entity) Apply(f Fields) *Entity {
	out := e.Clone()
	if out == nil {
		out = &Entity{}
	}
	for key, v := range f {
		switch key {
		case FieldAuthor:
			out.Author, _ = CoerceInt64(v)
		case FieldDate:
			if t, ok := v.(time.Time); ok {
				out.Date = t
			}
		case FieldTitle:
			out.Title, _ = v.(string)
		case FieldContent:
			out.Content, _ = v.(string)
		case FieldExcerpt:
			out.Excerpt, _ = v.(string)
		case FieldStatus:
			out.Status = toStatus(v)
		case FieldName:
			out.Name, _ = v.(string)
		case FieldParent:
			out.Parent, _ = CoerceInt64(v)
		case FieldMenuOrder:
			n, _ := CoerceInt64(v)
			out.MenuOrder = int(n)
		case FieldCommentStatus:
			out.CommentStatus, _ = v.(string)
		case FieldPingStatus:
			out.PingStatus, _ = v.(string)
		case FieldPassword:
			out.Password, _ = v.(string)
		case FieldModified:
			if t, ok := v.(time.Time); ok {
				out.Modified = t
			}
		}
	}
	return out
}

func toStatus(v any) Status {
	switch s := v.(type) {
	case Status:
		return s
	case string:
		return Status(s)
	}
	return ""
}
