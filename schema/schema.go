// Package schema 描述预览引擎认识的实体类型、分类法与已注册元数据
//
// 标识解析与 Setting 构造都以这里的定义作为领域约束：
// 实体类型必须已注册，分类法必须已注册且关联到该实体类型。
package schema

import (
	"context"
	"sort"
	"sync"

	"stagekit/content"
	"stagekit/errors"
	"stagekit/store"
	"stagekit/validation"
)

// Feature 实体类型支持的编辑特性
type Feature string

const (
	FeatureTitle          Feature = "title"
	FeatureEditor         Feature = "editor"
	FeatureExcerpt        Feature = "excerpt"
	FeatureAuthor         Feature = "author"
	FeaturePageAttributes Feature = "page-attributes"
	FeatureThumbnail      Feature = "thumbnail"
	FeatureComments       Feature = "comments"
)

// Caps 实体类型映射到的能力名
type Caps struct {
	EditPosts       string `yaml:"edit_posts"`
	EditOthersPosts string `yaml:"edit_others_posts"`
	PublishPosts    string `yaml:"publish_posts"`
	DeletePosts     string `yaml:"delete_posts"`
}

// DefaultCaps 按 WordPress 约定派生能力名（edit_posts / edit_pages ...）
func DefaultCaps(plural string) Caps {
	return Caps{
		EditPosts:       "edit_" + plural,
		EditOthersPosts: "edit_others_" + plural,
		PublishPosts:    "publish_" + plural,
		DeletePosts:     "delete_" + plural,
	}
}

// EntityType 实体类型定义
type EntityType struct {
	Name         string    `validate:"required,key"`
	Features     []Feature `validate:"dive,required"`
	Hierarchical bool
	Caps         Caps
}

// Supports 是否支持某特性
func (t *EntityType) Supports(f Feature) bool {
	for _, x := range t.Features {
		if x == f {
			return true
		}
	}
	return false
}

// Taxonomy 分类法定义
type Taxonomy struct {
	Name        string   `validate:"required,key"`
	ObjectTypes []string `validate:"min=1,dive,required"`
	AssignCap   string
	// Singleton 每个实体至多一个分类项（如 post_format）
	Singleton bool
}

// AppliesTo 是否关联到某实体类型
func (t *Taxonomy) AppliesTo(entityType string) bool {
	for _, x := range t.ObjectTypes {
		if x == entityType {
			return true
		}
	}
	return false
}

// MetaSanitizeFunc 元数据单值净化
type MetaSanitizeFunc func(ctx context.Context, value any) (any, error)

// MetaValidateFunc 元数据单值业务校验，可读取存储确认引用有效
type MetaValidateFunc func(ctx context.Context, reader store.IEntityReader, ref content.EntityRef, value any) error

// MetaWriteVeto 判断某个具体值是否允许写入
type MetaWriteVeto func(ctx context.Context, actorID int64, ref content.EntityRef, value any) bool

// MetaDef 已注册的元数据键
type MetaDef struct {
	Key string `validate:"required"`
	// EntityTypes 适用的实体类型，空表示全部
	EntityTypes []string
	// Single 单值模式；否则为有序多值列表
	Single     bool
	Sanitize   MetaSanitizeFunc
	Validate   MetaValidateFunc
	MayWrite   MetaWriteVeto
	Capability string
	Default    any
	Export     func(value any) any
}

// AppliesTo 是否适用于某实体类型
func (m *MetaDef) AppliesTo(entityType string) bool {
	if len(m.EntityTypes) == 0 {
		return true
	}
	for _, x := range m.EntityTypes {
		if x == entityType {
			return true
		}
	}
	return false
}

// Registry 类型/分类法/元数据注册表，注册完成后只读
type Registry struct {
	mu         sync.RWMutex
	types      map[string]*EntityType
	taxonomies map[string]*Taxonomy
	meta       map[string]*MetaDef
	templates  []string
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		types:      make(map[string]*EntityType),
		taxonomies: make(map[string]*Taxonomy),
		meta:       make(map[string]*MetaDef),
	}
}

// RegisterType 注册实体类型；未设置能力名时按类型名派生
func (r *Registry) RegisterType(t EntityType) error {
	if err := validation.Struct(t); err != nil {
		return err
	}
	if t.Caps == (Caps{}) {
		t.Caps = DefaultCaps(t.Name + "s")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = &t
	return nil
}

// RegisterTaxonomy 注册分类法，关联的实体类型必须已注册
func (r *Registry) RegisterTaxonomy(t Taxonomy) error {
	if err := validation.Struct(t); err != nil {
		return err
	}
	if t.AssignCap == "" {
		t.AssignCap = "assign_" + t.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range t.ObjectTypes {
		if _, ok := r.types[ot]; !ok {
			return errors.Newf(errors.ErrCodeUnknownEntityType, "taxonomy %s references unknown entity type %s", t.Name, ot).
				WithField("object_types")
		}
	}
	r.taxonomies[t.Name] = &t
	return nil
}

// RegisterMeta 注册元数据键
func (r *Registry) RegisterMeta(m MetaDef) error {
	if err := validation.Struct(m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[m.Key] = &m
	return nil
}

// SetPageTemplates 设置可选页面模板
func (r *Registry) SetPageTemplates(templates []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append([]string(nil), templates...)
}

// PageTemplates 返回可选页面模板（不含 default）
func (r *Registry) PageTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.templates...)
}

// Type 查找实体类型
func (r *Registry) Type(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Taxonomy 查找分类法
func (r *Registry) Taxonomy(name string) (*Taxonomy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.taxonomies[name]
	return t, ok
}

// Meta 查找适用于实体类型的元数据定义；未注册时返回 false
func (r *Registry) Meta(entityType, key string) (*MetaDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[key]
	if !ok || !m.AppliesTo(entityType) {
		return nil, false
	}
	return m, true
}

// TypeNames 已注册实体类型名（排序）
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TaxonomiesFor 关联到某实体类型的分类法名（排序）
func (r *Registry) TaxonomiesFor(entityType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for n, t := range r.taxonomies {
		if t.AppliesTo(entityType) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
