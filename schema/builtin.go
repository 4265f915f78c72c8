package schema

import (
	"context"
	"strings"

	"stagekit/content"
	"stagekit/errors"
	"stagekit/store"
)

// 内置元数据键
const (
	MetaThumbnailID  = "_thumbnail_id"
	MetaPageTemplate = "_wp_page_template"

	// 草稿生命周期状态持久化使用的内部键
	MetaDraftState    = "_customize_draft_state"
	MetaChangesetUUID = "_customize_changeset_uuid"

	// TemplateDefault 默认页面模板
	TemplateDefault = "default"

	// AttachmentType 附件实体类型
	AttachmentType = "attachment"
)

// NewDefaultRegistry 注册 post/page/attachment、category/post_tag/post_format
// 以及特色图片与页面模板两个内置元数据
func NewDefaultRegistry(pageTemplates ...string) *Registry {
	r := NewRegistry()
	mustRegister(r.RegisterType(EntityType{
		Name:     "post",
		Features: []Feature{FeatureTitle, FeatureEditor, FeatureExcerpt, FeatureAuthor, FeatureThumbnail, FeatureComments},
		Caps:     DefaultCaps("posts"),
	}))
	mustRegister(r.RegisterType(EntityType{
		Name:         "page",
		Features:     []Feature{FeatureTitle, FeatureEditor, FeatureAuthor, FeaturePageAttributes, FeatureThumbnail, FeatureComments},
		Hierarchical: true,
		Caps:         DefaultCaps("pages"),
	}))
	mustRegister(r.RegisterType(EntityType{
		Name:     AttachmentType,
		Features: []Feature{FeatureTitle, FeatureAuthor},
		Caps:     DefaultCaps("posts"),
	}))
	mustRegister(r.RegisterTaxonomy(Taxonomy{Name: "category", ObjectTypes: []string{"post"}, AssignCap: "edit_posts"}))
	mustRegister(r.RegisterTaxonomy(Taxonomy{Name: "post_tag", ObjectTypes: []string{"post"}, AssignCap: "edit_posts"}))
	mustRegister(r.RegisterTaxonomy(Taxonomy{Name: "post_format", ObjectTypes: []string{"post"}, AssignCap: "edit_posts", Singleton: true}))
	RegisterBuiltinMeta(r)
	r.SetPageTemplates(pageTemplates)
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}

// RegisterBuiltinMeta 注册特色图片与页面模板元数据
func RegisterBuiltinMeta(r *Registry) {
	mustRegister(r.RegisterMeta(MetaDef{
		Key:      MetaThumbnailID,
		Single:   true,
		Sanitize: sanitizeThumbnailID,
		Validate: validateThumbnailID,
		Default:  int64(0),
	}))
	mustRegister(r.RegisterMeta(MetaDef{
		Key:         MetaPageTemplate,
		EntityTypes: []string{"page"},
		Single:      true,
		Sanitize:    sanitizeTemplate,
		Validate:    templateValidator(r),
		Default:     TemplateDefault,
	}))
}

func sanitizeThumbnailID(ctx context.Context, value any) (any, error) {
	if value == nil || value == "" {
		return int64(0), nil
	}
	id, ok := content.CoerceInt64(value)
	if !ok || id < 0 {
		return nil, errors.NewFieldError(errors.ErrCodeInvalidAttachmentID, MetaThumbnailID, "featured image id must be a non-negative integer")
	}
	return id, nil
}

func validateThumbnailID(ctx context.Context, reader store.IEntityReader, ref content.EntityRef, value any) error {
	id, _ := content.CoerceInt64(value)
	if id == 0 {
		return nil
	}
	if _, err := reader.GetEntity(ctx, content.Ref(AttachmentType, id)); err != nil {
		return errors.NewFieldError(errors.ErrCodeInvalidAttachmentID, MetaThumbnailID, "featured image does not reference an attachment").
			WithContext("attachment_id", id)
	}
	return nil
}

func sanitizeTemplate(ctx context.Context, value any) (any, error) {
	switch value.(type) {
	case []any, map[string]any:
		return nil, errors.NewFieldError(errors.ErrCodeInvalidPageTemplate, MetaPageTemplate, "page template must be a string")
	}
	s := strings.TrimSpace(content.CoerceString(value))
	if s == "" {
		s = TemplateDefault
	}
	return s, nil
}

func templateValidator(r *Registry) MetaValidateFunc {
	return func(ctx context.Context, reader store.IEntityReader, ref content.EntityRef, value any) error {
		s, _ := value.(string)
		if s == TemplateDefault {
			return nil
		}
		for _, t := range r.PageTemplates() {
			if t == s {
				return nil
			}
		}
		return errors.NewFieldError(errors.ErrCodeInvalidPageTemplate, MetaPageTemplate, "invalid page template").
			WithContext("template", s)
	}
}
