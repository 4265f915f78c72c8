package setting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagekit/capability"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/preview"
	"stagekit/schema"
	"stagekit/store"
	"stagekit/store/memory"
)

var (
	editor = capability.Actor{ID: 1, Login: "editor", Roles: []string{"editor"}}
	post42 = content.Ref("post", 42)
	t1     = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store    *memory.Store
	overlay  *preview.Overlay
	registry *Registry
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	st := memory.New()
	st.Seed(&content.Entity{
		Ref:      post42,
		Author:   editor.ID,
		Title:    "Hello",
		Content:  "Body",
		Status:   content.StatusPublish,
		Date:     t1,
		Modified: t1,
	})
	st.SeedTerm(content.Term{ID: 5, Taxonomy: "category", Name: "News", Slug: "news"})
	st.SeedTerm(content.Term{ID: 6, Taxonomy: "category", Name: "Sport", Slug: "sport"})
	st.SeedTerm(content.Term{ID: 10, Taxonomy: "post_format", Name: "Aside", Slug: "aside"})
	st.SeedTerm(content.Term{ID: 11, Taxonomy: "post_format", Name: "Link", Slug: "link"})

	sch := schema.NewDefaultRegistry("wide.php")
	require.NoError(t, sch.RegisterMeta(schema.MetaDef{
		Key: "gallery",
		MayWrite: func(ctx context.Context, actorID int64, ref content.EntityRef, value any) bool {
			return value != "forbidden"
		},
	}))

	ov := preview.New(st, preview.WithOracle(capability.AllowAll), preview.WithActor(editor), preview.WithLogger(logging.NewNoopLogger()))
	deps := Deps{
		Store:   st,
		Overlay: ov,
		Oracle:  capability.AllowAll,
		Actor:   editor,
		Schema:  sch,
		Logger:  logging.NewNoopLogger(),
		Now:     func() time.Time { return now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &fixture{store: st, overlay: ov, registry: NewRegistry(deps)}
}

// setting 暂存原始值并返回对应 Setting
func (f *fixture) setting(t *testing.T, id string, raw any) ISetting {
	ident, err := f.registry.Resolve(id)
	require.NoError(t, err)
	s, err := f.registry.GetOrCreateSetting(context.Background(), ident)
	require.NoError(t, err)
	f.registry.SetRawValue(ident, raw)
	return s
}

func sanitizeFields(t *testing.T, s ISetting, raw any) content.Fields {
	v, err := s.Sanitize(context.Background(), raw, Strict)
	require.NoError(t, err)
	fields, ok := v.(content.Fields)
	require.True(t, ok)
	return fields
}

func TestRegistry_Resolve(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Resolve("post[widget][1]")
	assert.Equal(t, errors.ErrCodeUnknownEntityType, errors.GetErrorCode(err))

	_, err = f.registry.Resolve("post_terms[page][1][category]")
	assert.Equal(t, errors.ErrCodeUnknownTaxonomy, errors.GetErrorCode(err))
	assert.Equal(t, "taxonomy", errors.FieldOf(err))

	_, err = f.registry.Resolve("post_terms[post][1][genre]")
	assert.Equal(t, errors.ErrCodeUnknownTaxonomy, errors.GetErrorCode(err))

	id, err := f.registry.Resolve("postmeta[page][1][anything]")
	require.NoError(t, err)
	assert.Equal(t, KindMeta, id.Kind())
}

func TestRegistry_DirtyOrderAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := MustParse("postmeta[post][42][b]")
	b := MustParse("postmeta[post][42][a]")
	f.registry.SetRawValue(a, 1)
	f.registry.SetRawValue(b, 2)
	f.registry.SetRawValue(a, 3)

	assert.Equal(t, []Identifier{a, b}, f.registry.AllDirtyIdentifiers())
	raw, ok := f.registry.RawValue(a)
	require.True(t, ok)
	assert.Equal(t, 3, raw)

	s1, err := f.registry.GetOrCreateSetting(ctx, a)
	require.NoError(t, err)
	s2, err := f.registry.GetOrCreateSetting(ctx, a)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3, err := f.registry.Register(ctx, a, Args{Default: "fallback"})
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, "fallback", s3.Default())
}

func TestSetting_Capability(t *testing.T) {
	ctx := context.Background()

	denied := newFixture(t, func(d *Deps) { d.Oracle = capability.DenyAll })
	s, err := denied.registry.GetOrCreateSetting(ctx, MustParse("post[post][42]"))
	require.NoError(t, err)
	assert.Equal(t, capability.DoNotAllow, s.Capability())

	f := newFixture(t)
	s, err = f.registry.GetOrCreateSetting(ctx, MustParse("post[page][42]"))
	require.NoError(t, err)
	assert.Equal(t, "edit_pages", s.Capability())

	s, err = f.registry.Register(ctx, MustParse("postmeta[post][42][logo]"), Args{ThemeSupports: "custom-logo"})
	require.NoError(t, err)
	assert.Equal(t, capability.DoNotAllow, s.Capability())

	themed := newFixture(t, func(d *Deps) { d.ThemeSupports = []string{"custom-logo"} })
	s, err = themed.registry.Register(ctx, MustParse("postmeta[post][42][logo]"), Args{ThemeSupports: "custom-logo"})
	require.NoError(t, err)
	assert.Equal(t, "edit_posts", s.Capability())
}

func TestEntitySetting_PreviewIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][42]", map[string]any{"title": "Staged", "modified": t1})

	assert.True(t, s.Preview(ctx))
	assert.True(t, s.IsPreviewed())

	// 再次预览不会重新登记
	f.registry.SetRawValue(s.ID(), map[string]any{"title": "Changed later"})
	assert.True(t, s.Preview(ctx))

	rec, ok := f.overlay.Snapshot(post42)
	require.True(t, ok)
	assert.Equal(t, "Staged", rec.Fields[content.FieldTitle])
	assert.NotContains(t, rec.Fields, content.FieldModified)

	v, err := s.Value(ctx)
	require.NoError(t, err)
	fields := v.(content.Fields)
	assert.Equal(t, "Staged", fields[content.FieldTitle])
	assert.Equal(t, "Body", fields[content.FieldContent])
}

func TestEntitySetting_LenientPreviewSkipsInvalidValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][42]", map[string]any{"type": "page"})

	assert.True(t, s.Preview(ctx))
	assert.False(t, f.overlay.IsArmed(post42))

	v, err := s.Sanitize(ctx, map[string]any{"type": "page"}, Lenient)
	assert.NoError(t, err)
	assert.Nil(t, v)

	_, err = s.Sanitize(ctx, map[string]any{"type": "page"}, Strict)
	assert.Equal(t, errors.ErrCodeBadPostType, errors.GetErrorCode(err))
	assert.Equal(t, content.FieldType, errors.FieldOf(err))
	id, _ := errors.DetailOf(err, errors.DetailSettingID)
	assert.Equal(t, "post[post][42]", id)
}

func TestEntitySetting_EmptyContent(t *testing.T) {
	ctx := context.Background()
	empty := map[string]any{"title": "", "content": "", "excerpt": ""}

	f := newFixture(t)
	s := f.setting(t, "post[post][42]", empty)
	_, err := s.Sanitize(ctx, empty, Strict)
	assert.Equal(t, errors.ErrCodeEmptyContent, errors.GetErrorCode(err))

	// 附件类型与页面类型不受限制
	attachment := f.setting(t, "post[attachment][-1]", map[string]any{"title": ""})
	_, err = attachment.Sanitize(ctx, map[string]any{"title": ""}, Strict)
	assert.NoError(t, err)
	page := f.setting(t, "post[page][-2]", map[string]any{"title": ""})
	_, err = page.Sanitize(ctx, map[string]any{"title": ""}, Strict)
	assert.NoError(t, err)

	allowed := newFixture(t, func(d *Deps) { d.AllowEmptyContent = true })
	s = allowed.setting(t, "post[post][42]", empty)
	_, err = s.Sanitize(ctx, empty, Strict)
	assert.NoError(t, err)
}

func TestEntitySetting_FieldNormalization(t *testing.T) {
	f := newFixture(t)
	s := f.setting(t, "post[post][42]", nil)

	fields := sanitizeFields(t, s, map[string]any{
		"title":      42,
		"content":    "a\r\nb",
		"name":       "Hello World!",
		"parent":     -4,
		"menu_order": "3",
		"unknown":    "dropped",
	})
	assert.Equal(t, "42", fields[content.FieldTitle])
	assert.Equal(t, "a\nb", fields[content.FieldContent])
	assert.Equal(t, "hello-world", fields[content.FieldName])
	assert.Equal(t, int64(0), fields[content.FieldParent])
	assert.Equal(t, 3, fields[content.FieldMenuOrder])
	assert.NotContains(t, fields, "unknown")

	_, err := s.Sanitize(context.Background(), map[string]any{"comment_status": "maybe"}, Strict)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetErrorCode(err))
	assert.Equal(t, content.FieldCommentStatus, errors.FieldOf(err))

	_, err = s.Sanitize(context.Background(), map[string]any{"modified": "yesterday"}, Strict)
	assert.Equal(t, errors.ErrCodeInvalidDate, errors.GetErrorCode(err))

	_, err = s.Sanitize(context.Background(), "not-an-object", Strict)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
}

func TestEntitySetting_StoredPlaceholderTreatedAsNew(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(&content.Entity{Ref: content.Ref("post", 50), Status: content.StatusCustomizeDraft, Modified: t1})
	s := f.setting(t, "post[post][50]", nil)

	fields := sanitizeFields(t, s, map[string]any{"title": "Kept"})
	assert.Equal(t, content.StatusPublish, fields[content.FieldStatus])
	assert.Equal(t, now, fields[content.FieldDate])
	assert.Equal(t, "kept", fields[content.FieldName])
	assert.Equal(t, editor.ID, fields[content.FieldAuthor])

	// 显式草稿状态保留
	fields = sanitizeFields(t, s, map[string]any{"title": "Kept", "status": "draft"})
	assert.Equal(t, content.StatusDraft, fields[content.FieldStatus])
}

func TestEntitySetting_StatusAndDate(t *testing.T) {
	f := newFixture(t)
	s := f.setting(t, "post[post][42]", nil)

	// 占位状态改写为配置的状态
	fields := sanitizeFields(t, s, map[string]any{"status": "auto-draft"})
	assert.Equal(t, content.StatusPublish, fields[content.FieldStatus])
	assert.Equal(t, t1, fields[content.FieldDate])

	fields = sanitizeFields(t, s, map[string]any{"status": "publish", "date": "2030-01-01 00:00:00"})
	assert.Equal(t, content.StatusFuture, fields[content.FieldStatus])

	fields = sanitizeFields(t, s, map[string]any{"status": "future", "date": "2020-01-01"})
	assert.Equal(t, content.StatusPublish, fields[content.FieldStatus])

	_, err := s.Sanitize(context.Background(), map[string]any{"status": "bogus"}, Strict)
	assert.Equal(t, content.FieldStatus, errors.FieldOf(err))

	_, err = s.Sanitize(context.Background(), map[string]any{"date": "not a date"}, Strict)
	assert.Equal(t, errors.ErrCodeInvalidDate, errors.GetErrorCode(err))
	assert.Equal(t, content.FieldDate, errors.FieldOf(err))

	// 新实体：可发布状态的空日期取当前时间，并生成 slug 与作者
	fresh := f.setting(t, "post[post][-1]", nil)
	fields = sanitizeFields(t, fresh, map[string]any{"title": "Brand New", "status": "private", "date": ""})
	assert.Equal(t, content.StatusPrivate, fields[content.FieldStatus])
	assert.Equal(t, now, fields[content.FieldDate])
	assert.Equal(t, "brand-new", fields[content.FieldName])
	assert.Equal(t, editor.ID, fields[content.FieldAuthor])

	custom := newFixture(t, func(d *Deps) { d.PlaceholderStatus = content.StatusDraft })
	s = custom.setting(t, "post[post][42]", nil)
	fields = sanitizeFields(t, s, map[string]any{"status": "customize-draft"})
	assert.Equal(t, content.StatusDraft, fields[content.FieldStatus])
}

func TestEntitySetting_Author(t *testing.T) {
	oracle := capability.NewStaticOracle().Allow("editor", capability.ActionEditPost)
	restricted := newFixture(t, func(d *Deps) { d.Oracle = oracle })
	s := restricted.setting(t, "post[post][42]", nil)
	fields := sanitizeFields(t, s, map[string]any{"author": 7})
	assert.Equal(t, editor.ID, fields[content.FieldAuthor])

	f := newFixture(t)
	s = f.setting(t, "post[post][42]", nil)
	fields = sanitizeFields(t, s, map[string]any{"author": "7"})
	assert.Equal(t, int64(7), fields[content.FieldAuthor])
}

func TestEntitySetting_SaveConflictAndOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][42]", map[string]any{"title": "Mine", "modified": t1})

	_, err := f.store.UpsertEntity(store.WithActor(ctx, 2), post42, content.Fields{content.FieldExcerpt: "theirs"})
	require.NoError(t, err)

	pc, ok := s.(PreChecker)
	require.True(t, ok)
	assert.True(t, errors.IsConflict(pc.PreCheck(ctx)))

	saved, err := s.Save(ctx)
	assert.False(t, saved)
	require.True(t, errors.IsConflict(err))
	conflicting, _ := errors.DetailOf(err, errors.DetailConflictingFields)
	assert.Equal(t, []string{"title"}, conflicting)

	rec := f.registry.Conflicts()["post[post][42]"]
	require.NotNil(t, rec)
	assert.Equal(t, "theirs", rec.TheirFields[content.FieldExcerpt])
	assert.Equal(t, int64(2), rec.ModifiedBy)

	f.registry.ClearConflicts()
	f.registry.OverrideConflicts("post[post][42]")
	saved, err = s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Empty(t, f.registry.Conflicts())

	e, err := f.store.GetEntity(ctx, post42)
	require.NoError(t, err)
	assert.Equal(t, "Mine", e.Title)
	assert.Equal(t, "theirs", e.Excerpt)
	assert.Equal(t, editor.ID, e.ModifiedBy)
}

func TestEntitySetting_FreshBaselineSaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][42]", map[string]any{"title": "Mine", "modified": t1.Format(time.RFC3339Nano)})

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestEntitySetting_Locked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetEditLock(ctx, post42, 2))
	s := f.setting(t, "post[post][42]", map[string]any{"title": "Mine"})

	_, err := s.Save(ctx)
	require.True(t, errors.IsLocked(err))
	holder, _ := errors.DetailOf(err, errors.DetailLockHolder)
	assert.Equal(t, int64(2), holder)
}

func TestEntitySetting_Trash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][42]", map[string]any{"status": "trash"})

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	e, err := f.store.GetEntity(ctx, post42)
	require.NoError(t, err)
	assert.Equal(t, content.StatusTrash, e.Status)
}

func TestEntitySetting_PlaceholderCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post[post][-1]", map[string]any{"title": "New", "status": "publish"})

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)

	ref := f.registry.ResolveRef(content.Ref("post", -1))
	assert.False(t, ref.IsPlaceholder())
	e, err := f.store.GetEntity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "New", e.Title)
	assert.Equal(t, content.StatusPublish, e.Status)

	// 以回收站状态提交的占位实体不落库
	trashed := f.setting(t, "post[post][-2]", map[string]any{"title": "Gone", "status": "trash"})
	saved, err = trashed.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.True(t, f.registry.ResolveRef(content.Ref("post", -2)).IsPlaceholder())
	assert.Len(t, f.registry.ResolvedPlaceholders(), 1)
}

func TestMetaSetting_Single(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateMeta(ctx, post42, "subtitle", "old"))

	s := f.setting(t, "postmeta[post][42][subtitle]", "new")
	v, err := s.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	s.Preview(ctx)
	v, err = s.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	values, err := f.store.GetMeta(ctx, post42, "subtitle")
	require.NoError(t, err)
	assert.Equal(t, []any{"new"}, values)

	// nil 表示删除
	f.registry.SetRawValue(s.ID(), nil)
	_, err = s.Save(ctx)
	require.NoError(t, err)
	values, err = f.store.GetMeta(ctx, post42, "subtitle")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestMetaSetting_Multi(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "postmeta[post][42][gallery]", []any{"a", "b"})

	v, err := s.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)

	_, err = s.Sanitize(ctx, "a", Strict)
	assert.Equal(t, errors.ErrCodeExpectedArray, errors.GetErrorCode(err))
	assert.Equal(t, "gallery", errors.FieldOf(err))

	_, err = s.Sanitize(ctx, []any{"a", "forbidden"}, Strict)
	assert.Equal(t, errors.ErrCodeNotAllowed, errors.GetErrorCode(err))

	list, err := s.Sanitize(ctx, []string{"x", "y"}, Strict)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, list)

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	values, err := f.store.GetMeta(ctx, post42, "gallery")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, values)
}

// failingMetaStore 元数据写入全部失败
type failingMetaStore struct {
	store.IStore
}

func (failingMetaStore) ReplaceMeta(context.Context, content.EntityRef, string, []any) error {
	return fmt.Errorf("disk full")
}

func (failingMetaStore) AddMeta(context.Context, content.EntityRef, string, any) error {
	return fmt.Errorf("disk full")
}

func TestMetaSetting_MultiWriteFailureKeepsValues(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Store = failingMetaStore{IStore: d.Store} })
	ctx := context.Background()
	require.NoError(t, f.store.AddMeta(ctx, post42, "gallery", "old-1"))
	require.NoError(t, f.store.AddMeta(ctx, post42, "gallery", "old-2"))

	s := f.setting(t, "postmeta[post][42][gallery]", []any{"a", "b", "c"})
	saved, err := s.Save(ctx)
	assert.False(t, saved)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeDatabase))
	assert.Equal(t, "gallery", errors.FieldOf(err))

	values, err := f.store.GetMeta(ctx, post42, "gallery")
	require.NoError(t, err)
	assert.Equal(t, []any{"old-1", "old-2"}, values)
}

func TestMetaSetting_PlaceholderNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "postmeta[post][-5][subtitle]", "x")

	_, err := s.Save(ctx)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
	assert.Equal(t, "subtitle", errors.FieldOf(err))
}

func TestMetaSetting_Builtins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed(&content.Entity{Ref: content.Ref(schema.AttachmentType, 77), Title: "photo", Status: content.StatusPublish})

	thumb := f.setting(t, "postmeta[post][42][_thumbnail_id]", "77")
	v, err := thumb.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = thumb.Sanitize(ctx, "abc", Strict)
	assert.Equal(t, errors.ErrCodeInvalidAttachmentID, errors.GetErrorCode(err))
	_, err = thumb.Sanitize(ctx, 99, Strict)
	assert.Equal(t, errors.ErrCodeInvalidAttachmentID, errors.GetErrorCode(err))

	saved, err := thumb.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	values, err := f.store.GetMeta(ctx, post42, schema.MetaThumbnailID)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(77)}, values)

	tpl := f.setting(t, "postmeta[page][50][_wp_page_template]", nil)
	_, err = tpl.Sanitize(ctx, "custom.php", Strict)
	assert.Equal(t, errors.ErrCodeInvalidPageTemplate, errors.GetErrorCode(err))
	got, err := tpl.Sanitize(ctx, "wide.php", Strict)
	require.NoError(t, err)
	assert.Equal(t, "wide.php", got)
	got, err = tpl.Sanitize(ctx, "  ", Strict)
	require.NoError(t, err)
	assert.Equal(t, schema.TemplateDefault, got)
}

func TestTermsSetting_Sanitize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post_terms[post][42][category]", nil)

	ids, err := s.Sanitize(ctx, []any{"5"}, Strict)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)

	ids, err = s.Sanitize(ctx, []any{6, "5", 6.0}, Strict)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5}, ids)

	_, err = s.Sanitize(ctx, []any{"not-a-number"}, Strict)
	assert.Equal(t, errors.ErrCodeInvalidTermID, errors.GetErrorCode(err))
	assert.Equal(t, "category", errors.FieldOf(err))

	_, err = s.Sanitize(ctx, []any{-5}, Strict)
	assert.Equal(t, errors.ErrCodeInvalidTermID, errors.GetErrorCode(err))

	_, err = s.Sanitize(ctx, "not-an-array", Strict)
	assert.Equal(t, errors.ErrCodeExpectedArray, errors.GetErrorCode(err))

	_, err = s.Sanitize(ctx, []any{99}, Strict)
	assert.Equal(t, errors.ErrCodeMissingTerm, errors.GetErrorCode(err))

	v, err := s.Sanitize(ctx, "not-an-array", Lenient)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestTermsSetting_PreviewAndSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post_terms[post][42][category]", []any{"6", 5})

	v, err := s.Value(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	s.Preview(ctx)
	v, err = s.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5}, v)

	list, err := f.overlay.GetTerms(ctx, post42, "category", content.TermFieldsIDs)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5}, list.IDs)

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.True(t, saved)
	persisted, err := f.store.GetTerms(ctx, post42, "category", content.TermFieldsIDs)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5}, persisted.IDs)
}

func TestTermsSetting_Singleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setting(t, "post_terms[post][42][post_format]", nil)

	ids, err := s.Sanitize(ctx, []any{"aside"}, Strict)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	ids, err = s.Sanitize(ctx, []any{10, 11}, Strict)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	ids, err = s.Sanitize(ctx, []any{"Gallery"}, Lenient)
	require.NoError(t, err)
	assert.Equal(t, []int64{}, ids)
	_, err = f.store.GetTermBySlug(ctx, "post_format", "gallery")
	assert.ErrorIs(t, err, store.ErrTermNotFound)

	ids, err = s.Sanitize(ctx, []any{"Gallery"}, Strict)
	require.NoError(t, err)
	created, err := f.store.GetTermBySlug(ctx, "post_format", "gallery")
	require.NoError(t, err)
	assert.Equal(t, []int64{created.ID}, ids)
	assert.Equal(t, "Gallery", created.Name)
}

func TestSetting_ArgsCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := MustParse("postmeta[post][42][headline]")

	s, err := f.registry.Register(ctx, id, Args{
		Sanitize: func(ctx context.Context, value any) (any, error) {
			return content.CoerceString(value) + "!", nil
		},
		Validate: func(ctx context.Context, value any) error {
			if value == "!" {
				return errors.NewError(errors.ErrCodeValidation, "headline required")
			}
			return nil
		},
		Export: func(value any) any { return map[string]any{"headline": value} },
	})
	require.NoError(t, err)

	v, err := s.Sanitize(ctx, "Hi", Strict)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", v)

	_, err = s.Sanitize(ctx, "", Strict)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetErrorCode(err))
	assert.Equal(t, "headline", errors.FieldOf(err))

	f.registry.SetRawValue(id, "Hi")
	_, err = s.Save(ctx)
	require.NoError(t, err)
	exported, err := s.ExportedValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"headline": "Hi!"}, exported)
}
