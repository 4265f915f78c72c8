package setting

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"stagekit/capability"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/schema"
	"stagekit/store"
	"stagekit/validation"
)

var (
	commentStatuses = []string{"open", "closed"}
	knownStatuses   = []string{
		string(content.StatusPublish), string(content.StatusFuture), string(content.StatusDraft),
		string(content.StatusPending), string(content.StatusPrivate), string(content.StatusTrash),
	}
	dateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
)

// entitySetting 整个实体字段集合
type entitySetting struct {
	base
	id     EntityValueID
	typ    *schema.EntityType
	staged content.Fields
}

func newEntitySetting(ctx context.Context, r *Registry, id EntityValueID, args Args) *entitySetting {
	typ, _ := r.deps.Schema.Type(id.Type)
	capName := args.Capability
	if capName == "" {
		capName = typ.Caps.EditPosts
	}
	capName = capability.SettingCapability(ctx, r.deps.Oracle, r.deps.Actor, capability.ActionEditPost, id.Ref(), "", capName)
	if args.Default == nil {
		args.Default = content.Fields{content.FieldType: id.Type}
	}
	return &entitySetting{base: newBase(r, id, args, capName), id: id, typ: typ}
}

// persisted 读取持久实体；占位引用或不存在时返回 nil
func (s *entitySetting) persisted(ctx context.Context) (*content.Entity, error) {
	ref := s.ref()
	if ref.IsPlaceholder() {
		return nil, nil
	}
	e, err := s.deps.Store.GetEntity(ctx, ref)
	if stdErrors.Is(err, store.ErrEntityNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *entitySetting) Value(ctx context.Context) (any, error) {
	current, err := s.persisted(ctx)
	if err != nil {
		return nil, errors.WrapStoreError(ctx, err, "get entity")
	}
	var fields content.Fields
	if current != nil {
		fields = current.Fields()
	} else if def, ok := toFields(s.args.Default); ok {
		fields = def.Clone()
	} else {
		fields = content.Fields{}
	}
	if s.previewed && s.staged != nil {
		fields = content.Merge(fields, s.staged)
	}
	return fields, nil
}

func (s *entitySetting) ExportedValue(ctx context.Context) (any, error) {
	v, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	return s.export(v), nil
}

func (s *entitySetting) Sanitize(ctx context.Context, raw any, mode Mode) (any, error) {
	fields, err := s.sanitize(ctx, raw)
	return s.finish(ctx, fields, err, mode, "")
}

func (s *entitySetting) sanitize(ctx context.Context, raw any) (content.Fields, error) {
	input, ok := toFields(raw)
	if !ok {
		return nil, errors.NewFieldError(errors.ErrCodeInvalidInput, "value", "entity value must be an object")
	}
	current, err := s.persisted(ctx)
	if err != nil {
		return nil, err
	}
	// 仍处于占位状态的已落库实体按新建处理
	isNew := current == nil || current.Status.IsPlaceholder()

	out := content.Fields{}
	for k, v := range input {
		if content.IsDefaultField(k) {
			out[k] = v
		}
	}

	if v, ok := out[content.FieldType]; ok {
		if content.CoerceString(v) != s.id.Type {
			return nil, errors.NewFieldError(errors.ErrCodeBadPostType, content.FieldType, "entity type does not match setting").
				WithContext("expected", s.id.Type)
		}
		delete(out, content.FieldType)
	}

	if v, ok := out[content.FieldTitle]; ok {
		out[content.FieldTitle] = content.CoerceString(v)
	}
	for _, k := range []string{content.FieldContent, content.FieldExcerpt} {
		if v, ok := out[k]; ok {
			out[k] = content.NormalizeNewlines(content.CoerceString(v))
		}
	}
	if v, ok := out[content.FieldPassword]; ok {
		out[content.FieldPassword] = content.CoerceString(v)
	}
	if v, ok := out[content.FieldName]; ok {
		out[content.FieldName] = content.Slugify(content.CoerceString(v))
	}
	if v, ok := out[content.FieldParent]; ok {
		out[content.FieldParent] = content.NonNegativeInt64(v)
	}
	if v, ok := out[content.FieldMenuOrder]; ok {
		out[content.FieldMenuOrder] = int(content.NonNegativeInt64(v))
	}
	for _, k := range []string{content.FieldCommentStatus, content.FieldPingStatus} {
		if v, ok := out[k]; ok {
			str := content.CoerceString(v)
			if str != "" {
				if err := validation.ValidateEnum(str, k, commentStatuses); err != nil {
					return nil, err
				}
			}
			out[k] = str
		}
	}
	if v, ok := out[content.FieldModified]; ok {
		t, ok := parseDate(v)
		if !ok {
			return nil, errors.NewFieldError(errors.ErrCodeInvalidDate, content.FieldModified, "invalid modified timestamp")
		}
		out[content.FieldModified] = t
	}

	var base content.Fields
	if current != nil {
		base = current.Fields()
	} else {
		base = content.Fields{}
	}
	merged := content.Merge(base, out)
	if !s.deps.AllowEmptyContent && s.maybeEmpty(merged) {
		return nil, errors.NewFieldError(errors.ErrCodeEmptyContent, content.FieldContent, "content, title, and excerpt are empty")
	}

	if err := s.sanitizeStatusAndDate(out, current, isNew); err != nil {
		return nil, err
	}
	s.sanitizeSlug(out, content.Merge(base, out), isNew)
	s.sanitizeAuthor(ctx, out, isNew)
	return out, nil
}

func (s *entitySetting) maybeEmpty(f content.Fields) bool {
	if s.id.Type == schema.AttachmentType || s.typ == nil {
		return false
	}
	if f.String(content.FieldTitle) != "" || f.String(content.FieldContent) != "" || f.String(content.FieldExcerpt) != "" {
		return false
	}
	return s.typ.Supports(schema.FeatureTitle) && s.typ.Supports(schema.FeatureEditor) && s.typ.Supports(schema.FeatureExcerpt)
}

// sanitizeStatusAndDate 占位状态改写、日期默认值与 future/publish 翻转
func (s *entitySetting) sanitizeStatusAndDate(out content.Fields, current *content.Entity, isNew bool) error {
	statusGiven := hasKey(out, content.FieldStatus)
	dateGiven := hasKey(out, content.FieldDate)
	if !statusGiven && !dateGiven && !isNew {
		return nil
	}

	status := content.StatusDraft
	if current != nil {
		status = current.Status
	}
	if statusGiven {
		status = content.Status(content.CoerceString(out[content.FieldStatus]))
	}
	if status.IsPlaceholder() {
		status = s.deps.PlaceholderStatus
	}
	if statusGiven {
		if err := validation.ValidateEnum(string(status), content.FieldStatus, knownStatuses); err != nil {
			return err
		}
	}

	var date time.Time
	if dateGiven {
		t, ok := parseDate(out[content.FieldDate])
		if !ok {
			return errors.NewFieldError(errors.ErrCodeInvalidDate, content.FieldDate, "invalid date")
		}
		date = t
	} else if current != nil {
		date = current.Date
	}

	now := s.deps.Now()
	if date.IsZero() && publishable(status) {
		date = now
	}
	if status == content.StatusPublish || status == content.StatusFuture {
		if date.After(now) {
			status = content.StatusFuture
		} else {
			status = content.StatusPublish
		}
	}
	out[content.FieldStatus] = status
	out[content.FieldDate] = date
	return nil
}

// sanitizeSlug 非草稿类状态下 slug 为空时由标题生成
func (s *entitySetting) sanitizeSlug(out, merged content.Fields, isNew bool) {
	if !hasKey(out, content.FieldName) && !hasKey(out, content.FieldStatus) && !isNew {
		return
	}
	if merged.String(content.FieldName) != "" || merged.Status().IsUnpublished() {
		return
	}
	if slug := content.Slugify(merged.String(content.FieldTitle)); slug != "" {
		out[content.FieldName] = slug
	}
}

// sanitizeAuthor 作者默认为当前操作者；只有能编辑他人内容的操作者才能指定别人
func (s *entitySetting) sanitizeAuthor(ctx context.Context, out content.Fields, isNew bool) {
	actor := s.deps.Actor.ID
	v, ok := out[content.FieldAuthor]
	if !ok {
		if isNew {
			out[content.FieldAuthor] = actor
		}
		return
	}
	author, valid := content.CoerceInt64(v)
	if !valid || author <= 0 || (author != actor && !s.registry.can(ctx, capability.ActionEditOthersPosts, s.id.Ref(), "")) {
		author = actor
	}
	out[content.FieldAuthor] = author
}

func (s *entitySetting) Preview(ctx context.Context) bool {
	if s.previewed {
		return true
	}
	s.previewed = true
	raw, ok := s.rawValue()
	if !ok {
		return true
	}
	v, _ := s.Sanitize(ctx, raw, Lenient)
	fields, ok := v.(content.Fields)
	if !ok || fields == nil {
		return true
	}
	staged := fields.Clone()
	delete(staged, content.FieldModified)
	s.staged = staged
	if s.deps.Overlay != nil {
		s.deps.Overlay.StageFields(s.id.Ref(), staged)
	}
	s.logger.Debug(ctx, "entity setting previewed", logging.Int("fields", len(staged)))
	return true
}

func (s *entitySetting) Save(ctx context.Context) (bool, error) {
	raw, ok := s.rawValue()
	if !ok {
		return false, nil
	}
	v, err := s.Sanitize(ctx, raw, Strict)
	if err != nil {
		return false, err
	}
	sanitized, ok := toFields(v)
	if !ok {
		return false, attribute(errors.NewError(errors.ErrCodeInvalidInput, "sanitized entity value is not an object"), s.id, "value")
	}
	fields := sanitized.Clone()
	baseline := fields.Time(content.FieldModified)
	delete(fields, content.FieldModified)

	ctx = s.deps.actorCtx(ctx)
	ref := s.ref()
	if ref.IsPlaceholder() {
		return s.create(ctx, ref, fields)
	}

	current, err := s.deps.Store.GetEntity(ctx, ref)
	if err != nil {
		return false, attribute(errors.WrapStoreError(ctx, err, "get entity"), s.id, "")
	}
	if err := s.checkWrite(ctx, ref, current, fields, baseline); err != nil {
		return false, err
	}

	status := current.Status
	switch {
	case fields.Status() == content.StatusTrash:
		status = content.StatusTrash
		if _, err := s.deps.Store.TrashEntity(ctx, ref); err != nil {
			return false, attribute(errors.WrapStoreError(ctx, err, "trash entity"), s.id, "")
		}
	case len(fields) > 0:
		if st := fields.Status(); st != "" {
			status = st
		}
		if _, err := s.deps.Store.UpsertEntity(ctx, ref, fields); err != nil {
			return false, attribute(errors.WrapStoreError(ctx, err, "update entity"), s.id, "")
		}
	}
	s.logger.Debug(ctx, "entity setting saved", logging.String("status", string(status)))
	s.publishSaved(ctx, ref, ref, status)
	return true, nil
}

// PreCheck 只执行写前检查（编辑锁、冲突），不写存储
func (s *entitySetting) PreCheck(ctx context.Context) error {
	raw, ok := s.rawValue()
	if !ok {
		return nil
	}
	v, err := s.Sanitize(ctx, raw, Strict)
	if err != nil {
		return err
	}
	fields, _ := toFields(v)
	ref := s.ref()
	if ref.IsPlaceholder() {
		return nil
	}
	current, err := s.deps.Store.GetEntity(ctx, ref)
	if err != nil {
		return attribute(errors.WrapStoreError(ctx, err, "get entity"), s.id, "")
	}
	fields = fields.Clone()
	baseline := fields.Time(content.FieldModified)
	delete(fields, content.FieldModified)
	return s.checkWrite(ctx, ref, current, fields, baseline)
}

// checkWrite 非空提交依次做编辑锁检查与冲突检查
func (s *entitySetting) checkWrite(ctx context.Context, ref content.EntityRef, current *content.Entity, fields content.Fields, baseline time.Time) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.checkLock(ctx, ref); err != nil {
		return err
	}
	if s.registry.conflictOverridden(s.id) {
		return nil
	}
	rec := s.deps.Detector.Detect(s.id.String(), baseline, current, fields)
	if rec == nil {
		return nil
	}
	s.registry.recordConflict(rec)
	s.logger.Warn(ctx, "update conflict",
		logging.Any("conflicting_fields", rec.ConflictingFields),
		logging.Int64("modified_by", rec.ModifiedBy))
	return rec.Err()
}

// create 占位实体首次保存：创建真实实体并记录映射
func (s *entitySetting) create(ctx context.Context, placeholder content.EntityRef, fields content.Fields) (bool, error) {
	if fields.Status() == content.StatusTrash {
		return true, nil
	}
	ref, err := s.deps.Store.UpsertEntity(ctx, placeholder, fields)
	if err != nil {
		return false, attribute(errors.WrapStoreError(ctx, err, "insert entity"), s.id, "")
	}
	s.registry.BindPlaceholder(placeholder, ref)
	s.logger.Debug(ctx, "placeholder entity created", logging.String("ref", ref.String()))
	s.publishSaved(ctx, placeholder, ref, fields.Status())
	return true, nil
}

func (s *entitySetting) checkLock(ctx context.Context, ref content.EntityRef) error {
	holder, locked, err := s.deps.Store.GetEditLockHolder(ctx, ref)
	if err != nil {
		return attribute(errors.WrapStoreError(ctx, err, "get edit lock"), s.id, "")
	}
	if !locked || holder == s.deps.Actor.ID {
		return nil
	}
	s.logger.Warn(ctx, "entity locked by another user", logging.Int64("lock_holder", holder))
	return errors.Newf(errors.ErrCodeLocked, "%s is currently being edited by another user", ref).
		WithDetails(map[string]any{errors.DetailLockHolder: holder, errors.DetailSettingID: s.id.String()})
}

func publishable(s content.Status) bool {
	return s == content.StatusPublish || s == content.StatusFuture || s == content.StatusPrivate
}

func hasKey(f content.Fields, key string) bool {
	_, ok := f[key]
	return ok
}

func toFields(raw any) (content.Fields, bool) {
	switch m := raw.(type) {
	case content.Fields:
		return m, true
	case map[string]any:
		return content.Fields(m), true
	}
	return nil, false
}

// parseDate 接受 time.Time 或常见日期字符串；空值与全零日期视为零值
func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, true
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, true
		}
		return *t, true
	}
	raw, isStr := v.(string)
	if !isStr {
		return time.Time{}, false
	}
	str := strings.TrimSpace(raw)
	if str == "" || str == "0000-00-00 00:00:00" {
		return time.Time{}, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
