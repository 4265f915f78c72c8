package setting

import (
	"context"
	"reflect"

	"stagekit/capability"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/schema"
	"stagekit/store"
)

// metaSetting 实体的一个元数据键；单值或有序多值
type metaSetting struct {
	base
	id        MetaValueID
	def       *schema.MetaDef
	single    bool
	staged    []any
	hasStaged bool
}

func newMetaSetting(ctx context.Context, r *Registry, id MetaValueID, args Args) *metaSetting {
	def, registered := r.deps.Schema.Meta(id.Type, id.Key)
	capName := args.Capability
	if capName == "" && registered {
		capName = def.Capability
	}
	if capName == "" {
		typ, _ := r.deps.Schema.Type(id.Type)
		capName = typ.Caps.EditPosts
	}
	capName = capability.SettingCapability(ctx, r.deps.Oracle, r.deps.Actor, capability.ActionEditPostMeta, id.Ref(), id.Key, capName)

	single := !registered || def.Single
	if args.Default == nil {
		if registered && def.Default != nil {
			args.Default = def.Default
		} else if !single {
			args.Default = []any{}
		}
	}
	if args.Export == nil && registered && def.Export != nil {
		args.Export = def.Export
	}
	return &metaSetting{base: newBase(r, id, args, capName), id: id, def: def, single: single}
}

// IsSingle 是否单值模式
func (s *metaSetting) IsSingle() bool {
	return s.single
}

func (s *metaSetting) persisted(ctx context.Context) ([]any, error) {
	ref := s.ref()
	if ref.IsPlaceholder() {
		return nil, nil
	}
	return s.deps.Store.GetMeta(ctx, ref, s.id.Key)
}

func (s *metaSetting) Value(ctx context.Context) (any, error) {
	values, err := s.persisted(ctx)
	if err != nil {
		return nil, errors.WrapStoreError(ctx, err, "get meta")
	}
	if s.previewed && s.hasStaged {
		values = s.staged
	}
	if !s.single {
		return append([]any{}, values...), nil
	}
	if v := store.SingleMeta(values); v != nil {
		return v, nil
	}
	return s.args.Default, nil
}

func (s *metaSetting) ExportedValue(ctx context.Context) (any, error) {
	v, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	return s.export(v), nil
}

func (s *metaSetting) Sanitize(ctx context.Context, raw any, mode Mode) (any, error) {
	if s.single {
		v, err := s.sanitizeOne(ctx, raw)
		return s.finish(ctx, v, err, mode, s.id.Key)
	}
	list, ok := toList(raw)
	if !ok {
		err := errors.NewFieldError(errors.ErrCodeExpectedArray, s.id.Key, "multi-valued meta expects an array")
		return s.finish(ctx, nil, err, mode, s.id.Key)
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		v, err := s.sanitizeOne(ctx, item)
		if err != nil {
			return s.finish(ctx, nil, err, mode, s.id.Key)
		}
		out = append(out, v)
	}
	return s.finish(ctx, out, nil, mode, s.id.Key)
}

// sanitizeOne 单个值：外部净化 → 外部校验 → 写入否决
func (s *metaSetting) sanitizeOne(ctx context.Context, raw any) (any, error) {
	v := raw
	if s.def == nil {
		return v, nil
	}
	if s.def.Sanitize != nil {
		var err error
		if v, err = s.def.Sanitize(ctx, v); err != nil {
			return nil, err
		}
	}
	if s.def.Validate != nil {
		if err := s.def.Validate(ctx, s.deps.Store, s.ref(), v); err != nil {
			return nil, err
		}
	}
	if s.def.MayWrite != nil && !s.def.MayWrite(ctx, s.deps.Actor.ID, s.ref(), v) {
		return nil, errors.NewFieldError(errors.ErrCodeNotAllowed, s.id.Key, "writing this meta value is not allowed")
	}
	return v, nil
}

func (s *metaSetting) Preview(ctx context.Context) bool {
	if s.previewed {
		return true
	}
	s.previewed = true
	raw, ok := s.rawValue()
	if !ok {
		return true
	}
	// 单值 nil 表示删除，失败需与之区分，故按严格模式净化后自行吞掉错误
	v, err := s.Sanitize(ctx, raw, Strict)
	if err != nil {
		s.logger.Warn(ctx, "preview skipped invalid meta value", logging.Error(err))
		return true
	}
	s.staged = s.asList(v)
	s.hasStaged = true
	if s.deps.Overlay != nil {
		s.deps.Overlay.StageMeta(s.id.Ref(), s.id.Key, s.staged)
	}
	s.logger.Debug(ctx, "meta setting previewed")
	return true
}

// asList 统一为存储使用的值列表；单值 nil 表示删除
func (s *metaSetting) asList(v any) []any {
	if !s.single {
		list, _ := v.([]any)
		return append([]any{}, list...)
	}
	if v == nil {
		return []any{}
	}
	return []any{v}
}

func (s *metaSetting) Save(ctx context.Context) (bool, error) {
	raw, ok := s.rawValue()
	if !ok {
		return false, nil
	}
	v, err := s.Sanitize(ctx, raw, Strict)
	if err != nil {
		return false, err
	}
	ref := s.ref()
	if ref.IsPlaceholder() {
		return false, attribute(store.ErrPlaceholderWrite, s.id, s.id.Key)
	}
	ctx = s.deps.actorCtx(ctx)

	if s.single {
		if v == nil {
			err = s.deps.Store.DeleteMeta(ctx, ref, s.id.Key, nil)
		} else {
			err = s.deps.Store.UpdateMeta(ctx, ref, s.id.Key, v)
		}
		if err != nil {
			return false, attribute(errors.WrapStoreError(ctx, err, "write meta"), s.id, s.id.Key)
		}
		s.logger.Debug(ctx, "meta setting saved")
		return true, nil
	}

	next := s.asList(v)
	existing, err := s.deps.Store.GetMeta(ctx, ref, s.id.Key)
	if err != nil {
		return false, attribute(errors.WrapStoreError(ctx, err, "get meta"), s.id, s.id.Key)
	}
	if listsEqual(existing, next) {
		return true, nil
	}
	if err := s.deps.Store.ReplaceMeta(ctx, ref, s.id.Key, next); err != nil {
		return false, attribute(errors.WrapStoreError(ctx, err, "replace meta"), s.id, s.id.Key)
	}
	s.logger.Debug(ctx, "meta setting saved", logging.Int("values", len(next)))
	return true, nil
}

func listsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !content.ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// toList 接受任意切片（[]byte 除外）
func toList(raw any) ([]any, bool) {
	switch l := raw.(type) {
	case []any:
		return l, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
