package setting

import (
	"context"
	stdErrors "errors"
	"strings"

	"stagekit/capability"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
	"stagekit/schema"
	"stagekit/store"
)

// termsSetting 实体在某分类法下的分类项集合
type termsSetting struct {
	base
	id        TermsValueID
	tax       *schema.Taxonomy
	filters   []TermsFilter
	staged    []int64
	hasStaged bool
}

func newTermsSetting(ctx context.Context, r *Registry, id TermsValueID, args Args) *termsSetting {
	tax, _ := r.deps.Schema.Taxonomy(id.Taxonomy)
	capName := args.Capability
	if capName == "" {
		capName = tax.AssignCap
	}
	capName = capability.SettingCapability(ctx, r.deps.Oracle, r.deps.Actor, capability.ActionAssignTerms, id.Ref(), id.Taxonomy, capName)
	if args.Default == nil {
		args.Default = []int64{}
	}
	var filters []TermsFilter
	if tax.Singleton {
		filters = append(filters, SingletonTermsFilter(r.deps.Store))
	}
	filters = append(filters, args.TermsFilters...)
	return &termsSetting{base: newBase(r, id, args, capName), id: id, tax: tax, filters: filters}
}

func (s *termsSetting) Value(ctx context.Context) (any, error) {
	if s.previewed && s.hasStaged {
		return append([]int64{}, s.staged...), nil
	}
	ref := s.ref()
	if ref.IsPlaceholder() {
		return s.args.Default, nil
	}
	list, err := s.deps.Store.GetTerms(ctx, ref, s.id.Taxonomy, content.TermFieldsIDs)
	if err != nil {
		return nil, errors.WrapStoreError(ctx, err, "get terms")
	}
	return list.TermIDs(), nil
}

func (s *termsSetting) ExportedValue(ctx context.Context) (any, error) {
	v, err := s.Value(ctx)
	if err != nil {
		return nil, err
	}
	return s.export(v), nil
}

func (s *termsSetting) Sanitize(ctx context.Context, raw any, mode Mode) (any, error) {
	ids, err := s.sanitize(ctx, raw, mode)
	if err != nil {
		return s.finish(ctx, nil, err, mode, s.id.Taxonomy)
	}
	return s.finish(ctx, ids, nil, mode, s.id.Taxonomy)
}

func (s *termsSetting) sanitize(ctx context.Context, raw any, mode Mode) ([]int64, error) {
	list, ok := toList(raw)
	if !ok {
		return nil, errors.NewFieldError(errors.ErrCodeExpectedArray, s.id.Taxonomy, "term ids must be an array")
	}
	ref := s.ref()
	for _, f := range s.filters {
		var err error
		if list, err = f(ctx, ref, s.id.Taxonomy, list, mode); err != nil {
			return nil, err
		}
	}

	ids := make([]int64, 0, len(list))
	seen := make(map[int64]bool, len(list))
	for _, v := range list {
		id, ok := content.CoerceInt64(v)
		if !ok || id <= 0 {
			return nil, errors.NewFieldError(errors.ErrCodeInvalidTermID, s.id.Taxonomy, "term id must be a positive integer").
				WithContext("value", v)
		}
		if seen[id] {
			continue
		}
		if _, err := s.deps.Store.GetTerm(ctx, s.id.Taxonomy, id); err != nil {
			if stdErrors.Is(err, store.ErrTermNotFound) {
				return nil, errors.NewFieldError(errors.ErrCodeMissingTerm, s.id.Taxonomy, "term does not exist").
					WithContext("term_id", id)
			}
			return nil, err
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if s.tax.Singleton && len(ids) > 1 {
		ids = ids[:1]
	}
	return ids, nil
}

func (s *termsSetting) Preview(ctx context.Context) bool {
	if s.previewed {
		return true
	}
	s.previewed = true
	raw, ok := s.rawValue()
	if !ok {
		return true
	}
	v, _ := s.Sanitize(ctx, raw, Lenient)
	ids, ok := v.([]int64)
	if !ok {
		return true
	}
	s.staged = append([]int64{}, ids...)
	s.hasStaged = true
	if s.deps.Overlay != nil {
		s.deps.Overlay.StageTerms(s.id.Ref(), s.id.Taxonomy, s.staged)
	}
	s.logger.Debug(ctx, "terms setting previewed", logging.Int("terms", len(ids)))
	return true
}

func (s *termsSetting) Save(ctx context.Context) (bool, error) {
	raw, ok := s.rawValue()
	if !ok {
		return false, nil
	}
	v, err := s.Sanitize(ctx, raw, Strict)
	if err != nil {
		return false, err
	}
	ids, _ := v.([]int64)
	ref := s.ref()
	if ref.IsPlaceholder() {
		return false, attribute(store.ErrPlaceholderWrite, s.id, s.id.Taxonomy)
	}
	ok, err = s.deps.Store.SetTerms(s.deps.actorCtx(ctx), ref, s.id.Taxonomy, ids)
	if err != nil {
		return false, attribute(errors.WrapStoreError(ctx, err, "set terms"), s.id, s.id.Taxonomy)
	}
	s.logger.Debug(ctx, "terms setting saved", logging.Int("terms", len(ids)))
	return ok, nil
}

// SingletonTermsFilter 单例分类法：非数字元素按 slug 映射到分类项 ID，
// 严格模式下缺失的分类项会被创建，宽松模式下直接丢弃
func SingletonTermsFilter(st store.IStore) TermsFilter {
	return func(ctx context.Context, ref content.EntityRef, taxonomy string, values []any, mode Mode) ([]any, error) {
		out := make([]any, 0, len(values))
		for _, v := range values {
			name, isStr := v.(string)
			if _, numeric := content.CoerceInt64(v); numeric || !isStr || strings.TrimSpace(name) == "" {
				out = append(out, v)
				continue
			}
			slug := content.Slugify(name)
			term, err := st.GetTermBySlug(ctx, taxonomy, slug)
			if err == nil {
				out = append(out, term.ID)
				continue
			}
			if !stdErrors.Is(err, store.ErrTermNotFound) {
				return nil, err
			}
			if mode == Lenient {
				continue
			}
			id, err := st.InsertTerm(ctx, taxonomy, strings.TrimSpace(name), slug)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	}
}
