package setting

import (
	"context"
	"sync"

	"stagekit/capability"
	"stagekit/conflict"
	"stagekit/content"
	"stagekit/errors"
	"stagekit/logging"
)

// Registry 会话级 Setting 注册表
//
// 持有本会话全部 Setting 实例、客户端提交的脏值（按提交顺序）、
// 占位引用到真实引用的映射，以及提交期间产生的冲突记录。
type Registry struct {
	deps *Deps

	mu           sync.Mutex
	settings     map[string]ISetting
	raw          map[string]any
	order        []Identifier
	placeholders map[content.EntityRef]content.EntityRef
	overrides    map[string]bool
	conflicts    map[string]*conflict.Record
}

// NewRegistry 创建会话注册表
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:         deps.withDefaults(),
		settings:     make(map[string]ISetting),
		raw:          make(map[string]any),
		placeholders: make(map[content.EntityRef]content.EntityRef),
		overrides:    make(map[string]bool),
		conflicts:    make(map[string]*conflict.Record),
	}
}

// Deps 返回会话协作者
func (r *Registry) Deps() *Deps {
	return r.deps
}

// Resolve 解析标识并按领域约束校验：实体类型必须已注册，
// 分类法必须已注册且关联到该实体类型；元数据键无需预先注册
func (r *Registry) Resolve(s string) (Identifier, error) {
	id, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if err := r.validate(id); err != nil {
		return nil, err
	}
	return id, nil
}

func (r *Registry) validate(id Identifier) error {
	ref := id.Ref()
	if _, ok := r.deps.Schema.Type(ref.Type); !ok {
		return errors.Newf(errors.ErrCodeUnknownEntityType, "unknown entity type %q", ref.Type).
			WithDetails(map[string]any{errors.DetailSettingID: id.String(), errors.DetailField: "type"})
	}
	if tid, ok := id.(TermsValueID); ok {
		tax, ok := r.deps.Schema.Taxonomy(tid.Taxonomy)
		if !ok || !tax.AppliesTo(tid.Type) {
			return errors.Newf(errors.ErrCodeUnknownTaxonomy, "taxonomy %q is not registered for %q", tid.Taxonomy, tid.Type).
				WithDetails(map[string]any{errors.DetailSettingID: id.String(), errors.DetailField: "taxonomy"})
		}
	}
	return nil
}

// GetOrCreateSetting 返回会话内缓存的 Setting，不存在时构造
func (r *Registry) GetOrCreateSetting(ctx context.Context, id Identifier) (ISetting, error) {
	return r.getOrCreate(ctx, id, Args{}, false)
}

// Register 显式注册 Setting；已存在时以新参数重建
func (r *Registry) Register(ctx context.Context, id Identifier, args Args) (ISetting, error) {
	return r.getOrCreate(ctx, id, args, true)
}

func (r *Registry) getOrCreate(ctx context.Context, id Identifier, args Args, replace bool) (ISetting, error) {
	key := id.String()
	r.mu.Lock()
	if s, ok := r.settings[key]; ok && !replace {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	if err := r.validate(id); err != nil {
		return nil, err
	}
	s, err := r.construct(ctx, id, args)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.settings[key]; ok && !replace {
		return existing, nil
	}
	r.settings[key] = s
	r.deps.Logger.Debug(ctx, "setting constructed",
		logging.String("setting_id", key),
		logging.String("capability", s.Capability()))
	return s, nil
}

func (r *Registry) construct(ctx context.Context, id Identifier, args Args) (ISetting, error) {
	switch v := id.(type) {
	case EntityValueID:
		return newEntitySetting(ctx, r, v, args), nil
	case MetaValueID:
		return newMetaSetting(ctx, r, v, args), nil
	case TermsValueID:
		return newTermsSetting(ctx, r, v, args), nil
	}
	return nil, errors.Newf(errors.ErrCodeInvalidIdentifier, "unsupported identifier %T", id)
}

// Setting 返回已构造的 Setting
func (r *Registry) Setting(id Identifier) (ISetting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[id.String()]
	return s, ok
}

// Settings 已构造的全部 Setting
func (r *Registry) Settings() []ISetting {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ISetting, 0, len(r.settings))
	for _, s := range r.settings {
		out = append(out, s)
	}
	return out
}

// SetRawValue 暂存客户端原始值；重复调用覆盖，但保留首次提交的位置
func (r *Registry) SetRawValue(id Identifier, raw any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := id.String()
	if _, ok := r.raw[key]; !ok {
		r.order = append(r.order, id)
	}
	r.raw[key] = raw
}

// RawValue 读取暂存的原始值
func (r *Registry) RawValue(id Identifier) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.raw[id.String()]
	return v, ok
}

// RawValues 全部脏值，键为标识字符串
func (r *Registry) RawValues() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.raw))
	for k, v := range r.raw {
		out[k] = v
	}
	return out
}

// AllDirtyIdentifiers 全部有脏值的标识，按提交顺序
func (r *Registry) AllDirtyIdentifiers() []Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Identifier(nil), r.order...)
}

// BindPlaceholder 记录占位引用落库后的真实引用
func (r *Registry) BindPlaceholder(placeholder, resolved content.EntityRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placeholders[placeholder] = resolved
}

// ResolveRef 将已落库的占位引用换成真实引用，其余原样返回
func (r *Registry) ResolveRef(ref content.EntityRef) content.EntityRef {
	if !ref.IsPlaceholder() {
		return ref
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if resolved, ok := r.placeholders[ref]; ok {
		return resolved
	}
	return ref
}

// ResolvedPlaceholders 占位引用到真实引用的映射副本
func (r *Registry) ResolvedPlaceholders() map[content.EntityRef]content.EntityRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[content.EntityRef]content.EntityRef, len(r.placeholders))
	for k, v := range r.placeholders {
		out[k] = v
	}
	return out
}

// OverrideConflicts 以 ids 替换当前的覆盖集合，被覆盖的 Setting 跳过冲突检查
//
// 不传参数即清空；覆盖只对一次提交有效。
func (r *Registry) OverrideConflicts(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.overrides)
	for _, id := range ids {
		r.overrides[id] = true
	}
}

func (r *Registry) conflictOverridden(id Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overrides[id.String()]
}

func (r *Registry) recordConflict(rec *conflict.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[rec.SettingID] = rec
}

// Conflicts 本次请求产生的冲突记录（不持久化）
func (r *Registry) Conflicts() map[string]*conflict.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*conflict.Record, len(r.conflicts))
	for k, v := range r.conflicts {
		out[k] = v
	}
	return out
}

// ClearConflicts 清空冲突记录
func (r *Registry) ClearConflicts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = make(map[string]*conflict.Record)
}

func (r *Registry) can(ctx context.Context, action capability.Action, ref content.EntityRef, field string) bool {
	return r.deps.Oracle.CanActorPerform(ctx, r.deps.Actor, action, ref, field)
}
