// Package preview 实现会话级预览覆盖层
//
// Overlay 是底层实体存储的显式装饰器：请求管线通过它读取实体，
// 它在读路径上把已预览 Setting 的未提交值拼接进结果，
// 且只覆盖当前操作者有权编辑的字段、元数据键与分类法。写路径原样透传。
package preview

import (
	"context"
	stdErrors "errors"
	"sync"

	"stagekit/capability"
	"stagekit/content"
	"stagekit/logging"
	"stagekit/store"
)

// Record 单个实体的覆盖记录
type Record struct {
	Fields content.Fields
	Meta   map[string][]any
	Terms  map[string][]int64
}

func newRecord() *Record {
	return &Record{
		Fields: content.Fields{},
		Meta:   make(map[string][]any),
		Terms:  make(map[string][]int64),
	}
}

// Config 覆盖层配置
type Config struct {
	Oracle capability.IOracle
	Actor  capability.Actor
	Logger logging.Logger
}

// Option 配置项
type Option func(*Config)

// WithOracle 设置逐字段授权判定服务
func WithOracle(o capability.IOracle) Option {
	return func(c *Config) { c.Oracle = o }
}

// WithActor 设置会话操作者
func WithActor(a capability.Actor) Option {
	return func(c *Config) { c.Actor = a }
}

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Overlay 预览覆盖层
type Overlay struct {
	inner  store.IStore
	oracle capability.IOracle
	actor  capability.Actor
	logger logging.Logger

	mu      sync.RWMutex
	records map[content.EntityRef]*Record
}

var _ store.IStore = (*Overlay)(nil)

// New 包装底层存储；未设置判定服务时拒绝一切覆盖
func New(inner store.IStore, opts ...Option) *Overlay {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Oracle == nil {
		cfg.Oracle = capability.DenyAll
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("preview")
	}
	return &Overlay{
		inner:   inner,
		oracle:  cfg.Oracle,
		actor:   cfg.Actor,
		logger:  cfg.Logger,
		records: make(map[content.EntityRef]*Record),
	}
}

// Inner 底层存储
func (o *Overlay) Inner() store.IStore {
	return o.inner
}

// Armed 是否已有实体被预览
func (o *Overlay) Armed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.records) > 0
}

// IsArmed 某实体的读拦截是否已启用
func (o *Overlay) IsArmed(ref content.EntityRef) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.records[ref]
	return ok
}

// record 取出或创建覆盖记录（需持写锁）；首次创建即启用该实体的读拦截
func (o *Overlay) record(ref content.EntityRef) *Record {
	r, ok := o.records[ref]
	if !ok {
		r = newRecord()
		o.records[ref] = r
		o.logger.Debug(context.Background(), "preview armed", logging.String("ref", ref.String()))
	}
	return r
}

// StageFields 登记实体字段覆盖值；同一字段后到者胜出
func (o *Overlay) StageFields(ref content.EntityRef, fields content.Fields) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.record(ref)
	for k, v := range fields {
		r.Fields[k] = v
	}
}

// StageMeta 登记元数据覆盖值；空列表表示预览删除
func (o *Overlay) StageMeta(ref content.EntityRef, key string, values []any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(ref).Meta[key] = append([]any{}, values...)
}

// StageTerms 登记分类项覆盖值
func (o *Overlay) StageTerms(ref content.EntityRef, taxonomy string, termIDs []int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(ref).Terms[taxonomy] = append([]int64{}, termIDs...)
}

// Snapshot 返回某实体覆盖记录的副本
func (o *Overlay) Snapshot(ref content.EntityRef) (*Record, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.records[ref]
	if !ok {
		return nil, false
	}
	cp := newRecord()
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	for k, v := range r.Meta {
		cp.Meta[k] = append([]any{}, v...)
	}
	for k, v := range r.Terms {
		cp.Terms[k] = append([]int64{}, v...)
	}
	return cp, true
}

// Reset 清空全部覆盖记录
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = make(map[content.EntityRef]*Record)
}

// Rebind 占位实体落库后把覆盖记录迁移到真实引用
func (o *Overlay) Rebind(placeholder, resolved content.EntityRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.records[placeholder]; ok {
		delete(o.records, placeholder)
		o.records[resolved] = r
	}
}

type guardKey struct{}

// intercepting 覆盖计算期间发起的内部读取直接走底层存储
func intercepting(ctx context.Context) bool {
	v, _ := ctx.Value(guardKey{}).(bool)
	return v
}

func guarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, true)
}

// lookup 取出拦截所需的覆盖记录；守卫生效或未启用时返回 nil
func (o *Overlay) lookup(ctx context.Context, ref content.EntityRef) *Record {
	if intercepting(ctx) {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.records[ref]
}

func (o *Overlay) allowed(ctx context.Context, action capability.Action, ref content.EntityRef, field string) bool {
	return o.oracle.CanActorPerform(ctx, o.actor, action, ref, field)
}

func (o *Overlay) GetEntity(ctx context.Context, ref content.EntityRef) (*content.Entity, error) {
	r := o.lookup(ctx, ref)
	if r == nil {
		return o.inner.GetEntity(ctx, ref)
	}
	gctx := guarded(ctx)

	e, err := o.inner.GetEntity(gctx, ref)
	if err != nil {
		if !stdErrors.Is(err, store.ErrEntityNotFound) || !ref.IsPlaceholder() {
			return nil, err
		}
		// 会话内尚未落库的占位实体，由覆盖值合成
		e = &content.Entity{Ref: ref, Status: content.StatusAutoDraft}
	}

	allowed := content.Fields{}
	o.mu.RLock()
	fields := r.Fields.Clone()
	o.mu.RUnlock()
	for k, v := range fields {
		if k == content.FieldModified || k == content.FieldType {
			continue
		}
		if o.allowed(gctx, capability.ActionEditPost, ref, k) {
			allowed[k] = v
		}
	}
	out := e.Apply(allowed)
	out.Ref = ref
	return out, nil
}

func (o *Overlay) GetMeta(ctx context.Context, ref content.EntityRef, key string) ([]any, error) {
	r := o.lookup(ctx, ref)
	if r == nil {
		return o.inner.GetMeta(ctx, ref, key)
	}
	gctx := guarded(ctx)
	o.mu.RLock()
	staged, ok := r.Meta[key]
	staged = append([]any{}, staged...)
	o.mu.RUnlock()
	if ok && o.allowed(gctx, capability.ActionEditPostMeta, ref, key) {
		return staged, nil
	}
	if ref.IsPlaceholder() {
		return []any{}, nil
	}
	return o.inner.GetMeta(gctx, ref, key)
}

// GetAllMeta 受保护键保留持久值，有覆盖且已授权的键使用覆盖值；
// 整个键一并替换，不对复合值做部分合并
func (o *Overlay) GetAllMeta(ctx context.Context, ref content.EntityRef) (map[string][]any, error) {
	r := o.lookup(ctx, ref)
	if r == nil {
		return o.inner.GetAllMeta(ctx, ref)
	}
	gctx := guarded(ctx)

	out := make(map[string][]any)
	if !ref.IsPlaceholder() {
		persisted, err := o.inner.GetAllMeta(gctx, ref)
		if err != nil {
			return nil, err
		}
		for k, v := range persisted {
			out[k] = v
		}
	}

	o.mu.RLock()
	staged := make(map[string][]any, len(r.Meta))
	for k, v := range r.Meta {
		staged[k] = append([]any{}, v...)
	}
	o.mu.RUnlock()
	for key, values := range staged {
		if !o.allowed(gctx, capability.ActionEditPostMeta, ref, key) {
			continue
		}
		if len(values) == 0 {
			delete(out, key)
			continue
		}
		out[key] = values
	}
	return out, nil
}

// GetTerms 覆盖分类项后按读取模式整形，不给本不携带 ObjectID 的模式补上该字段
func (o *Overlay) GetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, mode content.TermFields) (content.TermList, error) {
	r := o.lookup(ctx, ref)
	if r == nil {
		return o.inner.GetTerms(ctx, ref, taxonomy, mode)
	}
	gctx := guarded(ctx)
	o.mu.RLock()
	ids, ok := r.Terms[taxonomy]
	ids = append([]int64{}, ids...)
	o.mu.RUnlock()
	if !ok || !o.allowed(gctx, capability.ActionAssignTerms, ref, taxonomy) {
		if ref.IsPlaceholder() {
			return content.ShapeTerms(mode, nil, ref.ID), nil
		}
		return o.inner.GetTerms(gctx, ref, taxonomy, mode)
	}

	terms := make([]content.Term, 0, len(ids))
	for _, id := range ids {
		t, err := o.inner.GetTerm(gctx, taxonomy, id)
		if err != nil {
			if stdErrors.Is(err, store.ErrTermNotFound) {
				continue
			}
			return content.TermList{}, err
		}
		terms = append(terms, *t)
	}
	return content.ShapeTerms(mode, terms, ref.ID), nil
}

func (o *Overlay) GetTerm(ctx context.Context, taxonomy string, id int64) (*content.Term, error) {
	return o.inner.GetTerm(ctx, taxonomy, id)
}

func (o *Overlay) GetTermBySlug(ctx context.Context, taxonomy, slug string) (*content.Term, error) {
	return o.inner.GetTermBySlug(ctx, taxonomy, slug)
}

func (o *Overlay) UpsertEntity(ctx context.Context, ref content.EntityRef, fields content.Fields) (content.EntityRef, error) {
	return o.inner.UpsertEntity(ctx, ref, fields)
}

func (o *Overlay) TrashEntity(ctx context.Context, ref content.EntityRef) (bool, error) {
	return o.inner.TrashEntity(ctx, ref)
}

func (o *Overlay) SetEntityStatus(ctx context.Context, ref content.EntityRef, status content.Status) error {
	return o.inner.SetEntityStatus(ctx, ref, status)
}

func (o *Overlay) UpdateMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	return o.inner.UpdateMeta(ctx, ref, key, value)
}

func (o *Overlay) AddMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	return o.inner.AddMeta(ctx, ref, key, value)
}

func (o *Overlay) DeleteMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	return o.inner.DeleteMeta(ctx, ref, key, value)
}

func (o *Overlay) ReplaceMeta(ctx context.Context, ref content.EntityRef, key string, values []any) error {
	return o.inner.ReplaceMeta(ctx, ref, key, values)
}

func (o *Overlay) SetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, termIDs []int64) (bool, error) {
	return o.inner.SetTerms(ctx, ref, taxonomy, termIDs)
}

func (o *Overlay) InsertTerm(ctx context.Context, taxonomy, name, slug string) (int64, error) {
	return o.inner.InsertTerm(ctx, taxonomy, name, slug)
}

func (o *Overlay) GetEditLockHolder(ctx context.Context, ref content.EntityRef) (int64, bool, error) {
	return o.inner.GetEditLockHolder(ctx, ref)
}

func (o *Overlay) SetEditLock(ctx context.Context, ref content.EntityRef, actor int64) error {
	return o.inner.SetEditLock(ctx, ref, actor)
}

func (o *Overlay) ListByStatus(ctx context.Context, status content.Status) ([]content.EntityRef, error) {
	return o.inner.ListByStatus(ctx, status)
}
