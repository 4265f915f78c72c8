// Package memory 提供实体存储适配器的内存实现
//
// 用于测试与演示；并发安全，修改时间戳在写锁内单调推进。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stagekit/content"
	"stagekit/store"
)

type lock struct {
	holder int64
	at     time.Time
}

// Store 内存实体存储
type Store struct {
	mu sync.RWMutex

	now     func() time.Time
	lockTTL time.Duration

	nextEntityID int64
	nextTermID   int64
	lastModified time.Time

	entities map[content.EntityRef]*content.Entity
	meta     map[content.EntityRef]map[string][]any
	terms    map[string]map[int64]content.Term
	assigned map[content.EntityRef]map[string][]int64
	locks    map[content.EntityRef]lock
}

// Option 配置项
type Option func(*Store)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLockTTL 设置编辑锁有效期
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// New 创建内存存储
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		lockTTL:  store.DefaultEditLockTTL,
		entities: make(map[content.EntityRef]*content.Entity),
		meta:     make(map[content.EntityRef]map[string][]any),
		terms:    make(map[string]map[int64]content.Term),
		assigned: make(map[content.EntityRef]map[string][]int64),
		locks:    make(map[content.EntityRef]lock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.IStore = (*Store)(nil)

// tick 返回严格递增的修改时间（需持写锁）
func (s *Store) tick() time.Time {
	t := s.now()
	if !t.After(s.lastModified) {
		t = s.lastModified.Add(time.Microsecond)
	}
	s.lastModified = t
	return t
}

// Seed 直接放入实体（测试辅助），保留调用方给定的 ID 与时间戳
func (s *Store) Seed(e *content.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := e.Clone()
	s.entities[c.Ref] = c
	if c.Ref.ID >= s.nextEntityID {
		s.nextEntityID = c.Ref.ID
	}
	if c.Modified.After(s.lastModified) {
		s.lastModified = c.Modified
	}
}

// SeedTerm 直接放入分类项（测试辅助）
func (s *Store) SeedTerm(t content.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terms[t.Taxonomy] == nil {
		s.terms[t.Taxonomy] = make(map[int64]content.Term)
	}
	t.ObjectID = nil
	s.terms[t.Taxonomy][t.ID] = t
	if t.ID >= s.nextTermID {
		s.nextTermID = t.ID
	}
}

func (s *Store) GetEntity(ctx context.Context, ref content.EntityRef) (*content.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[ref]
	if !ok {
		return nil, store.NotFound(ref)
	}
	return e.Clone(), nil
}

func (s *Store) UpsertEntity(ctx context.Context, ref content.EntityRef, fields content.Fields) (content.EntityRef, error) {
	if ref.Type == "" {
		return content.EntityRef{}, store.ErrInvalidRef
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *content.Entity
	if ref.ID > 0 {
		existing, ok := s.entities[ref]
		if !ok {
			return content.EntityRef{}, store.NotFound(ref)
		}
		current = existing
	} else {
		s.nextEntityID++
		ref = content.Ref(ref.Type, s.nextEntityID)
		current = &content.Entity{Ref: ref, Status: content.StatusDraft}
	}

	updated := current.Apply(fields)
	updated.Ref = ref
	updated.Modified = s.tick()
	if actor, ok := store.ActorFrom(ctx); ok {
		updated.ModifiedBy = actor
	}
	s.entities[ref] = updated
	return ref, nil
}

func (s *Store) TrashEntity(ctx context.Context, ref content.EntityRef) (bool, error) {
	return true, s.SetEntityStatus(ctx, ref, content.StatusTrash)
}

func (s *Store) SetEntityStatus(ctx context.Context, ref content.EntityRef, status content.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[ref]
	if !ok {
		return store.NotFound(ref)
	}
	c := e.Clone()
	c.Status = status
	c.Modified = s.tick()
	if actor, ok := store.ActorFrom(ctx); ok {
		c.ModifiedBy = actor
	}
	s.entities[ref] = c
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status content.Status) ([]content.EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []content.EntityRef
	for ref, e := range s.entities {
		if e.Status == status {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	return refs, nil
}

func (s *Store) GetMeta(ctx context.Context, ref content.EntityRef, key string) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]any{}, s.meta[ref][key]...), nil
}

func (s *Store) GetAllMeta(ctx context.Context, ref content.EntityRef) (map[string][]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]any, len(s.meta[ref]))
	for k, vs := range s.meta[ref] {
		out[k] = append([]any{}, vs...)
	}
	return out, nil
}

func (s *Store) metaFor(ref content.EntityRef) map[string][]any {
	m := s.meta[ref]
	if m == nil {
		m = make(map[string][]any)
		s.meta[ref] = m
	}
	return m
}

func (s *Store) UpdateMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaFor(ref)[key] = []any{value}
	return nil
}

func (s *Store) AddMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metaFor(ref)
	m[key] = append(m[key], value)
	return nil
}

func (s *Store) ReplaceMeta(ctx context.Context, ref content.EntityRef, key string, values []any) error {
	if ref.IsPlaceholder() {
		return store.ErrPlaceholderWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(values) == 0 {
		delete(s.metaFor(ref), key)
		return nil
	}
	s.metaFor(ref)[key] = append([]any{}, values...)
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, ref content.EntityRef, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta[ref]
	if m == nil {
		return nil
	}
	if value == nil {
		delete(m, key)
		return nil
	}
	kept := m[key][:0]
	for _, v := range m[key] {
		if !content.ValuesEqual(v, value) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(m, key)
	} else {
		m[key] = kept
	}
	return nil
}

func (s *Store) GetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, mode content.TermFields) (content.TermList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.assigned[ref][taxonomy]
	terms := make([]content.Term, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.terms[taxonomy][id]; ok {
			terms = append(terms, t)
		}
	}
	return content.ShapeTerms(mode, terms, ref.ID), nil
}

func (s *Store) GetTerm(ctx context.Context, taxonomy string, id int64) (*content.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[taxonomy][id]
	if !ok {
		return nil, store.ErrTermNotFound
	}
	return &t, nil
}

func (s *Store) GetTermBySlug(ctx context.Context, taxonomy, slug string) (*content.Term, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.terms[taxonomy] {
		if t.Slug == slug {
			found := t
			return &found, nil
		}
	}
	return nil, store.ErrTermNotFound
}

func (s *Store) SetTerms(ctx context.Context, ref content.EntityRef, taxonomy string, termIDs []int64) (bool, error) {
	if ref.IsPlaceholder() {
		return false, store.ErrPlaceholderWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range termIDs {
		if _, ok := s.terms[taxonomy][id]; !ok {
			return false, store.ErrTermNotFound
		}
	}
	if s.assigned[ref] == nil {
		s.assigned[ref] = make(map[string][]int64)
	}
	s.assigned[ref][taxonomy] = append([]int64{}, termIDs...)
	return true, nil
}

func (s *Store) InsertTerm(ctx context.Context, taxonomy, name, slug string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terms[taxonomy] == nil {
		s.terms[taxonomy] = make(map[int64]content.Term)
	}
	s.nextTermID++
	id := s.nextTermID
	s.terms[taxonomy][id] = content.Term{ID: id, Taxonomy: taxonomy, Name: name, Slug: slug}
	return id, nil
}

func (s *Store) GetEditLockHolder(ctx context.Context, ref content.EntityRef) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[ref]
	if !ok || s.now().Sub(l.at) > s.lockTTL {
		return 0, false, nil
	}
	return l.holder, true, nil
}

func (s *Store) SetEditLock(ctx context.Context, ref content.EntityRef, actor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[ref] = lock{holder: actor, at: s.now()}
	return nil
}
