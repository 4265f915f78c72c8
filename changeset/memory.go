package changeset

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存变更集存储
type MemoryStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	sets map[string]*Changeset
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, sets: make(map[string]*Changeset)}
}

var _ IStore = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, id string) (*Changeset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sets[id]
	if !ok {
		return nil, NotFound(id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, c *Changeset) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[c.UUID] = c.Clone()
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sets[id]
	if !ok {
		return NotFound(id)
	}
	c.Status = status
	c.Modified = s.now()
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Changeset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Changeset
	for _, c := range s.sets {
		if c.Status == status {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}
