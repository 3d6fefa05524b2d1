package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
)

// MemoryCallRepository stores clones so callers never share state with the store.
type MemoryCallRepository struct {
	calls map[domain.CallID]*domain.GroupCall
	mu    sync.RWMutex
}

func NewMemoryCallRepository() ports.CallRepository {
	return &MemoryCallRepository{
		calls: make(map[domain.CallID]*domain.GroupCall),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return fmt.Errorf("call already exists: %s", call.ID)
	}
	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.GroupCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

func (r *MemoryCallRepository) Update(ctx context.Context, call *domain.GroupCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; !exists {
		return domain.ErrCallNotFound
	}
	r.calls[call.ID] = call.Clone()
	return nil
}

func (r *MemoryCallRepository) Delete(ctx context.Context, id domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.calls, id)
	return nil
}

// ListActive returns active calls, oldest first.
func (r *MemoryCallRepository) ListActive(ctx context.Context) ([]*domain.GroupCall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]*domain.GroupCall, 0, len(r.calls))
	for _, call := range r.calls {
		if call.Active() {
			calls = append(calls, call.Clone())
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.Before(calls[j].CreatedAt)
	})
	return calls, nil
}
