package opstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/triad/internal/model"
)

// MemoryRepository keeps operations in a map. Values are copied on the way in
// and out so callers never share state with the repository.
type MemoryRepository struct {
	mu  sync.RWMutex
	ops map[string]*model.OperationState
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{ops: make(map[string]*model.OperationState)}
}

func (r *MemoryRepository) Create(_ context.Context, op *model.OperationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ops[op.ID]; ok {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	if holdsKey(op) {
		for _, existing := range r.ops {
			if holdsKey(existing) && existing.IdempotencyKey == op.IdempotencyKey {
				return fmt.Errorf("idempotency key %q: %w", op.IdempotencyKey, model.ErrDuplicateIntent)
			}
		}
	}
	r.ops[op.ID] = clone(op)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.OperationState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrOperationNotFound)
	}
	return clone(op), nil
}

func (r *MemoryRepository) FindByIdempotencyKey(_ context.Context, key string) (*model.OperationState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, op := range r.ops {
		if holdsKey(op) && op.IdempotencyKey == key {
			return clone(op), nil
		}
	}
	return nil, fmt.Errorf("idempotency key %q: %w", key, model.ErrOperationNotFound)
}

func (r *MemoryRepository) Save(_ context.Context, op *model.OperationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ops[op.ID]; !ok {
		return fmt.Errorf("operation %s: %w", op.ID, model.ErrOperationNotFound)
	}
	r.ops[op.ID] = clone(op)
	return nil
}

func (r *MemoryRepository) ListByPhase(_ context.Context, phases ...model.Phase) ([]model.OperationState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := phaseSet(phases)
	var out []model.OperationState
	for _, op := range r.ops {
		if want[op.Phase] {
			out = append(out, *clone(op))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Close() error { return nil }
