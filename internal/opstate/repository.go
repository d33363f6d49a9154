// Package opstate persists creation operations so that any process holding
// an operation id can resume, verify or roll it back after a crash.
//
// Three backends are provided: an in-memory map for tests, a local SQLite
// file (modernc.org/sqlite, no cgo) for single-node deployments, and etcd for
// deployments where several orchestrator replicas share state.
package opstate

import (
	"context"

	"github.com/roach88/triad/internal/model"
)

// Repository defines the persistence interface for operation state.
type Repository interface {
	// Create inserts a new operation. It returns model.ErrDuplicateIntent if
	// a live (non-failed) operation already holds the same idempotency key.
	Create(ctx context.Context, op *model.OperationState) error

	// Get retrieves an operation by id or returns model.ErrOperationNotFound.
	Get(ctx context.Context, id string) (*model.OperationState, error)

	// FindByIdempotencyKey returns the live operation holding key, or
	// model.ErrOperationNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.OperationState, error)

	// Save overwrites an existing operation. Moving to the failed phase
	// releases its idempotency key.
	Save(ctx context.Context, op *model.OperationState) error

	// ListByPhase returns operations in any of phases, oldest first.
	ListByPhase(ctx context.Context, phases ...model.Phase) ([]model.OperationState, error)

	// Close releases backend resources.
	Close() error
}

func clone(op *model.OperationState) *model.OperationState {
	c := *op
	c.MediaRefs = append([]string(nil), op.MediaRefs...)
	c.Compensations = append([]model.Compensation(nil), op.Compensations...)
	if op.UnsignedTx != nil {
		tx := *op.UnsignedTx
		c.UnsignedTx = &tx
	}
	if op.Result != nil {
		r := *op.Result
		r.MediaRefs = append([]string(nil), op.Result.MediaRefs...)
		r.Errors = append([]string(nil), op.Result.Errors...)
		c.Result = &r
	}
	if op.Input.Banner != nil {
		b := *op.Input.Banner
		c.Input.Banner = &b
	}
	return &c
}

func holdsKey(op *model.OperationState) bool {
	return op.IdempotencyKey != "" && op.Phase != model.PhaseFailed
}

func phaseSet(phases []model.Phase) map[model.Phase]bool {
	set := make(map[model.Phase]bool, len(phases))
	for _, p := range phases {
		set[p] = true
	}
	return set
}
