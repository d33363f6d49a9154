package saga

import (
	"context"
	"fmt"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
)

// abort records cause on op, rolls it back and returns cause.
func (o *Orchestrator) abort(ctx context.Context, op *model.OperationState, cause error) error {
	op.LastError = cause.Error()
	o.logger(ctx).Warn("operation failed, rolling back", "phase", op.Phase, "error", cause)
	o.rollback(ctx, op)
	return cause
}

// rollback fires pending compensations in strict reverse registration order
// and ends in the failed phase. It never returns an error: a failing
// compensation is recorded on the descriptor and the rest still run. State
// is persisted after every step so an interrupted rollback can be resumed.
//
// Rollback runs to completion even if ctx is cancelled.
func (o *Orchestrator) rollback(ctx context.Context, op *model.OperationState) {
	ctx = context.WithoutCancel(ctx)
	log := o.logger(ctx)

	if op.Phase != model.PhaseRollingBack {
		if err := op.Advance(model.PhaseRollingBack); err != nil {
			log.Error("cannot enter rollback", "phase", op.Phase, "error", err)
			return
		}
		o.persistBestEffort(ctx, op)
	}

	for i := len(op.Compensations) - 1; i >= 0; i-- {
		c := &op.Compensations[i]
		if c.Status != model.CompensationPending {
			continue
		}
		if err := o.compensate(ctx, *c); err != nil {
			c.Status = model.CompensationFailed
			c.Error = err.Error()
			log.Error("compensation failed", "seq", c.Seq, "kind", c.Kind, "target", c.Target, "error", err)
		} else {
			c.Status = model.CompensationDone
			log.Debug("compensation done", "seq", c.Seq, "kind", c.Kind, "target", c.Target)
		}
		o.persistBestEffort(ctx, op)
	}

	if err := op.Advance(model.PhaseFailed); err != nil {
		log.Error("cannot finish rollback", "error", err)
		return
	}
	op.Result = resultFor(op)
	if op.LastError != "" {
		op.Result.Errors = append([]string{op.LastError}, op.Result.Errors...)
	}
	o.persistBestEffort(ctx, op)
}

func (o *Orchestrator) compensate(ctx context.Context, c model.Compensation) error {
	switch c.Kind {
	case model.CompensateDeleteMedia:
		return o.media.Delete(ctx, c.Target)
	case model.CompensateDeleteCacheRecord:
		return o.cache.Delete(ctx, c.Target)
	default:
		return fmt.Errorf("unknown compensation kind %q", c.Kind)
	}
}

func (o *Orchestrator) persistBestEffort(ctx context.Context, op *model.OperationState) {
	if err := o.save(ctx, op); err != nil {
		o.logger(ctx).Error("failed to persist rollback progress", "phase", op.Phase, "error", err)
	}
}

// ResumeRollbacks finishes rollbacks interrupted by a crash and returns how
// many operations it closed.
func (o *Orchestrator) ResumeRollbacks(ctx context.Context) (int, error) {
	ops, err := o.ops.ListByPhase(ctx, model.PhaseRollingBack)
	if err != nil {
		return 0, model.NewStorageError(model.StoreOpState, "list", model.ErrCodeReadFailed, err)
	}
	for i := range ops {
		op := &ops[i]
		o.rollback(logging.ContextWithOperationID(ctx, op.ID), op)
	}
	return len(ops), nil
}

// ExpireStaleOperations rolls back operations that have waited in preparing
// or prepared for longer than Options.PreparedTTL. Operations already
// verifying are left alone: their transaction may still land.
func (o *Orchestrator) ExpireStaleOperations(ctx context.Context) (int, error) {
	ops, err := o.ops.ListByPhase(ctx, model.PhasePreparing, model.PhasePrepared)
	if err != nil {
		return 0, model.NewStorageError(model.StoreOpState, "list", model.ErrCodeReadFailed, err)
	}
	cutoff := o.now().Add(-o.opts.PreparedTTL)
	expired := 0
	for i := range ops {
		op := &ops[i]
		if op.UpdatedAt.After(cutoff) {
			continue
		}
		op.LastError = fmt.Sprintf("expired after %s without a signed transaction", o.opts.PreparedTTL)
		o.rollback(logging.ContextWithOperationID(ctx, op.ID), op)
		expired++
	}
	return expired, nil
}
