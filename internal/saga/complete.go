package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
)

// CompleteRequest names the operation to finish and the ref of the
// transaction the caller signed and submitted.
type CompleteRequest struct {
	OperationID string `json:"operation_id"`
	TxRef       string `json:"tx_ref"`
}

// CompleteCreation verifies the signed transaction, writes the cache row
// and cross-checks the stores.
//
// A CreationResult is returned even on failure so the caller can see which
// stores hold the record. A verification timeout leaves the operation in
// ledger_verifying and may be retried with the same request. Once the
// ledger has confirmed, the ledger record is never rolled back.
func (o *Orchestrator) CompleteCreation(ctx context.Context, req CompleteRequest) (*model.CreationResult, error) {
	req.TxRef = strings.TrimSpace(req.TxRef)
	op, err := o.ops.Get(ctx, req.OperationID)
	if err != nil {
		if errors.Is(err, model.ErrOperationNotFound) {
			return nil, err
		}
		return nil, model.NewStorageError(model.StoreOpState, "get", model.ErrCodeReadFailed, err)
	}
	ctx = logging.ContextWithOperationID(ctx, op.ID)

	switch op.Phase {
	case model.PhaseConsistent:
		return outcome(op), nil
	case model.PhaseFailed:
		return outcome(op), fmt.Errorf("operation %s: %w", op.ID, ErrOperationClosed)
	case model.PhasePreparing, model.PhaseRollingBack:
		return outcome(op), fmt.Errorf("operation %s is %s and cannot be completed", op.ID, op.Phase)
	case model.PhasePrepared:
		if req.TxRef == "" {
			return outcome(op), model.NewValidationError("tx_ref", "is required")
		}
		op.LedgerTxRef = req.TxRef
		if err := o.advance(ctx, op, model.PhaseLedgerVerifying); err != nil {
			return outcome(op), err
		}
	case model.PhaseLedgerVerifying:
		if req.TxRef != "" && req.TxRef != op.LedgerTxRef {
			o.logger(ctx).Info("replacing transaction ref", "old", op.LedgerTxRef, "new", req.TxRef)
			op.LedgerTxRef = req.TxRef
			if err := o.save(ctx, op); err != nil {
				return outcome(op), err
			}
		}
	}

	if op.Phase == model.PhaseLedgerVerifying {
		if err := o.confirmLedger(ctx, op); err != nil {
			return outcome(op), err
		}
	}
	if op.Phase == model.PhaseLedgerConfirmed {
		if err := o.writeCache(ctx, op); err != nil {
			return outcome(op), err
		}
	}
	return o.crossVerify(ctx, op)
}

// confirmLedger waits for the transaction and moves op to ledger_confirmed.
func (o *Orchestrator) confirmLedger(ctx context.Context, op *model.OperationState) error {
	v, err := o.verify(ctx, op.LedgerTxRef)
	switch {
	case model.StorageCode(err) == model.ErrCodeVerifyTimeout:
		o.logger(ctx).Warn("verification timed out", "tx_ref", op.LedgerTxRef)
		op.LastError = err.Error()
		o.persistBestEffort(ctx, op)
		return err
	case model.StorageCode(err) == model.ErrCodeTxFailed:
		return o.abort(ctx, op, err)
	case err != nil:
		return err
	}

	if v.LedgerID != "" && v.LedgerID != op.RecordID {
		return model.NewValidationError("tx_ref", "transaction %s wrote record %s, expected %s",
			op.LedgerTxRef, v.LedgerID, op.RecordID)
	}

	op.BlockRef = v.BlockRef
	op.LastError = ""
	if err := op.Advance(model.PhaseLedgerConfirmed); err != nil {
		return err
	}
	// Media is now referenced by a permanent ledger record.
	op.RetireCompensations(model.CompensateDeleteMedia)
	if err := o.save(ctx, op); err != nil {
		return err
	}
	o.logger(ctx).Info("ledger confirmed", "tx_ref", op.LedgerTxRef, "block", op.BlockRef)
	return nil
}

// writeCache inserts the cache row for a confirmed record. A failure leaves
// op in ledger_confirmed so a later call, or repair, can finish it.
func (o *Orchestrator) writeCache(ctx context.Context, op *model.OperationState) error {
	rec := cacheRecordFor(op)
	principal, err := o.cache.GetOrCreatePrincipal(ctx, rec.Organizer)
	if err != nil {
		return o.cacheFailed(ctx, op, err)
	}
	rec.OrganizerID = principal

	if err := o.cache.Insert(ctx, rec); err != nil {
		existing, gerr := o.cache.Get(ctx, rec.ID)
		switch {
		case gerr == nil && existing.Locations.LedgerRef == op.LedgerTxRef:
			// Written by an earlier attempt that crashed before saving.
		case errors.Is(gerr, model.ErrNotFound) && o.slugHeldByOther(ctx, rec.Slug, rec.ID):
			rec.Slug = slugFor(rec.Fields.Title, rec.ID)
			o.logger(ctx).Warn("slug taken in cache, using derived slug", "taken", op.Slug, "slug", rec.Slug)
			if err := o.cache.Insert(ctx, rec); err != nil {
				return o.cacheFailed(ctx, op, err)
			}
			op.Slug = rec.Slug
		default:
			return o.cacheFailed(ctx, op, err)
		}
	}

	op.CacheRecordID = rec.ID
	op.LastError = ""
	op.AddCompensation(model.CompensateDeleteCacheRecord, rec.ID)
	return o.advance(ctx, op, model.PhaseCacheWritten)
}

func (o *Orchestrator) cacheFailed(ctx context.Context, op *model.OperationState, err error) error {
	o.logger(ctx).Error("cache write failed", "store", model.StoreCache, "error", err)
	if !model.IsStorage(err) {
		err = model.NewStorageError(model.StoreCache, "insert", model.ErrCodeWriteFailed, err)
	}
	op.LastError = err.Error()
	o.persistBestEffort(ctx, op)
	return err
}

// crossVerify compares the written copies. A divergence rolls back the
// cache row only.
func (o *Orchestrator) crossVerify(ctx context.Context, op *model.OperationState) (*model.CreationResult, error) {
	report, err := o.CheckConsistency(ctx, op.RecordID)
	if err != nil {
		o.logger(ctx).Warn("cross-verification could not run", "error", err)
		return outcome(op), err
	}
	if !report.Consistent() {
		cerr := &model.ConsistencyError{RecordID: op.RecordID, Discrepancies: report.Discrepancies}
		o.abort(ctx, op, cerr)
		return outcome(op), cerr
	}

	if err := op.Advance(model.PhaseConsistent); err != nil {
		return outcome(op), err
	}
	op.Result = resultFor(op)
	if err := o.save(ctx, op); err != nil {
		return op.Result, err
	}
	o.logger(ctx).Info("creation consistent", "record_id", op.RecordID)
	return op.Result, nil
}

// cacheRecordFor builds the cache row for op's confirmed record.
func cacheRecordFor(op *model.OperationState) model.Record {
	rec := model.Record{
		ID:        op.RecordID,
		Slug:      op.Slug,
		Fields:    op.Input.Fields,
		Organizer: op.Input.Initiator.ExternalID,
		Status:    model.StatusActive,
		Locations: model.Locations{
			LedgerRef:   op.LedgerTxRef,
			BlockRef:    op.BlockRef,
			MetadataRef: op.MetadataRef,
			MediaRefs:   append([]string(nil), op.MediaRefs...),
		},
	}
	if op.UnsignedTx != nil {
		rec.Signer = op.UnsignedTx.From
	}
	return rec
}

// outcome prefers the result stored when the operation closed.
func outcome(op *model.OperationState) *model.CreationResult {
	if op.Phase.Terminal() && op.Result != nil {
		return op.Result
	}
	return resultFor(op)
}
