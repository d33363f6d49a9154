package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/triad/internal/model"
)

// CleanupSummary reports one CleanupOrphans pass.
type CleanupSummary struct {
	Processed int      `json:"processed"`
	Removed   int      `json:"removed"`
	Attached  int      `json:"attached"`
	Errored   int      `json:"errored"`
	Errors    []string `json:"errors,omitempty"`
}

// SyncSummary reports one SyncAll pass.
type SyncSummary struct {
	Total    int      `json:"total"`
	Synced   int      `json:"synced"`
	Repaired int      `json:"repaired"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// CleanupOrphans handles cache rows that never received ledger proof. A row
// whose record did reach the ledger gets the proof attached; any other row
// older than Options.OrphanGrace is deleted along with its media. Failures
// are counted in the summary, never returned.
func (o *Orchestrator) CleanupOrphans(ctx context.Context) CleanupSummary {
	var sum CleanupSummary
	log := o.logger(ctx)

	orphans, err := o.cache.ListWithoutLedgerProof(ctx, o.opts.OrphanGrace)
	if err != nil {
		sum.Errored++
		sum.Errors = append(sum.Errors, fmt.Sprintf("list orphans: %v", err))
		log.Error("orphan listing failed", "error", err)
		return sum
	}

	for _, rec := range orphans {
		sum.Processed++
		l, err := o.ledger.GetByID(ctx, rec.ID)
		switch {
		case err == nil:
			rec.Signer = l.Signer
			rec.Locations.LedgerRef = l.Locations.LedgerRef
			rec.Locations.BlockRef = l.Locations.BlockRef
			if err := o.cache.Update(ctx, rec); err != nil {
				sum.Errored++
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s: attach proof: %v", rec.ID, err))
				continue
			}
			sum.Attached++
			log.Info("attached ledger proof to orphan", "record_id", rec.ID, "ledger_ref", l.Locations.LedgerRef)

		case errors.Is(err, model.ErrNotFound):
			for _, ref := range rec.Locations.MediaRefs {
				if err := o.media.Delete(ctx, ref); err != nil {
					log.Warn("orphan media delete failed", "record_id", rec.ID, "ref", ref, "error", err)
				}
			}
			if err := o.cache.Delete(ctx, rec.ID); err != nil {
				sum.Errored++
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s: delete: %v", rec.ID, err))
				continue
			}
			sum.Removed++
			log.Info("removed orphan", "record_id", rec.ID)

		default:
			sum.Errored++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: ledger lookup: %v", rec.ID, err))
		}
	}
	return sum
}

// SyncAll finishes stalled creations and then checks every cached record,
// repairing the ones that diverge. Failures are counted in the summary,
// never returned.
func (o *Orchestrator) SyncAll(ctx context.Context) SyncSummary {
	var sum SyncSummary
	log := o.logger(ctx)
	seen := make(map[string]bool)

	stalled, err := o.ops.ListByPhase(ctx, model.PhaseLedgerConfirmed, model.PhaseCacheWritten)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("list operations: %v", err))
	}
	for _, op := range stalled {
		seen[op.RecordID] = true
		sum.Total++
		if _, err := o.CompleteCreation(ctx, CompleteRequest{OperationID: op.ID}); err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: resume operation %s: %v", op.RecordID, op.ID, err))
			continue
		}
		sum.Repaired++
	}

	ids, err := o.cache.ListIDs(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("list cache ids: %v", err))
		log.Error("sync listing failed", "error", err)
		return sum
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		sum.Total++

		report, err := o.CheckConsistency(ctx, id)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: check: %v", id, err))
			continue
		}
		if report.Consistent() {
			sum.Synced++
			continue
		}
		res, err := o.RepairConsistency(ctx, id)
		switch {
		case err != nil:
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: repair: %v", id, err))
		case len(res.Errors) > 0 || len(res.ManualIntervention) > 0:
			sum.Failed++
			for _, e := range res.Errors {
				sum.Errors = append(sum.Errors, id+": "+e)
			}
			for _, m := range res.ManualIntervention {
				sum.Errors = append(sum.Errors, id+": manual: "+m)
			}
		default:
			sum.Repaired++
		}
	}
	log.Info("sync finished", "total", sum.Total, "synced", sum.Synced, "repaired", sum.Repaired, "failed", sum.Failed)
	return sum
}
