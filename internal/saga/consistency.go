package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/triad/internal/model"
)

// snapshot is what each store holds for one record id.
type snapshot struct {
	ledger *model.Record
	cache  *model.Record
	report model.ConsistencyReport
}

// authoritative is the ledger copy when there is one.
func (s *snapshot) authoritative() *model.Record {
	if s.ledger != nil {
		return s.ledger
	}
	return s.cache
}

// CheckConsistency reads id from every store and reports divergences. It
// never writes. A record absent from both ledger and cache is
// model.ErrNotFound.
func (o *Orchestrator) CheckConsistency(ctx context.Context, id string) (*model.ConsistencyReport, error) {
	s, err := o.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return &s.report, nil
}

func (o *Orchestrator) inspect(ctx context.Context, id string) (*snapshot, error) {
	s := &snapshot{report: model.ConsistencyReport{RecordID: id}}

	l, err := o.ledger.GetByID(ctx, id)
	switch {
	case err == nil:
		s.ledger = l
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}
	c, err := o.cache.Get(ctx, id)
	switch {
	case err == nil:
		s.cache = c
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}
	if s.ledger == nil && s.cache == nil {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}

	r := &s.report
	r.PresentInLedger = s.ledger != nil
	r.PresentInCache = s.cache != nil

	switch {
	case s.cache == nil:
		r.Discrepancies = append(r.Discrepancies, model.Discrepancy{Kind: model.MissingInCache})
	case s.ledger == nil && s.cache.Locations.LedgerRef == "":
		r.Discrepancies = append(r.Discrepancies, model.Discrepancy{Kind: model.MissingLedgerProof})
	case s.ledger == nil:
		r.Discrepancies = append(r.Discrepancies, model.Discrepancy{
			Kind:  model.MissingInLedger,
			Cache: s.cache.Locations.LedgerRef,
		})
	default:
		r.Discrepancies = append(r.Discrepancies, compareRecords(s.ledger, s.cache)...)
	}

	refs := s.authoritative().Locations.MediaRefs
	if len(refs) == 0 {
		r.Discrepancies = append(r.Discrepancies, model.Discrepancy{Kind: model.MissingInMedia})
	} else {
		r.PresentInMedia = true
		for _, ref := range refs {
			if err := o.media.Reachable(ctx, o.media.ResolveURL(ref)); err != nil {
				r.PresentInMedia = false
				r.Discrepancies = append(r.Discrepancies, model.Discrepancy{
					Kind:   model.MediaUnreachable,
					Field:  ref,
					Detail: err.Error(),
				})
			}
		}
	}

	r.CheckedAt = o.now()
	return s, nil
}

// compareRecords diffs the cache copy against the ledger copy.
func compareRecords(ledger, cache *model.Record) []model.Discrepancy {
	out := model.CriticalFieldDiff(ledger.Fields, cache.Fields)
	if ledger.Locations.LedgerRef != cache.Locations.LedgerRef {
		out = append(out, model.Discrepancy{
			Kind:   model.FieldMismatch,
			Field:  "ledger_ref",
			Ledger: ledger.Locations.LedgerRef,
			Cache:  cache.Locations.LedgerRef,
		})
	}
	if ledger.Status != cache.Status {
		out = append(out, model.Discrepancy{
			Kind:   model.FieldMismatch,
			Field:  "status",
			Ledger: string(ledger.Status),
			Cache:  string(cache.Status),
		})
	}
	return out
}

// RepairConsistency brings the cache and media copies of id back in line
// with the ledger. Repairing a consistent record performs no writes.
//
// The ledger is only written when a Signer is configured; otherwise a
// missing ledger entry is reported for manual intervention, as are banners
// that are no longer pinned.
func (o *Orchestrator) RepairConsistency(ctx context.Context, id string) (*model.RepairResult, error) {
	s, err := o.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &model.RepairResult{RecordID: id, Actions: []model.RepairAction{}}
	if s.report.Consistent() {
		return res, nil
	}
	log := o.logger(ctx).With("record_id", id)

	var mismatched []string
	var unreachable []string
	for _, d := range s.report.Discrepancies {
		switch d.Kind {
		case model.FieldMismatch:
			mismatched = append(mismatched, d.Field)
		case model.MediaUnreachable:
			unreachable = append(unreachable, d.Field)
		case model.MissingInMedia:
			res.ManualIntervention = append(res.ManualIntervention, "record has no media refs")
		}
	}

	switch {
	case s.cache == nil:
		o.rebuildCache(ctx, s.ledger, res)
	case s.ledger == nil:
		o.recreateLedger(ctx, s.cache, res)
	case len(mismatched) > 0:
		o.refreshCache(ctx, s.ledger, s.cache, mismatched, res)
	}

	for _, ref := range unreachable {
		o.repin(ctx, s.authoritative(), ref, res)
	}

	log.Info("repair finished", "actions", len(res.Actions), "errors", len(res.Errors),
		"manual", len(res.ManualIntervention))
	return res, nil
}

// rebuildCache inserts a cache row copied from the ledger.
func (o *Orchestrator) rebuildCache(ctx context.Context, ledgerRec *model.Record, res *model.RepairResult) {
	rec := *ledgerRec
	principal, err := o.cache.GetOrCreatePrincipal(ctx, rec.Organizer)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cache principal: %v", err))
		return
	}
	rec.OrganizerID = principal
	if o.slugHeldByOther(ctx, rec.Slug, rec.ID) {
		rec.Slug = slugFor(rec.Fields.Title, rec.ID)
	}
	if err := o.cache.Insert(ctx, rec); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cache insert: %v", err))
		return
	}
	res.Actions = append(res.Actions, model.RepairAction{
		Store: model.StoreCache, Op: "insert", Detail: "rebuilt from ledger " + rec.Locations.LedgerRef,
	})
}

// refreshCache overwrites drifted cache fields with the ledger values.
func (o *Orchestrator) refreshCache(ctx context.Context, ledgerRec, cacheRec *model.Record, fields []string, res *model.RepairResult) {
	rec := *cacheRec
	if !o.slugHeldByOther(ctx, ledgerRec.Slug, rec.ID) {
		rec.Slug = ledgerRec.Slug
	}
	rec.Fields = ledgerRec.Fields
	rec.Status = ledgerRec.Status
	rec.Signer = ledgerRec.Signer
	rec.Locations.LedgerRef = ledgerRec.Locations.LedgerRef
	rec.Locations.BlockRef = ledgerRec.Locations.BlockRef
	rec.Locations.MetadataRef = ledgerRec.Locations.MetadataRef
	rec.Locations.MediaRefs = append([]string(nil), ledgerRec.Locations.MediaRefs...)
	if err := o.cache.Update(ctx, rec); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cache update: %v", err))
		return
	}
	res.Actions = append(res.Actions, model.RepairAction{
		Store: model.StoreCache, Op: "update", Detail: "refreshed " + strings.Join(fields, ", "),
	})
}

// recreateLedger writes a cache-only record to the ledger with the service
// signer and attaches the new proof to the cache row.
func (o *Orchestrator) recreateLedger(ctx context.Context, cacheRec *model.Record, res *model.RepairResult) {
	if o.signer == nil {
		res.ManualIntervention = append(res.ManualIntervention,
			"record exists only in cache; no signer is configured to recreate the ledger entry")
		return
	}
	if cacheRec.Locations.MetadataRef == "" {
		res.ManualIntervention = append(res.ManualIntervention,
			"record exists only in cache and has no metadata ref to anchor a ledger entry")
		return
	}

	tx, err := o.ledger.PrepareTransaction(ctx, draftFor(cacheRec), cacheRec.Locations.MetadataRef, o.signer.Address())
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("ledger prepare: %v", err))
		return
	}
	ref, err := o.signer.SignAndSubmit(ctx, tx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("ledger submit: %v", err))
		return
	}
	v, err := o.verify(ctx, ref)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("ledger verify: %v", err))
		return
	}
	res.Actions = append(res.Actions, model.RepairAction{
		Store: model.StoreLedger, Op: "create", Detail: "recreated as " + ref,
	})

	rec := *cacheRec
	rec.Signer = strings.ToLower(o.signer.Address())
	rec.Locations.LedgerRef = ref
	rec.Locations.BlockRef = v.BlockRef
	if err := o.cache.Update(ctx, rec); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cache update: %v", err))
		return
	}
	res.Actions = append(res.Actions, model.RepairAction{
		Store: model.StoreCache, Op: "update", Detail: "attached ledger proof " + ref,
	})
}

// repin uploads the metadata document for rec again. Content addressing
// returns the same ref when the document is unchanged. Other media cannot
// be rebuilt from the stores and is left to a human.
func (o *Orchestrator) repin(ctx context.Context, rec *model.Record, ref string, res *model.RepairResult) {
	if ref != rec.Locations.MetadataRef {
		res.ManualIntervention = append(res.ManualIntervention,
			fmt.Sprintf("media %s is unreachable and cannot be rebuilt", ref))
		return
	}
	tags := map[string]string{"record_id": rec.ID, "repair": "true"}
	up, err := o.media.UploadJSON(ctx, metadataDocument(draftFor(rec)), tags)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("media upload: %v", err))
		return
	}
	if up.URI != ref {
		res.ManualIntervention = append(res.ManualIntervention,
			fmt.Sprintf("metadata %s re-pinned as %s; stored fields have drifted", ref, up.URI))
		return
	}
	res.Actions = append(res.Actions, model.RepairAction{
		Store: model.StoreMedia, Op: "upload", Detail: "re-pinned " + ref,
	})
}

// draftFor rebuilds the ledger draft of a stored record.
func draftFor(rec *model.Record) model.Draft {
	d := model.Draft{
		RecordID:  rec.ID,
		Slug:      rec.Slug,
		Fields:    rec.Fields,
		Organizer: rec.Organizer,
	}
	for _, ref := range rec.Locations.MediaRefs {
		if ref != rec.Locations.MetadataRef {
			d.BannerRef = ref
			break
		}
	}
	return d
}
