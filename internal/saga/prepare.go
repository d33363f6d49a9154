package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/triad/internal/canonical"
	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/schema"
)

// MetadataSchema tags the metadata document pinned for every record.
const MetadataSchema = "triad/event-metadata/v1"

// PrepareRequest is everything a caller supplies to start a creation.
type PrepareRequest = model.CreationInput

// PrepareResult is handed back to the caller, who signs UnsignedTx out of
// band and then calls CompleteCreation with the operation id.
type PrepareResult struct {
	OperationID string           `json:"operation_id"`
	RecordID    string           `json:"record_id"`
	Slug        string           `json:"slug"`
	UnsignedTx  model.UnsignedTx `json:"unsigned_tx"`
	MediaRefs   []string         `json:"media_refs"`

	// Replayed is set when the idempotency key matched an earlier attempt
	// and nothing new was written.
	Replayed bool `json:"replayed,omitempty"`
}

// PrepareCreation validates the request, uploads media and prepares an
// unsigned ledger transaction. It never signs.
//
// Any failure after the first upload rolls back in reverse order before the
// error is returned. Repeating an idempotency key returns the earlier result
// without touching any store.
func (o *Orchestrator) PrepareCreation(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	req.Fields = req.Fields.Normalized()
	req.Slug = strings.TrimSpace(req.Slug)

	if err := schema.Validate(req); err != nil {
		return nil, err
	}
	if err := ledger.ValidateDraft(req.Fields, req.Initiator.Address, o.opts.MaxCapacity); err != nil {
		return nil, err
	}
	hash, err := inputHash(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		prior, err := o.ops.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			return replay(prior, hash)
		case !errors.Is(err, model.ErrOperationNotFound):
			return nil, model.NewStorageError(model.StoreOpState, "find", model.ErrCodeReadFailed, err)
		}
	}

	if err := o.checkPrincipal(ctx, req.Initiator); err != nil {
		return nil, err
	}
	if err := o.checkHealth(ctx); err != nil {
		return nil, err
	}
	if err := o.checkSlug(ctx, req.Slug); err != nil {
		return nil, err
	}

	now := o.now()
	op := &model.OperationState{
		ID:             o.ids.NewID(),
		IdempotencyKey: req.IdempotencyKey,
		RecordID:       o.ids.NewID(),
		Phase:          model.PhasePreparing,
		Input:          req,
		InputHash:      hash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	op.Slug = req.Slug
	if op.Slug == "" {
		op.Slug = slugFor(req.Fields.Title, op.RecordID)
	}
	if err := o.ops.Create(ctx, op); err != nil {
		if errors.Is(err, model.ErrDuplicateIntent) {
			// Lost a race with a concurrent attempt for the same key.
			prior, ferr := o.ops.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if ferr != nil {
				return nil, err
			}
			return replay(prior, hash)
		}
		return nil, model.NewStorageError(model.StoreOpState, "create", model.ErrCodeWriteFailed, err)
	}

	ctx = logging.ContextWithOperationID(ctx, op.ID)
	o.logger(ctx).Info("preparing creation", "record_id", op.RecordID, "slug", op.Slug)

	if err := o.prepare(ctx, op); err != nil {
		return nil, o.abort(ctx, op, err)
	}
	return resultFromPrepared(op), nil
}

// prepare runs the upload and ledger-preparation phases.
func (o *Orchestrator) prepare(ctx context.Context, op *model.OperationState) error {
	tags := map[string]string{"record_id": op.RecordID, "operation_id": op.ID}

	var bannerRef string
	if b := op.Input.Banner; b != nil {
		up, err := o.media.Upload(ctx, b.Content, b.ContentType, tags)
		if err != nil {
			return err
		}
		bannerRef = up.URI
		op.MediaRefs = append(op.MediaRefs, up.URI)
		op.AddCompensation(model.CompensateDeleteMedia, up.URI)
		if err := o.save(ctx, op); err != nil {
			return err
		}
	}

	draft := model.Draft{
		RecordID:  op.RecordID,
		Slug:      op.Slug,
		Fields:    op.Input.Fields,
		Organizer: op.Input.Initiator.ExternalID,
		BannerRef: bannerRef,
	}
	up, err := o.media.UploadJSON(ctx, metadataDocument(draft), tags)
	if err != nil {
		return err
	}
	op.MetadataRef = up.URI
	op.MediaRefs = append(op.MediaRefs, up.URI)
	op.AddCompensation(model.CompensateDeleteMedia, up.URI)
	if err := o.save(ctx, op); err != nil {
		return err
	}

	tx, err := o.ledger.PrepareTransaction(ctx, draft, op.MetadataRef, op.Input.Initiator.Address)
	if err != nil {
		return err
	}
	op.UnsignedTx = &tx
	return o.advance(ctx, op, model.PhasePrepared)
}

// checkPrincipal verifies the initiator is on the expected network and can
// pay the estimated fee.
func (o *Orchestrator) checkPrincipal(ctx context.Context, p model.Principal) error {
	network, err := o.ledger.NetworkID(ctx)
	if err != nil {
		return err
	}
	if o.opts.Network != "" && network != o.opts.Network {
		return model.NewValidationError("network", "ledger is on network %q, expected %q", network, o.opts.Network)
	}
	fee, err := o.ledger.EstimateFee(ctx)
	if err != nil {
		return err
	}
	balance, err := o.ledger.Balance(ctx, p.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(fee) < 0 {
		return model.NewValidationError("initiator.address",
			"balance %s is below the estimated fee %s", balance.String(), fee.String())
	}
	return nil
}

// livePhases are the phases in which an operation still owns its slug.
var livePhases = []model.Phase{
	model.PhasePreparing, model.PhasePrepared, model.PhaseLedgerVerifying,
	model.PhaseLedgerConfirmed, model.PhaseCacheWritten, model.PhaseRollingBack,
}

// checkSlug rejects a caller-chosen slug already held by a cache row or by
// an unfinished operation. Derived slugs carry the record id and skip this.
func (o *Orchestrator) checkSlug(ctx context.Context, slug string) error {
	if slug == "" {
		return nil
	}
	rec, err := o.cache.GetBySlug(ctx, slug)
	switch {
	case err == nil:
		return model.NewValidationError("slug", "%q is already used by record %s", slug, rec.ID)
	case !errors.Is(err, model.ErrNotFound):
		return err
	}
	live, err := o.ops.ListByPhase(ctx, livePhases...)
	if err != nil {
		return model.NewStorageError(model.StoreOpState, "list", model.ErrCodeReadFailed, err)
	}
	for _, op := range live {
		if op.Slug == slug {
			return model.NewValidationError("slug", "%q is held by operation %s", slug, op.ID)
		}
	}
	return nil
}

// slugHeldByOther reports whether a cache row other than id holds slug.
func (o *Orchestrator) slugHeldByOther(ctx context.Context, slug, id string) bool {
	other, err := o.cache.GetBySlug(ctx, slug)
	return err == nil && other.ID != id
}

// replay returns the result of an earlier attempt with the same key.
func replay(prior *model.OperationState, hash string) (*PrepareResult, error) {
	if prior.InputHash != hash {
		return nil, model.NewValidationError("idempotency_key",
			"key %q was already used with different input", prior.IdempotencyKey)
	}
	if prior.UnsignedTx == nil {
		return nil, fmt.Errorf("operation %s is still %s: %w", prior.ID, prior.Phase, model.ErrDuplicateIntent)
	}
	r := resultFromPrepared(prior)
	r.Replayed = true
	return r, nil
}

func resultFromPrepared(op *model.OperationState) *PrepareResult {
	return &PrepareResult{
		OperationID: op.ID,
		RecordID:    op.RecordID,
		Slug:        op.Slug,
		UnsignedTx:  *op.UnsignedTx,
		MediaRefs:   append([]string(nil), op.MediaRefs...),
	}
}

// inputHash fingerprints the request, banner bytes included.
func inputHash(req PrepareRequest) (string, error) {
	doc := map[string]any{"input": schema.Document(req)}
	if req.Banner != nil {
		doc["banner_sha256"] = canonical.ContentHash(req.Banner.Content)
	}
	h, err := canonical.Fingerprint(canonical.DomainIntent, doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint input: %w", err)
	}
	return h, nil
}

// metadataDocument is the JSON pinned to media for a record. It is built
// only from ledger-held fields so repair can pin a byte-identical copy.
func metadataDocument(d model.Draft) map[string]any {
	price := d.Fields.TicketPrice
	if p, ok := d.Fields.Price(); ok {
		price = p.String()
	}
	doc := map[string]any{
		"schema":       MetadataSchema,
		"record_id":    d.RecordID,
		"slug":         d.Slug,
		"name":         d.Fields.Title,
		"description":  d.Fields.Description,
		"category":     d.Fields.Category,
		"location":     d.Fields.Location,
		"starts_at":    d.Fields.StartsAt.UTC().Format("2006-01-02T15:04:05Z"),
		"ends_at":      d.Fields.EndsAt.UTC().Format("2006-01-02T15:04:05Z"),
		"max_capacity": d.Fields.MaxCapacity,
		"ticket_price": price,
		"organizer":    d.Organizer,
	}
	if d.BannerRef != "" {
		doc["image"] = d.BannerRef
	}
	return doc
}

var slugFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slugFor derives a URL slug from title, suffixed with the tail of the
// record id so equal titles do not collide.
func slugFor(title, recordID string) string {
	folded, _, err := transform.String(slugFold, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimSuffix(b.String(), "-")
	if len(base) > 48 {
		base = strings.TrimSuffix(base[:48], "-")
	}

	suffix := strings.ToLower(strings.ReplaceAll(recordID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	switch {
	case base == "":
		return suffix
	case suffix == "":
		return base
	}
	return base + "-" + suffix
}
