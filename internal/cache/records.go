package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/triad/internal/model"
)

const recordColumns = `
	r.id, r.slug, r.title, r.description, r.category, r.location,
	r.starts_at, r.ends_at, r.max_capacity, r.ticket_price,
	r.organizer_id, p.external_id, r.status, r.ledger_ref, r.block_ref,
	r.metadata_ref, r.media_refs, r.created_at_ms, r.updated_at_ms`

const recordFrom = `FROM records r JOIN principals p ON p.id = r.organizer_id`

// GetOrCreatePrincipal returns the principal id for externalID, creating it
// on first use. Concurrent callers converge on the same id.
func (s *Store) GetOrCreatePrincipal(ctx context.Context, externalID string) (string, error) {
	if externalID == "" {
		return "", model.NewValidationError("external_id", "is required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO principals (id, external_id, created_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING
	`), uuid.NewString(), externalID, s.cfg.Now().UnixMilli())
	if err != nil {
		return "", model.NewStorageError(model.StoreCache, "principal", model.ErrCodeWriteFailed, err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM principals WHERE external_id = ?`), externalID).Scan(&id)
	if err != nil {
		return "", model.NewStorageError(model.StoreCache, "principal", model.ErrCodeReadFailed, err)
	}
	return id, nil
}

// Insert writes a new row. OrganizerID is resolved from Organizer when empty.
func (s *Store) Insert(ctx context.Context, rec model.Record) error {
	if rec.ID == "" {
		return model.NewValidationError("id", "is required")
	}
	if rec.OrganizerID == "" {
		id, err := s.GetOrCreatePrincipal(ctx, rec.Organizer)
		if err != nil {
			return err
		}
		rec.OrganizerID = id
	}
	refs, err := encodeRefs(rec.Locations.MediaRefs)
	if err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	now := s.cfg.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO records
		(id, slug, title, description, category, location, starts_at, ends_at,
		 max_capacity, ticket_price, organizer_id, status, ledger_ref, block_ref,
		 metadata_ref, media_refs, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.ID,
		rec.Slug,
		rec.Fields.Title,
		rec.Fields.Description,
		rec.Fields.Category,
		rec.Fields.Location,
		rec.Fields.StartsAt.Unix(),
		rec.Fields.EndsAt.Unix(),
		rec.Fields.MaxCapacity,
		rec.Fields.TicketPrice,
		rec.OrganizerID,
		string(rec.Status),
		nullable(rec.Locations.LedgerRef),
		rec.Locations.BlockRef,
		rec.Locations.MetadataRef,
		refs,
		now,
		now,
	)
	if err != nil {
		return model.NewStorageError(model.StoreCache, "insert", model.ErrCodeWriteFailed, err)
	}
	return nil
}

// Get returns the row for id or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` `+recordFrom+` WHERE r.id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache record %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "get", model.ErrCodeReadFailed, err)
	}
	return rec, nil
}

// GetBySlug returns the row holding slug or model.ErrNotFound.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+recordColumns+` `+recordFrom+` WHERE r.slug = ?`), slug)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache slug %s: %w", slug, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "get_slug", model.ErrCodeReadFailed, err)
	}
	return rec, nil
}

// Update overwrites every mutable column of an existing row.
func (s *Store) Update(ctx context.Context, rec model.Record) error {
	refs, err := encodeRefs(rec.Locations.MediaRefs)
	if err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE records SET
			slug = ?, title = ?, description = ?, category = ?, location = ?,
			starts_at = ?, ends_at = ?, max_capacity = ?, ticket_price = ?,
			status = ?, ledger_ref = ?, block_ref = ?, metadata_ref = ?,
			media_refs = ?, updated_at_ms = ?
		WHERE id = ?
	`),
		rec.Slug,
		rec.Fields.Title,
		rec.Fields.Description,
		rec.Fields.Category,
		rec.Fields.Location,
		rec.Fields.StartsAt.Unix(),
		rec.Fields.EndsAt.Unix(),
		rec.Fields.MaxCapacity,
		rec.Fields.TicketPrice,
		string(rec.Status),
		nullable(rec.Locations.LedgerRef),
		rec.Locations.BlockRef,
		rec.Locations.MetadataRef,
		refs,
		s.cfg.Now().UnixMilli(),
		rec.ID,
	)
	if err != nil {
		return model.NewStorageError(model.StoreCache, "update", model.ErrCodeWriteFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cache record %s: %w", rec.ID, model.ErrNotFound)
	}
	return nil
}

// Delete removes the row. Deleting an absent row succeeds so compensations
// can be replayed.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM records WHERE id = ?`), id)
	if err != nil {
		return model.NewStorageError(model.StoreCache, "delete", model.ErrCodeWriteFailed, err)
	}
	return nil
}

// ListWithoutLedgerProof returns rows with no ledger ref created at least
// grace before now, oldest first.
func (s *Store) ListWithoutLedgerProof(ctx context.Context, grace time.Duration) ([]model.Record, error) {
	cutoff := s.cfg.Now().Add(-grace).UnixMilli()
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+recordColumns+` `+recordFrom+`
		WHERE r.ledger_ref IS NULL AND r.created_at_ms <= ?
		ORDER BY r.created_at_ms ASC, r.id ASC
	`), cutoff)
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "list_orphans", model.ErrCodeReadFailed, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "list_orphans", model.ErrCodeReadFailed, err)
	}
	return recs, nil
}

// ListIDs returns every record id in a stable order.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records ORDER BY created_at_ms ASC, id ASC`)
	if err != nil {
		return nil, model.NewStorageError(model.StoreCache, "list_ids", model.ErrCodeReadFailed, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, model.NewStorageError(model.StoreCache, "list_ids", model.ErrCodeReadFailed, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		rec                model.Record
		status, refs       string
		ledgerRef          sql.NullString
		starts, ends       int64
		createdMs, updated int64
	)
	err := row.Scan(
		&rec.ID, &rec.Slug, &rec.Fields.Title, &rec.Fields.Description,
		&rec.Fields.Category, &rec.Fields.Location, &starts, &ends,
		&rec.Fields.MaxCapacity, &rec.Fields.TicketPrice,
		&rec.OrganizerID, &rec.Organizer, &status, &ledgerRef, &rec.Locations.BlockRef,
		&rec.Locations.MetadataRef, &refs, &createdMs, &updated,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = model.RecordStatus(status)
	rec.Fields.StartsAt = time.Unix(starts, 0).UTC()
	rec.Fields.EndsAt = time.Unix(ends, 0).UTC()
	rec.Locations.LedgerRef = ledgerRef.String
	rec.Locations.CacheRef = rec.ID
	if err := json.Unmarshal([]byte(refs), &rec.Locations.MediaRefs); err != nil {
		return nil, fmt.Errorf("decode media refs: %w", err)
	}
	if len(rec.Locations.MediaRefs) == 0 {
		rec.Locations.MediaRefs = nil
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	defer rows.Close()
	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func encodeRefs(refs []string) (string, error) {
	if refs == nil {
		refs = []string{}
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("encode media refs: %w", err)
	}
	return string(b), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
