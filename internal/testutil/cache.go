package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

// FakeCache is an in-memory storage.CacheStore.
//
// Fault ops: "insert", "get", "get_slug", "update", "delete", "list_orphans".
type FakeCache struct {
	Faults

	mu         sync.Mutex
	journal    *Journal
	now        func() time.Time
	health     model.HealthState
	records    map[string]model.Record
	principals map[string]string
}

var _ storage.CacheStore = (*FakeCache)(nil)

// NewFakeCache returns an empty cache. now defaults to time.Now.
func NewFakeCache(journal *Journal, now func() time.Time) *FakeCache {
	if now == nil {
		now = time.Now
	}
	return &FakeCache{
		journal:    journal,
		now:        now,
		health:     model.Healthy,
		records:    make(map[string]model.Record),
		principals: make(map[string]string),
	}
}

func (c *FakeCache) Name() string { return model.StoreCache }

func (c *FakeCache) Config() map[string]string {
	return map[string]string{"driver": "memory"}
}

// SetHealth sets what HealthCheck reports.
func (c *FakeCache) SetHealth(s model.HealthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = s
}

func (c *FakeCache) HealthCheck(context.Context) model.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.HealthStatus{Store: c.Name(), Status: c.health, ResponseTime: time.Millisecond}
}

func (c *FakeCache) GetOrCreatePrincipal(_ context.Context, externalID string) (string, error) {
	if externalID == "" {
		return "", model.NewValidationError("external_id", "is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.principals[externalID]
	if !ok {
		id = fmt.Sprintf("principal-%d", len(c.principals)+1)
		c.principals[externalID] = id
	}
	return id, nil
}

func (c *FakeCache) Insert(ctx context.Context, rec model.Record) error {
	if err := c.check("insert"); err != nil {
		return model.NewStorageError(model.StoreCache, "insert", model.ErrCodeWriteFailed, err)
	}
	if rec.OrganizerID == "" {
		id, err := c.GetOrCreatePrincipal(ctx, rec.Organizer)
		if err != nil {
			return err
		}
		rec.OrganizerID = id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[rec.ID]; ok {
		return model.NewStorageError(model.StoreCache, "insert", model.ErrCodeWriteFailed,
			fmt.Errorf("record %s already exists", rec.ID))
	}
	for _, other := range c.records {
		if rec.Slug != "" && other.Slug == rec.Slug {
			return model.NewStorageError(model.StoreCache, "insert", model.ErrCodeWriteFailed,
				fmt.Errorf("slug %q is held by record %s", rec.Slug, other.ID))
		}
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}
	rec.Locations.CacheRef = rec.ID
	rec.CreatedAt = c.now()
	rec.UpdatedAt = rec.CreatedAt
	c.records[rec.ID] = copyRecord(rec)
	c.journal.Record("cache.insert %s", rec.ID)
	return nil
}

func (c *FakeCache) Get(_ context.Context, id string) (*model.Record, error) {
	if err := c.check("get"); err != nil {
		return nil, model.NewStorageError(model.StoreCache, "get", model.ErrCodeReadFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("cache record %s: %w", id, model.ErrNotFound)
	}
	out := copyRecord(rec)
	return &out, nil
}

func (c *FakeCache) GetBySlug(_ context.Context, slug string) (*model.Record, error) {
	if err := c.check("get_slug"); err != nil {
		return nil, model.NewStorageError(model.StoreCache, "get_slug", model.ErrCodeReadFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.records {
		if rec.Slug == slug {
			out := copyRecord(rec)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("cache slug %s: %w", slug, model.ErrNotFound)
}

func (c *FakeCache) Update(_ context.Context, rec model.Record) error {
	if err := c.check("update"); err != nil {
		return model.NewStorageError(model.StoreCache, "update", model.ErrCodeWriteFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.records[rec.ID]
	if !ok {
		return fmt.Errorf("cache record %s: %w", rec.ID, model.ErrNotFound)
	}
	rec.OrganizerID = old.OrganizerID
	rec.Locations.CacheRef = rec.ID
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = c.now()
	c.records[rec.ID] = copyRecord(rec)
	c.journal.Record("cache.update %s", rec.ID)
	return nil
}

func (c *FakeCache) Delete(_ context.Context, id string) error {
	if err := c.check("delete"); err != nil {
		return model.NewStorageError(model.StoreCache, "delete", model.ErrCodeWriteFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
	c.journal.Record("cache.delete %s", id)
	return nil
}

func (c *FakeCache) ListWithoutLedgerProof(_ context.Context, grace time.Duration) ([]model.Record, error) {
	if err := c.check("list_orphans"); err != nil {
		return nil, model.NewStorageError(model.StoreCache, "list_orphans", model.ErrCodeReadFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-grace)
	var out []model.Record
	for _, rec := range c.sorted() {
		if rec.Locations.LedgerRef == "" && !rec.CreatedAt.After(cutoff) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// List ignores sorting options and returns records in insertion order.
func (c *FakeCache) List(_ context.Context, q model.ListQuery) (model.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []model.Record
	for _, rec := range c.sorted() {
		if q.Category != "" && rec.Fields.Category != q.Category {
			continue
		}
		if q.Location != "" && rec.Fields.Location != q.Location {
			continue
		}
		matched = append(matched, copyRecord(rec))
	}
	page, limit := max(q.Page, 1), q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min((page-1)*limit, len(matched))
	end := min(start+limit, len(matched))
	return model.Page{Records: append([]model.Record{}, matched[start:end]...), Total: len(matched), Page: page, Limit: limit}, nil
}

func (c *FakeCache) Facets(context.Context) (model.Facets, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := model.Facets{Categories: []string{}, Locations: []string{}}
	cats, locs := map[string]bool{}, map[string]bool{}
	var lo, hi *big.Int
	for _, rec := range c.records {
		if v := rec.Fields.Category; v != "" && !cats[v] {
			cats[v] = true
			f.Categories = append(f.Categories, v)
		}
		if v := rec.Fields.Location; v != "" && !locs[v] {
			locs[v] = true
			f.Locations = append(f.Locations, v)
		}
		if p, ok := rec.Fields.Price(); ok {
			if lo == nil || p.Cmp(lo) < 0 {
				lo = p
			}
			if hi == nil || p.Cmp(hi) > 0 {
				hi = p
			}
		}
	}
	sort.Strings(f.Categories)
	sort.Strings(f.Locations)
	if lo != nil {
		f.MinPrice, f.MaxPrice = lo.String(), hi.String()
	}
	return f, nil
}

func (c *FakeCache) ListIDs(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, rec := range c.sorted() {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// Put stores rec as-is, bypassing faults and timestamps. Used to seed
// drifted or orphaned rows.
func (c *FakeCache) Put(rec model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.Locations.CacheRef == "" {
		rec.Locations.CacheRef = rec.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
		rec.UpdatedAt = rec.CreatedAt
	}
	c.records[rec.ID] = copyRecord(rec)
}

// Len counts stored records.
func (c *FakeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// sorted returns records oldest first; callers hold c.mu.
func (c *FakeCache) sorted() []model.Record {
	out := make([]model.Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyRecord(rec model.Record) model.Record {
	rec.Locations.MediaRefs = append([]string(nil), rec.Locations.MediaRefs...)
	return rec
}
