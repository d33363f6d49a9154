package saga

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/storage"
)

// A not-found read is an answer, not a failure.
func succeeded(err error) bool {
	return err == nil || errors.Is(err, model.ErrNotFound)
}

type observedLedger struct {
	storage.LedgerStore
	obs Observer
}

func (l *observedLedger) PrepareTransaction(ctx context.Context, draft model.Draft, externalRef, signer string) (model.UnsignedTx, error) {
	start := time.Now()
	tx, err := l.LedgerStore.PrepareTransaction(ctx, draft, externalRef, signer)
	l.obs.RecordOutcome(model.StoreLedger, time.Since(start), err == nil || model.IsValidation(err))
	return tx, err
}

func (l *observedLedger) VerifyTransaction(ctx context.Context, txRef string) (model.TxVerification, error) {
	start := time.Now()
	v, err := l.LedgerStore.VerifyTransaction(ctx, txRef)
	l.obs.RecordOutcome(model.StoreLedger, time.Since(start), err == nil)
	return v, err
}

func (l *observedLedger) GetByID(ctx context.Context, id string) (*model.Record, error) {
	start := time.Now()
	rec, err := l.LedgerStore.GetByID(ctx, id)
	l.obs.RecordOutcome(model.StoreLedger, time.Since(start), succeeded(err))
	return rec, err
}

type observedCache struct {
	storage.CacheStore
	obs Observer
}

func (c *observedCache) Insert(ctx context.Context, rec model.Record) error {
	start := time.Now()
	err := c.CacheStore.Insert(ctx, rec)
	c.obs.RecordOutcome(model.StoreCache, time.Since(start), err == nil)
	return err
}

func (c *observedCache) Get(ctx context.Context, id string) (*model.Record, error) {
	start := time.Now()
	rec, err := c.CacheStore.Get(ctx, id)
	c.obs.RecordOutcome(model.StoreCache, time.Since(start), succeeded(err))
	return rec, err
}

func (c *observedCache) Update(ctx context.Context, rec model.Record) error {
	start := time.Now()
	err := c.CacheStore.Update(ctx, rec)
	c.obs.RecordOutcome(model.StoreCache, time.Since(start), err == nil)
	return err
}

func (c *observedCache) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := c.CacheStore.Delete(ctx, id)
	c.obs.RecordOutcome(model.StoreCache, time.Since(start), err == nil)
	return err
}

type observedMedia struct {
	storage.MediaStore
	obs Observer
}

func (m *observedMedia) Upload(ctx context.Context, content []byte, contentType string, tags map[string]string) (model.Upload, error) {
	start := time.Now()
	up, err := m.MediaStore.Upload(ctx, content, contentType, tags)
	m.obs.RecordOutcome(model.StoreMedia, time.Since(start), err == nil)
	return up, err
}

func (m *observedMedia) UploadJSON(ctx context.Context, v any, tags map[string]string) (model.Upload, error) {
	start := time.Now()
	up, err := m.MediaStore.UploadJSON(ctx, v, tags)
	m.obs.RecordOutcome(model.StoreMedia, time.Since(start), err == nil)
	return up, err
}

func (m *observedMedia) Reachable(ctx context.Context, url string) error {
	start := time.Now()
	err := m.MediaStore.Reachable(ctx, url)
	m.obs.RecordOutcome(model.StoreMedia, time.Since(start), err == nil)
	return err
}
