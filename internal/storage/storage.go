// Package storage defines the contracts the orchestrator holds for its three
// stores, plus the health-check plumbing they share.
package storage

import (
	"context"
	"math/big"
	"time"

	"github.com/roach88/triad/internal/model"
)

// Provider is implemented by every store.
type Provider interface {
	// Name identifies the store in logs, errors and metrics.
	Name() string

	// HealthCheck never returns an error. Unreachable backends report
	// model.Unhealthy within the provider's timeout.
	HealthCheck(ctx context.Context) model.HealthStatus

	// Config is diagnostic and must never contain secrets.
	Config() map[string]string
}

// MediaStore is write-once, content-addressed storage.
type MediaStore interface {
	Provider
	Upload(ctx context.Context, content []byte, contentType string, tags map[string]string) (model.Upload, error)
	UploadJSON(ctx context.Context, v any, tags map[string]string) (model.Upload, error)

	// Delete always succeeds without doing anything: content-addressed
	// objects cannot be removed.
	Delete(ctx context.Context, uri string) error

	// ResolveURL maps a storage ref to a fetchable URL. Pure.
	ResolveURL(ref string) string

	// Reachable returns nil if url can be fetched.
	Reachable(ctx context.Context, url string) error
}

// LedgerStore is the append-only source of truth. Writes are signed outside
// this module; the store prepares and verifies them.
type LedgerStore interface {
	Provider
	PrepareTransaction(ctx context.Context, draft model.Draft, externalRef, signer string) (model.UnsignedTx, error)

	// VerifyTransaction reports pending without error while the
	// transaction has not landed.
	VerifyTransaction(ctx context.Context, txRef string) (model.TxVerification, error)

	// GetByID returns model.ErrNotFound when the record is absent.
	GetByID(ctx context.Context, id string) (*model.Record, error)

	Balance(ctx context.Context, address string) (*big.Int, error)
	NetworkID(ctx context.Context) (string, error)
	EstimateFee(ctx context.Context) (*big.Int, error)
}

// CacheStore is the mutable relational copy used for queries.
type CacheStore interface {
	Provider
	Insert(ctx context.Context, rec model.Record) error
	Get(ctx context.Context, id string) (*model.Record, error)
	// GetBySlug returns the record holding slug or model.ErrNotFound.
	GetBySlug(ctx context.Context, slug string) (*model.Record, error)
	Update(ctx context.Context, rec model.Record) error
	Delete(ctx context.Context, id string) error

	// GetOrCreatePrincipal is an idempotent upsert returning the cache id
	// for externalID.
	GetOrCreatePrincipal(ctx context.Context, externalID string) (string, error)

	// ListWithoutLedgerProof returns records with no ledger ref that were
	// created at least grace ago.
	ListWithoutLedgerProof(ctx context.Context, grace time.Duration) ([]model.Record, error)

	List(ctx context.Context, q model.ListQuery) (model.Page, error)
	Facets(ctx context.Context) (model.Facets, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// Probe runs ping under timeout and classifies the outcome: an error is
// unhealthy, success slower than degradedAfter is degraded.
func Probe(ctx context.Context, store string, timeout, degradedAfter time.Duration, now func() time.Time, ping func(context.Context) error) model.HealthStatus {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := now()
	err := ping(ctx)
	elapsed := now().Sub(start)

	status := model.HealthStatus{
		Store:        store,
		Status:       model.Healthy,
		ResponseTime: elapsed,
		CheckedAt:    now(),
	}
	switch {
	case err != nil:
		status.Status = model.Unhealthy
		status.Detail = err.Error()
	case degradedAfter > 0 && elapsed > degradedAfter:
		status.Status = model.Degraded
		status.Detail = "slow response"
	}
	return status
}
