package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/opstate"
	"github.com/roach88/triad/internal/storage"
)

// Defaults for Options fields left at zero.
const (
	DefaultVerifyAttempts = 5
	DefaultVerifyDelay    = 2 * time.Second
	DefaultOrphanGrace    = 10 * time.Minute
	DefaultPreparedTTL    = 24 * time.Hour
)

// ErrOperationClosed is returned when completing an operation that has
// already failed.
var ErrOperationClosed = errors.New("operation is closed")

// Signer is a service-held signing capability. When configured, repair may
// recreate ledger entries that are missing; otherwise that is left to a
// human.
type Signer interface {
	Address() string
	SignAndSubmit(ctx context.Context, tx model.UnsignedTx) (string, error)
}

// Observer receives the duration and outcome of every store call.
type Observer interface {
	RecordOutcome(store string, d time.Duration, ok bool)
}

// Options tunes the orchestrator. Zero values select the defaults.
type Options struct {
	// Network is the ledger network initiators must be on. Empty skips the
	// check.
	Network string

	VerifyAttempts int
	VerifyDelay    time.Duration

	// OrphanGrace is how old a cache row without ledger proof must be
	// before CleanupOrphans touches it.
	OrphanGrace time.Duration

	// PreparedTTL is how long a prepared operation may wait for its
	// signature before ExpireStaleOperations rolls it back.
	PreparedTTL time.Duration

	// MaxCapacity bounds max_capacity before any store is touched.
	MaxCapacity int64
}

func (o Options) withDefaults() Options {
	if o.VerifyAttempts <= 0 {
		o.VerifyAttempts = DefaultVerifyAttempts
	}
	if o.VerifyDelay <= 0 {
		o.VerifyDelay = DefaultVerifyDelay
	}
	if o.OrphanGrace <= 0 {
		o.OrphanGrace = DefaultOrphanGrace
	}
	if o.PreparedTTL <= 0 {
		o.PreparedTTL = DefaultPreparedTTL
	}
	if o.MaxCapacity <= 0 {
		o.MaxCapacity = ledger.DefaultMaxCapacity
	}
	return o
}

// Orchestrator drives record creation across the ledger, cache and media
// stores as a saga, and runs the consistency maintenance jobs.
//
// The orchestrator holds no per-operation state in memory. Every phase is
// persisted to the operation repository before the next store is touched,
// so CompleteCreation may run in a different process than PrepareCreation.
//
// Thread-safety: all methods are safe for concurrent use. Distinct
// operations share nothing but the health cache.
type Orchestrator struct {
	ledger storage.LedgerStore
	cache  storage.CacheStore
	media  storage.MediaStore
	ops    opstate.Repository

	health   *storage.HealthCache
	signer   Signer
	observer Observer
	ids      IDGenerator
	now      func() time.Time
	log      *slog.Logger
	opts     Options
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithSigner enables automated ledger recreation during repair.
func WithSigner(s Signer) Option {
	return func(o *Orchestrator) { o.signer = s }
}

// WithObserver reports every store call to obs, typically the health
// monitor.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithHealthCache shares a health cache, e.g. with the monitor.
func WithHealthCache(c *storage.HealthCache) Option {
	return func(o *Orchestrator) { o.health = c }
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// WithClock replaces time.Now for timestamps and grace periods.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator over the three stores and the operation
// repository.
func New(
	ledgerStore storage.LedgerStore,
	cacheStore storage.CacheStore,
	mediaStore storage.MediaStore,
	ops opstate.Repository,
	opts Options,
	options ...Option,
) (*Orchestrator, error) {
	if ledgerStore == nil || cacheStore == nil || mediaStore == nil {
		return nil, fmt.Errorf("saga: ledger, cache and media stores are required")
	}
	if ops == nil {
		return nil, fmt.Errorf("saga: operation repository is required")
	}

	o := &Orchestrator{
		ledger: ledgerStore,
		cache:  cacheStore,
		media:  mediaStore,
		ops:    ops,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		log:    logging.Component("saga"),
		opts:   opts.withDefaults(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.health == nil {
		o.health = storage.NewHealthCache(storage.DefaultHealthTTL, o.now)
	}
	if o.observer != nil {
		o.ledger = &observedLedger{LedgerStore: o.ledger, obs: o.observer}
		o.cache = &observedCache{CacheStore: o.cache, obs: o.observer}
		o.media = &observedMedia{MediaStore: o.media, obs: o.observer}
	}
	return o, nil
}

// Stores returns the three stores in ledger, cache, media order.
func (o *Orchestrator) Stores() []storage.Provider {
	return []storage.Provider{o.ledger, o.cache, o.media}
}

// Operation loads a persisted operation by id.
func (o *Orchestrator) Operation(ctx context.Context, id string) (*model.OperationState, error) {
	return o.ops.Get(ctx, id)
}

// logger returns the component logger tagged with ctx's operation id.
func (o *Orchestrator) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, o.log)
}

// save stamps and persists op.
func (o *Orchestrator) save(ctx context.Context, op *model.OperationState) error {
	op.UpdatedAt = o.now()
	if err := o.ops.Save(ctx, op); err != nil {
		return model.NewStorageError(model.StoreOpState, "save", model.ErrCodeWriteFailed, err)
	}
	return nil
}

// advance moves op to next and persists it.
func (o *Orchestrator) advance(ctx context.Context, op *model.OperationState, next model.Phase) error {
	from := op.Phase
	if err := op.Advance(next); err != nil {
		return err
	}
	if err := o.save(ctx, op); err != nil {
		return err
	}
	o.logger(ctx).Debug("phase transition", "from", from, "to", next)
	return nil
}

// checkHealth aborts with a StorageError naming the first unhealthy store.
// Degraded stores are tolerated.
func (o *Orchestrator) checkHealth(ctx context.Context) error {
	for _, p := range o.Stores() {
		st := o.health.Check(ctx, p)
		switch st.Status {
		case model.Healthy:
		case model.Degraded:
			o.logger(ctx).Warn("store degraded", "store", p.Name(), "detail", st.Detail)
		default:
			detail := st.Detail
			if detail == "" {
				detail = string(st.Status)
			}
			return model.NewStorageError(p.Name(), "health_check", model.ErrCodeUnavailable, errors.New(detail))
		}
	}
	return nil
}

// resultFor reports which stores hold the operation's record. Media uploads
// are never reclaimed, so media stays true once anything was uploaded.
func resultFor(op *model.OperationState) *model.CreationResult {
	r := &model.CreationResult{
		OperationID: op.ID,
		RecordID:    op.RecordID,
		MediaRefs:   append([]string(nil), op.MediaRefs...),
	}
	r.CreatedOn.Media = len(op.MediaRefs) > 0
	if op.BlockRef != "" {
		r.CreatedOn.Ledger = true
		r.LedgerRef = op.LedgerTxRef
		r.BlockRef = op.BlockRef
	}
	if op.CacheRecordID != "" && !compensated(op, model.CompensateDeleteCacheRecord, op.CacheRecordID) {
		r.CreatedOn.Cache = true
		r.CacheRef = op.CacheRecordID
	}
	for _, c := range op.Compensations {
		if c.Status == model.CompensationFailed {
			r.Errors = append(r.Errors, fmt.Sprintf("compensation %s %s: %s", c.Kind, c.Target, c.Error))
		}
	}
	return r
}

func compensated(op *model.OperationState, kind model.CompensationKind, target string) bool {
	for _, c := range op.Compensations {
		if c.Kind == kind && c.Target == target && c.Status == model.CompensationDone {
			return true
		}
	}
	return false
}
