package saga

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/opstate"
	"github.com/roach88/triad/internal/testutil"
)

var testAddress = "0x" + strings.Repeat("0", 38) + "a1"

type fixture struct {
	clock   *testutil.Clock
	journal *testutil.Journal
	ledger  *testutil.FakeLedger
	cache   *testutil.FakeCache
	media   *testutil.FakeMedia
	ops     *opstate.MemoryRepository
	orch    *Orchestrator
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   testutil.NewClock(time.Time{}),
		journal: testutil.NewJournal(),
		ops:     opstate.NewMemory(),
	}
	f.ledger = testutil.NewFakeLedger(f.journal, f.clock.Now)
	f.cache = testutil.NewFakeCache(f.journal, f.clock.Now)
	f.media = testutil.NewFakeMedia(f.journal)

	base := []Option{
		WithClock(f.clock.Now),
		WithIDGenerator(testutil.NewSequenceIDs("id")),
		WithLogger(logging.Discard()),
	}
	orch, err := New(f.ledger, f.cache, f.media, f.ops, Options{
		Network:        testutil.FakeNetwork,
		VerifyAttempts: 3,
		VerifyDelay:    time.Millisecond,
	}, append(base, options...)...)
	require.NoError(t, err)
	f.orch = orch
	return f
}

// exampleInput is the minimal creation: one hour from now, ten seats, free.
func (f *fixture) exampleInput() PrepareRequest {
	now := f.clock.Now()
	return PrepareRequest{
		Fields: model.EventFields{
			Title:       "Test",
			StartsAt:    now.Add(time.Hour),
			EndsAt:      now.Add(2 * time.Hour),
			MaxCapacity: 10,
			TicketPrice: "0",
		},
		Initiator: model.Principal{ExternalID: "user-1", Address: testAddress},
	}
}

func withBanner(req PrepareRequest) PrepareRequest {
	req.Banner = &model.Attachment{Content: []byte("\x89PNG banner"), ContentType: "image/png"}
	return req
}

// create runs a full successful creation and returns its result.
func (f *fixture) create(t *testing.T, req PrepareRequest) (*PrepareResult, *model.CreationResult) {
	t.Helper()
	ctx := context.Background()
	prep, err := f.orch.PrepareCreation(ctx, req)
	require.NoError(t, err)
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)
	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.NoError(t, err)
	return prep, res
}

func (f *fixture) op(t *testing.T, id string) *model.OperationState {
	t.Helper()
	op, err := f.ops.Get(context.Background(), id)
	require.NoError(t, err)
	return op
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(nil, nil, nil, opstate.NewMemory(), Options{})
	assert.Error(t, err)

	j := testutil.NewJournal()
	_, err = New(testutil.NewFakeLedger(j, nil), testutil.NewFakeCache(j, nil), testutil.NewFakeMedia(j), nil, Options{})
	assert.Error(t, err)
}

func TestPrepareExampleUploadsOneMetadataObject(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.PrepareCreation(context.Background(), f.exampleInput())
	require.NoError(t, err)

	assert.Equal(t, 1, f.media.Uploads())
	assert.Equal(t, 1, f.ledger.Prepared())
	assert.Len(t, res.MediaRefs, 1)
	assert.Equal(t, ledger.MethodCreateEvent, res.UnsignedTx.Method)
	assert.Equal(t, testutil.FakeNetwork, res.UnsignedTx.Network)
	assert.NotEmpty(t, res.UnsignedTx.Digest)
	assert.Equal(t, "id-0001", res.OperationID)
	assert.Equal(t, "id-0002", res.RecordID)
	assert.Equal(t, "test-id0002", res.Slug)
	assert.False(t, res.Replayed)

	op := f.op(t, res.OperationID)
	assert.Equal(t, model.PhasePrepared, op.Phase)
	assert.Equal(t, res.MediaRefs[0], op.MetadataRef)
	require.Len(t, op.Compensations, 1)
	assert.Equal(t, model.CompensateDeleteMedia, op.Compensations[0].Kind)
	assert.Equal(t, model.CompensationPending, op.Compensations[0].Status)

	// Nothing reaches the cache before the signature.
	assert.Zero(t, f.cache.Len())
}

func TestPrepareUploadsBannerBeforeMetadata(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.PrepareCreation(context.Background(), withBanner(f.exampleInput()))
	require.NoError(t, err)

	require.Len(t, res.MediaRefs, 2)
	doc, ok := f.media.Object(res.MediaRefs[1])
	require.True(t, ok)
	assert.Contains(t, string(doc), `"image":"`+res.MediaRefs[0]+`"`)
	assert.Contains(t, res.UnsignedTx.Payload, `"banner_uri":"`+res.MediaRefs[0]+`"`)
}

func TestPrepareHonoursCallerSlug(t *testing.T) {
	f := newFixture(t)
	req := f.exampleInput()
	req.Slug = "launch-party"

	res, err := f.orch.PrepareCreation(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "launch-party", res.Slug)
}

func TestPrepareAbortsOnUnhealthyStore(t *testing.T) {
	tests := []struct {
		store string
		set   func(f *fixture)
	}{
		{model.StoreLedger, func(f *fixture) { f.ledger.SetHealth(model.Unhealthy) }},
		{model.StoreCache, func(f *fixture) { f.cache.SetHealth(model.Unhealthy) }},
		{model.StoreMedia, func(f *fixture) { f.media.SetHealth(model.Unhealthy) }},
	}
	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			f := newFixture(t)
			tt.set(f)

			_, err := f.orch.PrepareCreation(context.Background(), f.exampleInput())
			require.Error(t, err)

			var se *model.StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.store, se.Store)
			assert.Equal(t, model.ErrCodeUnavailable, se.Code)

			assert.Empty(t, f.journal.Entries(), "no store may be written")
			assert.Zero(t, f.media.Uploads())
			assert.Zero(t, f.ledger.Prepared())
			assert.Zero(t, f.cache.Len())

			ops, err := f.ops.ListByPhase(context.Background(),
				model.PhasePreparing, model.PhasePrepared, model.PhaseRollingBack, model.PhaseFailed)
			require.NoError(t, err)
			assert.Empty(t, ops)
		})
	}
}

func TestPrepareToleratesDegradedStore(t *testing.T) {
	f := newFixture(t)
	f.cache.SetHealth(model.Degraded)

	_, err := f.orch.PrepareCreation(context.Background(), f.exampleInput())
	assert.NoError(t, err)
}

func TestPrepareRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *PrepareRequest)
		field  string
	}{
		{"ends before start", func(f *fixture, req *PrepareRequest) {
			req.Fields.EndsAt = req.Fields.StartsAt.Add(-time.Minute)
		}, "ends_at"},
		{"zero capacity", func(f *fixture, req *PrepareRequest) { req.Fields.MaxCapacity = 0 }, "max_capacity"},
		{"bad signer", func(f *fixture, req *PrepareRequest) { req.Initiator.Address = "0x123" }, "initiator.address"},
		{"low balance", func(f *fixture, req *PrepareRequest) { f.ledger.SetBalance(big.NewInt(1)) }, "initiator.address"},
		{"wrong network", func(f *fixture, req *PrepareRequest) { f.ledger.SetNetwork("mainnet") }, "network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.exampleInput()
			tt.mutate(f, &req)

			_, err := f.orch.PrepareCreation(context.Background(), req)
			require.Error(t, err)
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, f.journal.Entries())
		})
	}
}

func TestPrepareRollsBackInReverseOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.Inject("prepare", errors.New("node down"))

	_, err := f.orch.PrepareCreation(context.Background(), withBanner(f.exampleInput()))
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))

	assert.Equal(t, []string{
		"media.upload ipfs://media-1",
		"media.upload ipfs://media-2",
		"media.delete ipfs://media-2",
		"media.delete ipfs://media-1",
	}, f.journal.Entries())

	op := f.op(t, "id-0001")
	assert.Equal(t, model.PhaseFailed, op.Phase)
	assert.Contains(t, op.LastError, "node down")
	for _, c := range op.Compensations {
		assert.Equal(t, model.CompensationDone, c.Status, "compensation %d", c.Seq)
	}
}

func TestRollbackContinuesPastFailedCompensation(t *testing.T) {
	f := newFixture(t)
	f.ledger.Inject("prepare", errors.New("node down"))
	f.media.Inject("delete", errors.New("gateway gone"))

	_, err := f.orch.PrepareCreation(context.Background(), withBanner(f.exampleInput()))
	require.Error(t, err)

	op := f.op(t, "id-0001")
	assert.Equal(t, model.PhaseFailed, op.Phase)
	require.Len(t, op.Compensations, 2)
	for _, c := range op.Compensations {
		assert.Equal(t, model.CompensationFailed, c.Status)
		assert.Contains(t, c.Error, "gateway gone")
	}
	require.NotNil(t, op.Result)
	assert.Len(t, op.Result.Errors, 3)
}

func TestMetadataUploadFailureRollsBackBanner(t *testing.T) {
	f := newFixture(t)
	f.media.InjectAfter("upload", 1, errors.New("quota exceeded"))

	_, err := f.orch.PrepareCreation(context.Background(), withBanner(f.exampleInput()))
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeUploadFailed, model.StorageCode(err))

	assert.Equal(t, []string{
		"media.upload ipfs://media-1",
		"media.delete ipfs://media-1",
	}, f.journal.Entries())
	assert.Zero(t, f.ledger.Prepared())
}

func TestIdempotencyKeyReplaysPrepare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.exampleInput()
	req.IdempotencyKey = "intent-1"

	first, err := f.orch.PrepareCreation(ctx, req)
	require.NoError(t, err)
	second, err := f.orch.PrepareCreation(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OperationID, second.OperationID)
	assert.Equal(t, first.UnsignedTx, second.UnsignedTx)
	assert.Equal(t, 1, f.media.Uploads())
	assert.Equal(t, 1, f.ledger.Prepared())

	changed := req
	changed.Fields.Title = "Other"
	_, err = f.orch.PrepareCreation(ctx, changed)
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "idempotency_key", ve.Field)
}

func TestFailedOperationReleasesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.exampleInput()
	req.IdempotencyKey = "intent-1"

	f.ledger.Inject("prepare", errors.New("node down"))
	_, err := f.orch.PrepareCreation(ctx, req)
	require.Error(t, err)

	f.ledger.Clear("prepare")
	res, err := f.orch.PrepareCreation(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.NotEqual(t, "id-0001", res.OperationID)
}

func TestCompleteCreationIsConsistent(t *testing.T) {
	f := newFixture(t)
	prep, res := f.create(t, withBanner(f.exampleInput()))

	assert.Equal(t, model.CreatedOn{Ledger: true, Cache: true, Media: true}, res.CreatedOn)
	assert.Equal(t, "0xtx-1", res.LedgerRef)
	assert.Equal(t, "1", res.BlockRef)
	assert.Equal(t, prep.RecordID, res.CacheRef)
	assert.Equal(t, prep.MediaRefs, res.MediaRefs)
	assert.Empty(t, res.Errors)

	report, err := f.orch.CheckConsistency(context.Background(), prep.RecordID)
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "discrepancies: %v", report.Discrepancies)
	assert.True(t, report.PresentInLedger)
	assert.True(t, report.PresentInCache)
	assert.True(t, report.PresentInMedia)

	op := f.op(t, prep.OperationID)
	assert.Equal(t, model.PhaseConsistent, op.Phase)
	for _, c := range op.Compensations {
		if c.Kind == model.CompensateDeleteMedia {
			assert.Equal(t, model.CompensationRetired, c.Status)
		}
	}

	rec, err := f.cache.Get(context.Background(), prep.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.Organizer)
	assert.Equal(t, "0xtx-1", rec.Locations.LedgerRef)
	assert.Equal(t, op.MetadataRef, rec.Locations.MetadataRef)
}

func TestCompleteIsRepeatable(t *testing.T) {
	f := newFixture(t)
	prep, res := f.create(t, f.exampleInput())
	before := len(f.journal.Entries())

	again, err := f.orch.CompleteCreation(context.Background(), CompleteRequest{OperationID: prep.OperationID})
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.Len(t, f.journal.Entries(), before)
}

func TestCompleteFailedVerificationSkipsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prep, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxFailed)
	require.NoError(t, err)

	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeTxFailed, model.StorageCode(err))
	require.NotNil(t, res)
	assert.Equal(t, model.CreatedOn{Ledger: false, Cache: false, Media: true}, res.CreatedOn)

	assert.Empty(t, f.journal.Filter("cache."))
	assert.Zero(t, f.cache.Len())
	assert.Contains(t, f.journal.Entries(), "media.delete "+prep.MediaRefs[0])
	assert.Equal(t, model.PhaseFailed, f.op(t, prep.OperationID).Phase)

	_, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	assert.ErrorIs(t, err, ErrOperationClosed)
}

func TestCompleteVerifyTimeoutKeepsVerifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prep, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)

	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: "0xnot-landed"})
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeVerifyTimeout, model.StorageCode(err))
	assert.Equal(t, model.CreatedOn{Media: true}, res.CreatedOn)
	assert.Len(t, f.journal.Filter("ledger.verify 0xnot-landed"), 3)

	op := f.op(t, prep.OperationID)
	assert.Equal(t, model.PhaseLedgerVerifying, op.Phase)
	assert.Equal(t, 1, op.PendingCompensations())

	// The transaction lands later; the caller retries with its ref.
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)
	res, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.NoError(t, err)
	assert.Equal(t, model.CreatedOn{Ledger: true, Cache: true, Media: true}, res.CreatedOn)
}

func TestCompleteRetriesTransientVerifyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prep, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)

	f.ledger.Inject("verify", errors.New("connection reset"))
	_, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeVerifyTimeout, model.StorageCode(err))

	f.ledger.Clear("verify")
	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID})
	require.NoError(t, err)
	assert.True(t, res.CreatedOn.Cache)
}

func TestCompleteRequiresTxRef(t *testing.T) {
	f := newFixture(t)
	prep, err := f.orch.PrepareCreation(context.Background(), f.exampleInput())
	require.NoError(t, err)

	_, err = f.orch.CompleteCreation(context.Background(), CompleteRequest{OperationID: prep.OperationID})
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, model.PhasePrepared, f.op(t, prep.OperationID).Phase)
}

func TestCompleteUnknownOperation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.CompleteCreation(context.Background(), CompleteRequest{OperationID: "missing", TxRef: "0x1"})
	assert.ErrorIs(t, err, model.ErrOperationNotFound)
}

func TestCompleteRejectsTransactionForOtherRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	other := f.exampleInput()
	other.Fields.Title = "Other"
	b, err := f.orch.PrepareCreation(ctx, other)
	require.NoError(t, err)

	refB, err := f.ledger.Submit(b.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)
	_, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: a.OperationID, TxRef: refB})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "tx_ref", ve.Field)
}

func TestCacheWriteFailureLeavesLedgerConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prep, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)

	f.cache.Inject("insert", errors.New("disk full"))
	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeWriteFailed, model.StorageCode(err))
	assert.Equal(t, model.CreatedOn{Ledger: true, Cache: false, Media: true}, res.CreatedOn)
	assert.Equal(t, model.PhaseLedgerConfirmed, f.op(t, prep.OperationID).Phase)
	assert.Empty(t, f.journal.Filter("media.delete"), "media referenced by the ledger must survive")

	f.cache.Clear("insert")
	res, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID})
	require.NoError(t, err)
	assert.True(t, res.CreatedOn.Cache)
}

func TestCrossVerifyMismatchRollsBackCacheOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prep, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	ref, err := f.ledger.Submit(prep.UnsignedTx, model.TxSuccess)
	require.NoError(t, err)
	f.media.Unpin(prep.MediaRefs[0])

	res, err := f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: prep.OperationID, TxRef: ref})
	require.Error(t, err)
	var ce *model.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, model.MediaUnreachable, ce.Discrepancies[0].Kind)

	assert.Equal(t, model.CreatedOn{Ledger: true, Cache: false, Media: true}, res.CreatedOn)
	assert.Contains(t, f.journal.Entries(), "cache.delete "+prep.RecordID)
	assert.Empty(t, f.journal.Filter("media.delete"))
	assert.Equal(t, 1, f.ledger.Entries())
	assert.Equal(t, model.PhaseFailed, f.op(t, prep.OperationID).Phase)
}

func TestResumeRollbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ops.Create(ctx, &model.OperationState{
		ID:       "op-crashed",
		RecordID: "rec-crashed",
		Phase:    model.PhaseRollingBack,
		Compensations: []model.Compensation{
			{Seq: 1, Kind: model.CompensateDeleteMedia, Target: "ipfs://a", Status: model.CompensationPending},
			{Seq: 2, Kind: model.CompensateDeleteMedia, Target: "ipfs://b", Status: model.CompensationDone},
		},
	}))

	n, err := f.orch.ResumeRollbacks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"media.delete ipfs://a"}, f.journal.Entries())

	op := f.op(t, "op-crashed")
	assert.Equal(t, model.PhaseFailed, op.Phase)
	assert.Zero(t, op.PendingCompensations())
}

func TestExpireStaleOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.orch.PrepareCreation(ctx, f.exampleInput())
	require.NoError(t, err)
	other := f.exampleInput()
	other.Fields.Title = "Verifying"
	verifying, err := f.orch.PrepareCreation(ctx, other)
	require.NoError(t, err)
	_, err = f.orch.CompleteCreation(ctx, CompleteRequest{OperationID: verifying.OperationID, TxRef: "0xslow"})
	require.Error(t, err)

	n, err := f.orch.ExpireStaleOperations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is stale yet")

	f.clock.Advance(DefaultPreparedTTL + time.Minute)
	n, err = f.orch.ExpireStaleOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	op := f.op(t, stale.OperationID)
	assert.Equal(t, model.PhaseFailed, op.Phase)
	assert.Contains(t, op.LastError, "expired")
	assert.Equal(t, model.PhaseLedgerVerifying, f.op(t, verifying.OperationID).Phase)
}

func TestObserverSeesStoreCalls(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, WithObserver(obs))
	f.create(t, f.exampleInput())

	assert.Positive(t, obs.count(model.StoreLedger))
	assert.Positive(t, obs.count(model.StoreCache))
	assert.Positive(t, obs.count(model.StoreMedia))
	assert.Zero(t, obs.failures)
}

type recordingObserver struct {
	calls    []string
	failures int
}

func (r *recordingObserver) RecordOutcome(store string, _ time.Duration, ok bool) {
	r.calls = append(r.calls, store)
	if !ok {
		r.failures++
	}
}

func (r *recordingObserver) count(store string) int {
	n := 0
	for _, s := range r.calls {
		if s == store {
			n++
		}
	}
	return n
}

func TestSlugFor(t *testing.T) {
	tests := []struct {
		title, id, want string
	}{
		{"Summer Fest 2026", "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b", "summer-fest-2026-2e3f4a5b"},
		{"Café Münchën!", "id-0002", "cafe-munchen-id0002"},
		{"  --Rock & Roll--  ", "id-0002", "rock-roll-id0002"},
		{"!!!", "id-0002", "id0002"},
		{strings.Repeat("a", 60), "id-0002", strings.Repeat("a", 48) + "-id0002"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, slugFor(tt.title, tt.id))
		})
	}
}

func TestUUIDv7GeneratorIsSortable(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.NewID(), g.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestFixedGeneratorPanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("one")
	assert.Equal(t, "one", g.NewID())
	assert.Panics(t, func() { g.NewID() })
}
