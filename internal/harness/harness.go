package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/opstate"
	"github.com/roach88/triad/internal/saga"
	"github.com/roach88/triad/internal/testutil"
)

// Harness is the scenario execution engine. It owns one set of fake stores
// and one orchestrator for the lifetime of a scenario.
type Harness struct {
	clock   *testutil.Clock
	journal *testutil.Journal
	ledger  *testutil.FakeLedger
	cache   *testutil.FakeCache
	media   *testutil.FakeMedia
	ops     *opstate.MemoryRepository
	ids     *recordingIDs
	orch    *saga.Orchestrator
	logger  *slog.Logger

	opID     string
	recordID string
	unsigned *model.UnsignedTx
	txRef    string
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sends orchestrator logs to logger instead of discarding them.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) { h.logger = logger }
}

// recordingIDs remembers the ids issued since the last reset, so a failed
// prepare can still be attributed to its operation.
type recordingIDs struct {
	mu     sync.Mutex
	gen    *testutil.SequenceIDs
	issued []string
}

func (r *recordingIDs) NewID() string {
	id := r.gen.NewID()
	r.mu.Lock()
	r.issued = append(r.issued, id)
	r.mu.Unlock()
	return id
}

func (r *recordingIDs) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.issued
	r.issued = nil
	return out
}

// New builds a harness with fresh stores configured by setup.
func New(setup Setup, opts ...Option) (*Harness, error) {
	h := &Harness{
		clock:   testutil.NewClock(time.Time{}),
		journal: testutil.NewJournal(),
		ops:     opstate.NewMemory(),
		ids:     &recordingIDs{gen: testutil.NewSequenceIDs("id")},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ledger = testutil.NewFakeLedger(h.journal, h.clock.Now)
	h.cache = testutil.NewFakeCache(h.journal, h.clock.Now)
	h.media = testutil.NewFakeMedia(h.journal)

	sagaOpts := []saga.Option{
		saga.WithClock(h.clock.Now),
		saga.WithIDGenerator(h.ids),
		saga.WithLogger(h.logger),
	}
	if setup.Signer {
		sagaOpts = append(sagaOpts, saga.WithSigner(h.ledger))
	}
	orch, err := saga.New(h.ledger, h.cache, h.media, h.ops, saga.Options{
		Network:        testutil.FakeNetwork,
		VerifyAttempts: 3,
		VerifyDelay:    time.Millisecond,
	}, sagaOpts...)
	if err != nil {
		return nil, err
	}
	h.orch = orch

	for store, state := range setup.Health {
		h.setHealth(store, state)
	}
	for _, f := range setup.Faults {
		h.faults(f.Store).InjectAfter(f.Op, f.After, errors.New(f.Error))
	}
	return h, nil
}

// Run executes a scenario and returns the result.
//
// An error is returned only when the scenario cannot be executed at all,
// for example a sign step before any prepare. Failed expectations and
// assertions are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := New(scenario.Setup, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build stores: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Step, err)
		}
	}

	if err := h.collectState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// outcome is what a step produced beyond its error.
type outcome struct {
	consistent *bool
	replayed   *bool
}

func (h *Harness) execute(ctx context.Context, index int, step FlowStep, result *Result) error {
	before := len(h.journal.Entries())

	out, stepErr, err := h.dispatch(ctx, step)
	if err != nil {
		return err
	}

	ev := TraceEvent{
		Seq:   int64(index + 1),
		Step:  step.Step,
		Error: errorCode(stepErr),
	}
	if entries := h.journal.Entries(); len(entries) > before {
		ev.Calls = entries[before:]
	}
	phase, err := h.phase(ctx)
	if err != nil {
		return err
	}
	ev.Phase = phase
	result.Trace = append(result.Trace, ev)

	h.checkExpect(index, step, ev, out, stepErr, result)
	return nil
}

func (h *Harness) checkExpect(index int, step FlowStep, ev TraceEvent, out outcome, stepErr error, result *Result) {
	prefix := fmt.Sprintf("flow[%d] %s", index, step.Step)
	exp := step.Expect
	if exp == nil {
		exp = &ExpectClause{}
	}

	switch {
	case exp.Error == "" && stepErr != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error %s: %v", prefix, ev.Error, stepErr))
	case exp.Error != "" && ev.Error != exp.Error:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %q", prefix, exp.Error, ev.Error))
	}
	if exp.Phase != "" && string(exp.Phase) != ev.Phase {
		result.AddError(fmt.Sprintf("%s: expected phase %s, got %q", prefix, exp.Phase, ev.Phase))
	}
	if exp.Consistent != nil {
		if out.consistent == nil {
			result.AddError(fmt.Sprintf("%s: consistent is only reported by check", prefix))
		} else if *out.consistent != *exp.Consistent {
			result.AddError(fmt.Sprintf("%s: expected consistent=%t, got %t", prefix, *exp.Consistent, *out.consistent))
		}
	}
	if exp.Replayed != nil {
		if out.replayed == nil {
			result.AddError(fmt.Sprintf("%s: replayed is only reported by a successful prepare", prefix))
		} else if *out.replayed != *exp.Replayed {
			result.AddError(fmt.Sprintf("%s: expected replayed=%t, got %t", prefix, *exp.Replayed, *out.replayed))
		}
	}
}

// dispatch runs one step. stepErr is the error of the operation under test;
// err means the step itself could not run.
func (h *Harness) dispatch(ctx context.Context, step FlowStep) (out outcome, stepErr error, err error) {
	switch step.Step {
	case StepPrepare:
		req, err := prepareRequest(step)
		if err != nil {
			return out, nil, err
		}
		h.ids.take()
		var res *saga.PrepareResult
		res, stepErr = h.orch.PrepareCreation(ctx, req)
		if res != nil {
			h.opID, h.recordID = res.OperationID, res.RecordID
			tx := res.UnsignedTx
			h.unsigned = &tx
			out.replayed = &res.Replayed
		} else if issued := h.ids.take(); len(issued) >= 2 {
			h.opID, h.recordID = issued[0], issued[1]
			h.unsigned = nil
		}
		return out, stepErr, nil

	case StepSign:
		if h.unsigned == nil {
			return out, nil, errors.New("no prepared transaction to sign")
		}
		status := step.Outcome
		if status == "" {
			status = model.TxSuccess
		}
		h.txRef, stepErr = h.ledger.Submit(*h.unsigned, status)
		return out, stepErr, nil

	case StepLand:
		if h.txRef == "" {
			return out, nil, errors.New("no submitted transaction to land")
		}
		return out, h.ledger.Land(h.txRef), nil

	case StepComplete:
		if h.opID == "" {
			return out, nil, errors.New("no operation to complete")
		}
		ref := step.Tx
		if ref == "" {
			ref = h.txRef
		}
		_, stepErr = h.orch.CompleteCreation(ctx, saga.CompleteRequest{OperationID: h.opID, TxRef: ref})
		return out, stepErr, nil

	case StepCheck:
		if h.recordID == "" {
			return out, nil, errors.New("no record to check")
		}
		var report *model.ConsistencyReport
		report, stepErr = h.orch.CheckConsistency(ctx, h.recordID)
		if report != nil {
			ok := report.Consistent()
			out.consistent = &ok
		}
		return out, stepErr, nil

	case StepRepair:
		if h.recordID == "" {
			return out, nil, errors.New("no record to repair")
		}
		var res *model.RepairResult
		res, stepErr = h.orch.RepairConsistency(ctx, h.recordID)
		if stepErr == nil {
			stepErr = repairError(res)
		}
		return out, stepErr, nil

	case StepSync:
		sum := h.orch.SyncAll(ctx)
		if sum.Failed > 0 {
			stepErr = &summaryError{code: "SYNC_FAILED", errs: sum.Errors}
		}
		return out, stepErr, nil

	case StepCleanup:
		sum := h.orch.CleanupOrphans(ctx)
		if sum.Errored > 0 {
			stepErr = &summaryError{code: "CLEANUP_FAILED", errs: sum.Errors}
		}
		return out, stepErr, nil

	case StepResume:
		_, stepErr = h.orch.ResumeRollbacks(ctx)
		return out, stepErr, nil

	case StepExpire:
		_, stepErr = h.orch.ExpireStaleOperations(ctx)
		return out, stepErr, nil

	case StepAdvance:
		h.clock.Advance(step.Duration)
		return out, nil, nil

	case StepDropCache:
		if h.recordID == "" {
			return out, nil, errors.New("no record to drop")
		}
		return out, h.cache.Delete(ctx, h.recordID), nil

	case StepFault:
		h.faults(step.Store).InjectAfter(step.Op, step.After, errors.New(step.Error))
		return out, nil, nil

	case StepClearFault:
		h.faults(step.Store).Clear(step.Op)
		return out, nil, nil

	case StepHealth:
		h.setHealth(step.Store, step.Health)
		return out, nil, nil
	}
	return out, nil, fmt.Errorf("unknown step %q", step.Step)
}

// prepareRequest converts the step input through its json form, the same
// way request files are read by the CLI.
func prepareRequest(step FlowStep) (saga.PrepareRequest, error) {
	var req saga.PrepareRequest
	raw, err := json.Marshal(step.Input)
	if err != nil {
		return req, fmt.Errorf("encode input: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode input: %w", err)
	}
	if step.Banner != "" {
		ct := step.BannerType
		if ct == "" {
			ct = http.DetectContentType([]byte(step.Banner))
		}
		req.Banner = &model.Attachment{Content: []byte(step.Banner), ContentType: ct}
	}
	return req, nil
}

func (h *Harness) faults(store string) *testutil.Faults {
	switch store {
	case model.StoreLedger:
		return &h.ledger.Faults
	case model.StoreCache:
		return &h.cache.Faults
	default:
		return &h.media.Faults
	}
}

func (h *Harness) setHealth(store string, state model.HealthState) {
	switch store {
	case model.StoreLedger:
		h.ledger.SetHealth(state)
	case model.StoreCache:
		h.cache.SetHealth(state)
	case model.StoreMedia:
		h.media.SetHealth(state)
	}
}

// collectState snapshots the operation and both record copies.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	if h.opID != "" {
		op, err := h.ops.Get(ctx, h.opID)
		if errors.Is(err, model.ErrOperationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		m, err := toMap(op)
		if err != nil {
			return err
		}
		result.State[StateOperation] = m
	}
	if h.recordID == "" {
		return nil
	}

	var err error
	if result.State[StateCache], err = recordState(h.cache.Get(ctx, h.recordID)); err != nil {
		return err
	}
	if result.State[StateLedger], err = recordState(h.ledger.GetByID(ctx, h.recordID)); err != nil {
		return err
	}
	return nil
}

// phase returns the current operation phase, or "" before one exists.
func (h *Harness) phase(ctx context.Context) (string, error) {
	if h.opID == "" {
		return "", nil
	}
	op, err := h.ops.Get(ctx, h.opID)
	if errors.Is(err, model.ErrOperationNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(op.Phase), nil
}

// recordState is the final_state view of one record copy. A read failure
// left by an injected fault is reported in the state rather than failing
// the run.
func recordState(rec *model.Record, err error) (map[string]any, error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return map[string]any{"present": false}, nil
	case err != nil:
		return map[string]any{"error": err.Error()}, nil
	}
	m, err := toMap(rec)
	if err != nil {
		return nil, err
	}
	m["present"] = true
	return m, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// summaryError reports a maintenance run that finished with failures.
type summaryError struct {
	code string
	errs []string
}

func (e *summaryError) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.errs)
}

func repairError(res *model.RepairResult) error {
	switch {
	case len(res.Errors) > 0:
		return &summaryError{code: "REPAIR_FAILED", errs: res.Errors}
	case len(res.ManualIntervention) > 0:
		return &summaryError{code: "MANUAL", errs: res.ManualIntervention}
	}
	return nil
}

// errorCode names err for traces and expect clauses.
func errorCode(err error) string {
	var se *summaryError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.code
	case model.IsValidation(err):
		return "VALIDATION"
	case model.IsConsistency(err):
		return "INCONSISTENT"
	case errors.Is(err, saga.ErrOperationClosed):
		return "CLOSED"
	case errors.Is(err, model.ErrDuplicateIntent):
		return "DUPLICATE"
	case errors.Is(err, model.ErrOperationNotFound), errors.Is(err, model.ErrNotFound):
		return "NOT_FOUND"
	}
	if code := model.StorageCode(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
