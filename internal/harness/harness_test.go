package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, content string) *Result {
	t.Helper()
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRunVerifyTimeoutThenLanding(t *testing.T) {
	result := run(t, `
name: pending_then_landed
flow:
  - step: prepare
`+minimalInput+`
  - step: sign
    outcome: pending
  - step: complete
    expect:
      phase: ledger_verifying
      error: VERIFY_TIMEOUT
  - step: land
  - step: complete
    expect:
      phase: consistent
assertions:
  - type: trace_count
    call: ledger.verify 0xtx-1
    count: 4
  - type: trace_count
    call: media.delete
    count: 0
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunExpiresAbandonedPrepare(t *testing.T) {
	result := run(t, `
name: abandoned
flow:
  - step: prepare
`+minimalInput+`
  - step: advance
    duration: 23h
  - step: expire
    expect:
      phase: prepared
  - step: advance
    duration: 2h
  - step: expire
    expect:
      phase: failed
assertions:
  - type: trace_contains
    call: media.delete ipfs://media-1
  - type: final_state
    store: operation
    expect:
      phase: failed
      last_error: expired after 24h0m0s without a signed transaction
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunUnhealthyStoreWritesNothing(t *testing.T) {
	result := run(t, `
name: media_down
setup:
  health:
    media: unhealthy
flow:
  - step: prepare
`+minimalInput+`
    expect:
      error: UNAVAILABLE
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Empty(t, result.Trace[0].Calls)
	assert.Empty(t, result.Trace[0].Phase)
	assert.Empty(t, result.State)
}

func TestRunMetadataUploadFailureRollsBackBanner(t *testing.T) {
	result := run(t, `
name: metadata_upload_fails
setup:
  faults:
    - store: media
      op: upload
      after: 1
      error: quota exceeded
flow:
  - step: prepare
`+minimalInput+`
    banner: "GIF89a banner"
    expect:
      phase: failed
      error: UPLOAD_FAILED
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"media.upload ipfs://media-1", "media.delete ipfs://media-1"}, result.Calls())
	assert.Equal(t, "failed", result.State[StateOperation]["phase"])
}

func TestRunIdempotentReplay(t *testing.T) {
	result := run(t, `
name: replay
flow:
  - step: prepare
`+minimalInput+`
      idempotency_key: intent-1
    expect:
      replayed: false
  - step: prepare
`+minimalInput+`
      idempotency_key: intent-1
    expect:
      replayed: true
assertions:
  - type: trace_count
    call: ledger.prepare
    count: 1
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[1].Calls)
}

func TestRunReportsFailedExpectations(t *testing.T) {
	result := run(t, `
name: wrong_expectations
flow:
  - step: prepare
`+minimalInput+`
    expect:
      phase: consistent
  - step: sync
    expect:
      error: SYNC_FAILED
assertions:
  - type: trace_contains
    call: cache.insert
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `expected phase consistent, got "prepared"`)
	assert.Contains(t, result.Errors[1], `expected error SYNC_FAILED, got ""`)
	assert.Contains(t, result.Errors[2], "cache.insert")
}

func TestRunReportsUnexpectedError(t *testing.T) {
	result := run(t, `
name: bad_input
flow:
  - step: prepare
    input:
      fields:
        title: ""
      initiator:
        external_id: user-1
        address: "0x00000000000000000000000000000000000000a1"
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error VALIDATION")
	assert.Equal(t, "VALIDATION", result.Trace[0].Error)
}

func TestRunRepairOfConsistentRecordWritesNothing(t *testing.T) {
	result := run(t, `
name: repair_without_drift
setup:
  signer: true
flow:
  - step: prepare
`+minimalInput+`
  - step: sign
  - step: complete
  - step: repair
assertions:
  - type: trace_count
    call: cache.insert
    count: 1
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[3].Calls, "repairing a consistent record writes nothing")
}

func TestRunFailsOnImpossibleStep(t *testing.T) {
	scenario, err := ParseScenario([]byte("name: x\nflow:\n  - step: sign\n"))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prepared transaction to sign")
}

func TestRunFaultStepMidFlow(t *testing.T) {
	result := run(t, `
name: cache_write_lost
flow:
  - step: prepare
`+minimalInput+`
  - step: sign
  - step: fault
    store: cache
    op: insert
    error: disk full
  - step: complete
    expect:
      phase: ledger_confirmed
      error: WRITE_FAILED
  - step: clear_fault
    store: cache
    op: insert
  - step: complete
    expect:
      phase: consistent
assertions:
  - type: final_state
    store: ledger
    expect:
      present: true
  - type: final_state
    store: cache
    expect:
      present: true
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
