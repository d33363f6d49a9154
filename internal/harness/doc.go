// Package harness runs creation scenarios against the saga orchestrator and
// checks what each store saw.
//
// Every scenario gets fresh in-memory stores (testutil fakes sharing one
// journal), a deterministic clock starting at testutil.Epoch and sequential
// ids, so the same scenario always produces the same trace.
//
// # Scenario Format
//
//	name: banner_creation
//	description: "Creation with a banner reaches all three stores"
//	setup:
//	  signer: false
//	  health: { cache: degraded }
//	  faults:
//	    - store: media
//	      op: upload
//	      after: 1
//	      error: "quota exceeded"
//	flow:
//	  - step: prepare
//	    input: { fields: {...}, initiator: {...} }
//	    banner: "GIF89a banner"
//	    banner_type: image/gif
//	    expect: { phase: prepared }
//	  - step: sign
//	    outcome: success
//	  - step: complete
//	    expect: { phase: consistent }
//	assertions:
//	  - type: trace_contains
//	    call: cache.insert
//	  - type: final_state
//	    store: operation
//	    expect: { phase: consistent }
//
// # Steps
//
//   - prepare: PrepareCreation with input (and optional banner)
//   - sign: submit the prepared transaction with outcome success, failed or pending
//   - land: confirm a pending transaction
//   - complete: CompleteCreation with the signed ref (or tx)
//   - check, repair: CheckConsistency and RepairConsistency of the record
//   - sync, cleanup, resume, expire: the maintenance operations
//   - advance: move the clock by duration
//   - drop_cache: delete the record's cache row behind the orchestrator's back
//   - fault, clear_fault: inject or clear a store fault mid-flow
//   - health: set a store's reported health
//
// # Assertion Types
//
//   - trace_contains: a store call appears in the trace
//   - trace_order: calls appear in the given order
//   - trace_count: a call appears exactly count times
//   - final_state: the operation, cache row or ledger entry matches expect
//
// Calls match exactly ("media.delete ipfs://media-1") or by operation
// ("media.delete").
package harness
