package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/triad/internal/model"
)

// Scenario defines one creation scenario: store setup, a flow of steps and
// assertions over the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Setup Setup `yaml:"setup,omitempty"`

	// Flow contains the steps to execute, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup prepares the fake stores before the flow starts.
type Setup struct {
	// Signer configures the fake ledger as the service signer, which lets
	// repair recreate missing ledger entries.
	Signer bool `yaml:"signer,omitempty"`

	// Health maps store names to the state their health check reports.
	Health map[string]model.HealthState `yaml:"health,omitempty"`

	Faults []Fault `yaml:"faults,omitempty"`
}

// Fault makes a fake store operation fail.
type Fault struct {
	Store string `yaml:"store"`
	Op    string `yaml:"op"`
	// After lets the operation succeed this many times first.
	After int    `yaml:"after,omitempty"`
	Error string `yaml:"error"`
}

// FlowStep is one step of the main flow. Which fields apply depends on Step.
type FlowStep struct {
	Step string `yaml:"step"`

	// prepare
	Input      map[string]any `yaml:"input,omitempty"`
	Banner     string         `yaml:"banner,omitempty"`
	BannerType string         `yaml:"banner_type,omitempty"`

	// sign
	Outcome model.TxStatus `yaml:"outcome,omitempty"`

	// complete; defaults to the ref of the last sign step
	Tx string `yaml:"tx,omitempty"`

	// advance
	Duration time.Duration `yaml:"duration,omitempty"`

	// fault, clear_fault, health
	Store  string            `yaml:"store,omitempty"`
	Op     string            `yaml:"op,omitempty"`
	After  int               `yaml:"after,omitempty"`
	Error  string            `yaml:"error,omitempty"`
	Health model.HealthState `yaml:"health,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Phase is the operation phase after the step.
	Phase model.Phase `yaml:"phase,omitempty"`

	// Error is the expected error code; empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Consistent is checked after check steps.
	Consistent *bool `yaml:"consistent,omitempty"`

	// Replayed is checked after prepare steps.
	Replayed *bool `yaml:"replayed,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Call is a store call such as "cache.insert" or "media.delete ipfs://media-1"
	// (trace_contains, trace_count).
	Call string `yaml:"call,omitempty"`

	// Calls is the expected order (trace_order).
	Calls []string `yaml:"calls,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Store is operation, cache or ledger (final_state).
	Store string `yaml:"store,omitempty"`

	// Expect holds expected values by dotted json path, for example
	// "locations.ledger_ref" (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Step names.
const (
	StepPrepare    = "prepare"
	StepSign       = "sign"
	StepLand       = "land"
	StepComplete   = "complete"
	StepCheck      = "check"
	StepRepair     = "repair"
	StepSync       = "sync"
	StepCleanup    = "cleanup"
	StepResume     = "resume"
	StepExpire     = "expire"
	StepAdvance    = "advance"
	StepDropCache  = "drop_cache"
	StepFault      = "fault"
	StepClearFault = "clear_fault"
	StepHealth     = "health"
)

var knownSteps = []string{
	StepPrepare, StepSign, StepLand, StepComplete, StepCheck, StepRepair,
	StepSync, StepCleanup, StepResume, StepExpire, StepAdvance, StepDropCache,
	StepFault, StepClearFault, StepHealth,
}

// State store names for final_state.
const (
	StateOperation = "operation"
	StateCache     = model.StoreCache
	StateLedger    = model.StoreLedger
)

var faultStores = []string{model.StoreLedger, model.StoreCache, model.StoreMedia}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	for store, state := range s.Setup.Health {
		if !slices.Contains(faultStores, store) {
			return fmt.Errorf("setup.health: unknown store %q", store)
		}
		if !validHealth(state) {
			return fmt.Errorf("setup.health.%s: unknown state %q", store, state)
		}
	}
	for i, f := range s.Setup.Faults {
		if err := validateFault(f.Store, f.Op, f.Error); err != nil {
			return fmt.Errorf("setup.faults[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step FlowStep) error {
	if step.Step == "" {
		return fmt.Errorf("flow[%d]: step is required", index)
	}
	if !slices.Contains(knownSteps, step.Step) {
		return fmt.Errorf("flow[%d]: unknown step %q", index, step.Step)
	}

	switch step.Step {
	case StepPrepare:
		if len(step.Input) == 0 {
			return fmt.Errorf("flow[%d]: input is required for prepare", index)
		}
	case StepSign:
		switch step.Outcome {
		case "", model.TxSuccess, model.TxFailed, model.TxPending:
		default:
			return fmt.Errorf("flow[%d]: unknown outcome %q", index, step.Outcome)
		}
	case StepAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("flow[%d]: duration must be positive for advance", index)
		}
	case StepFault:
		if err := validateFault(step.Store, step.Op, step.Error); err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
	case StepClearFault:
		if err := validateFault(step.Store, step.Op, "cleared"); err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
	case StepHealth:
		if !slices.Contains(faultStores, step.Store) {
			return fmt.Errorf("flow[%d]: unknown store %q", index, step.Store)
		}
		if !validHealth(step.Health) {
			return fmt.Errorf("flow[%d]: unknown health %q", index, step.Health)
		}
	}
	return nil
}

func validateFault(store, op, msg string) error {
	if !slices.Contains(faultStores, store) {
		return fmt.Errorf("unknown store %q", store)
	}
	if op == "" {
		return fmt.Errorf("op is required")
	}
	if msg == "" {
		return fmt.Errorf("error is required")
	}
	return nil
}

func validHealth(s model.HealthState) bool {
	return s == model.Healthy || s == model.Degraded || s == model.Unhealthy
}

func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Store {
		case StateOperation, StateCache, StateLedger:
		default:
			return fmt.Errorf("assertions[%d]: store must be operation, cache or ledger for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
