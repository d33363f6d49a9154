package harness

// TraceEvent is one executed step and the store calls it caused.
type TraceEvent struct {
	Seq   int64    `json:"seq"`
	Step  string   `json:"step"`
	Phase string   `json:"phase,omitempty"` // operation phase after the step
	Error string   `json:"error,omitempty"` // error code, see errorCode
	Calls []string `json:"calls,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`

	// State holds the final operation, cache and ledger copies of the
	// scenario's record, keyed by store.
	State map[string]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Calls returns every store call in the trace, in order.
func (r *Result) Calls() []string {
	var out []string
	for _, ev := range r.Trace {
		out = append(out, ev.Calls...)
	}
	return out
}
