package harness

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Step, strings.Join(ev.Calls, ", "))
		}
	}
	return buf.String()
}

// callMatches reports whether a journal entry matches an assertion call.
// "media.delete" matches every media.delete; "media.delete ipfs://x" only
// that one.
func callMatches(entry, call string) bool {
	return entry == call || strings.HasPrefix(entry, call+" ")
}

// assertTraceContains checks that a matching call appears anywhere.
func assertTraceContains(r *Result, a Assertion) error {
	for _, c := range r.Calls() {
		if callMatches(c, a.Call) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s", a.Call),
		Actual:   "not found in trace",
		Trace:    r.Trace,
	}
}

// assertTraceOrder checks that calls appear in the given order. Calls don't
// need to be consecutive; each is matched after the previous match.
func assertTraceOrder(r *Result, a Assertion) error {
	calls := r.Calls()
	pos := 0
	for _, want := range a.Calls {
		found := false
		for pos < len(calls) {
			pos++
			if callMatches(calls[pos-1], want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual:   fmt.Sprintf("%s missing or out of order in %v", want, calls),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that a call appears exactly Count times.
func assertTraceCount(r *Result, a Assertion) error {
	count := 0
	for _, c := range r.Calls() {
		if callMatches(c, a.Call) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertFinalState checks expected values against the final copy held by
// one store, using subset semantics over dotted json paths.
func assertFinalState(r *Result, a Assertion) error {
	state, ok := r.State[a.Store]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s state", a.Store),
			Actual:   "no operation was started",
		}
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		actual, found := lookup(state, k)
		if !found {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing", k))
			continue
		}
		if !valuesEqual(actual, a.Expect[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", k, a.Expect[k], actual))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s matches %v", a.Store, a.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

// lookup resolves a dotted path such as "locations.ledger_ref" or
// "compensations.0.status".
func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares a decoded json value with a YAML value. Scalars
// compare by their printed form, so 120 (YAML int) equals 120 (json
// float64); lists compare element-wise.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	al, aok := actual.([]any)
	el, eok := expected.([]any)
	if aok || eok {
		if !aok || !eok || len(al) != len(el) {
			return false
		}
		for i := range al {
			if !valuesEqual(al[i], el[i]) {
				return false
			}
		}
		return true
	}
	return scalar(actual) == scalar(expected)
}

func scalar(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result, a)
		case AssertTraceCount:
			err = assertTraceCount(result, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
