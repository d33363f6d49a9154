package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// Journal records store calls across fakes in the order they happened, so
// tests can assert on ordering such as reverse-order compensation.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Record appends one entry.
func (j *Journal) Record(format string, args ...any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of every entry.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Filter returns entries starting with prefix.
func (j *Journal) Filter(prefix string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.entries {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the journal.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// Faults injects errors into named fake operations.
type Faults struct {
	mu    sync.Mutex
	errs  map[string]error
	after map[string]int
}

// Inject makes op fail with err from now on.
func (f *Faults) Inject(op string, err error) {
	f.InjectAfter(op, 0, err)
}

// InjectAfter lets op succeed n more times, then fail with err.
func (f *Faults) InjectAfter(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
		f.after = make(map[string]int)
	}
	f.errs[op] = err
	f.after[op] = n
}

// Clear removes the fault on op.
func (f *Faults) Clear(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, op)
	delete(f.after, op)
}

// check returns the injected error for op, if it is due.
func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.errs[op]
	if !ok {
		return nil
	}
	if f.after[op] > 0 {
		f.after[op]--
		return nil
	}
	return err
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
