package harness

import (
	"context"
	"sync"

	"github.com/jmwren/replica/pkg/cache"
	"github.com/jmwren/replica/pkg/entity"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every applied action in sequence order, commands and
	// reconciliation results alike. Actions marshal with deterministic
	// key order, so the trace is directly comparable against goldens.
	Trace []entity.Action `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result. Assertion failures flip it.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []entity.Action{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceRecorder captures applied actions through the store's journal hook.
// The store appends from its single Run goroutine; Events is read after the
// run drains, but the mutex keeps the recorder safe regardless.
type traceRecorder struct {
	mu      sync.Mutex
	actions []entity.Action
}

var _ cache.Journal = (*traceRecorder)(nil)

func (r *traceRecorder) Append(ctx context.Context, a entity.Action, after *entity.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

// Events returns the recorded actions in application order.
func (r *traceRecorder) Events() []entity.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// multiJournal fans one append out to several journals, so a scenario run
// can feed a persistent journal and the trace recorder at once.
type multiJournal []cache.Journal

func (m multiJournal) Append(ctx context.Context, a entity.Action, after *entity.Cache) error {
	var firstErr error
	for _, j := range m {
		if err := j.Append(ctx, a, after); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
