package progress

import (
	"context"
	"sync"
)

// Recorder is a Reporter that remembers every update, for tests.
type Recorder struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Update.
	Err error

	updates []Update
}

var _ Reporter = (*Recorder)(nil)

// Update is one recorded Reporter.Update call.
type Update struct {
	RunID string
	Step  Step
}

// Update implements Reporter.
func (r *Recorder) Update(_ context.Context, runID string, step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, Update{RunID: runID, Step: step})
	return r.Err
}

// Updates returns a copy of all recorded updates in order.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// Steps returns just the step sequence of all recorded updates.
func (r *Recorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Step
	}
	return out
}
