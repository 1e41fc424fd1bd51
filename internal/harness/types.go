package harness

import (
	"time"

	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/sim"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`

	// FirstSeq and LastSeq bound the seqs of the run's edges.
	FirstSeq int64 `json:"first_seq"`
	LastSeq  int64 `json:"last_seq"`

	// Trace contains the recorded transitions in seq order, limited to the
	// scenario's signals when it names any.
	Trace []sim.Transition `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Status   lane.Status   `json:"status"`
	Counters lane.Counters `json:"counters"`

	// LaneError is the lane's error code, empty when healthy.
	LaneError string `json:"lane_error,omitempty"`

	// Config is the resolved bench configuration.
	Config sim.BenchConfig `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []sim.Transition{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
