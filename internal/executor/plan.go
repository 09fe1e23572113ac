package executor

import (
	"fmt"
	"time"

	"tourflow/internal/steps"
)

// Mode is the pacing style for a replay run.
type Mode string

const (
	// ModeAuto performs every step itself with a short delay between the
	// highlight and the action.
	ModeAuto Mode = "auto"
	// ModeGuided highlights each step and waits for the viewer to act
	// before moving on.
	ModeGuided Mode = "guided"
)

func (m Mode) IsValid() bool { return m == ModeAuto || m == ModeGuided }

// FailurePolicy decides what a failed step does to the rest of the run.
type FailurePolicy string

const (
	AbortOnFailure FailurePolicy = "abort"
	SkipOnFailure  FailurePolicy = "skip"
)

func (p FailurePolicy) IsValid() bool { return p == AbortOnFailure || p == SkipOnFailure }

// RunState is the lifecycle state of a replay run. The four terminal
// states are distinct so callers can tell a viewer walking away
// (timed_out) from an explicit stop (cancelled) from a broken page
// (failed).
type RunState string

const (
	StateRunning   RunState = "running"
	StateWaiting   RunState = "waiting"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
	StateTimedOut  RunState = "timed_out"
)

// IsTerminal reports whether the run is finished.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Plan is an immutable, validated sequence of steps plus the pacing mode.
// Building a plan up front means a malformed tour is rejected before the
// browser is touched, never halfway through a run.
type Plan struct {
	steps []steps.Step
	mode  Mode
}

// NewPlan validates the step list and captures a private copy of it.
func NewPlan(list []steps.Step, mode Mode) (*Plan, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid replay mode %q", mode)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("replay plan needs at least one step")
	}
	cp := make([]steps.Step, len(list))
	copy(cp, list)
	for i, st := range cp {
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &Plan{steps: cp, mode: mode}, nil
}

func (p *Plan) Mode() Mode { return p.mode }
func (p *Plan) Len() int   { return len(p.steps) }

// Step returns the i-th step by value.
func (p *Plan) Step(i int) steps.Step { return p.steps[i] }

// Steps returns a copy of the step list.
func (p *Plan) Steps() []steps.Step {
	cp := make([]steps.Step, len(p.steps))
	copy(cp, p.steps)
	return cp
}

// stepMode picks the pacing for one step: composite steps carry their own
// pacing regardless of the plan mode, everything else follows the plan.
func (p *Plan) stepMode(st steps.Step) Mode {
	switch st.Action {
	case steps.ActionMultiStep:
		return ModeAuto
	case steps.ActionGuided:
		return ModeGuided
	}
	return p.mode
}

// Progress is one progress event pushed to subscribers. Current counts
// top-level steps and is 1-based; sub-steps of a composite report their
// parent's position.
type Progress struct {
	RunID    string    `json:"run_id"`
	Current  int       `json:"current"`
	Total    int       `json:"total"`
	Action   string    `json:"action"`
	Selector string    `json:"selector,omitempty"`
	Status   string    `json:"status"`
	State    RunState  `json:"state"`
	Message  string    `json:"message,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// ReplayLog is one entry of a run's in-memory log. Logs live and die
// with the run; they are never written to the database.
type ReplayLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	StepIndex   int       `json:"step_index"`
	Action      string    `json:"action,omitempty"`
	Selector    string    `json:"selector,omitempty"`
	Value       string    `json:"value,omitempty"`
	Duration    int64     `json:"duration,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// Result is the final outcome of a run.
type Result struct {
	State        RunState    `json:"state"`
	StepsRun     int         `json:"steps_run"`
	FailedStep   int         `json:"failed_step"` // 1-based, 0 when none
	SkippedSteps []int       `json:"skipped_steps,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	Duration     int64       `json:"duration_ms"`
	Logs         []ReplayLog `json:"logs,omitempty"`
}

func (r *Result) addLog(level, message string, stepIndex int) {
	r.Logs = append(r.Logs, ReplayLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		StepIndex: stepIndex,
	})
}

func (r *Result) addStepLog(level, message string, stepIndex int, st steps.Step, duration int64, errorDetail string) {
	r.Logs = append(r.Logs, ReplayLog{
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		StepIndex:   stepIndex,
		Action:      string(st.Action),
		Selector:    st.Selector,
		Value:       st.Value,
		Duration:    duration,
		ErrorDetail: errorDetail,
	})
}
