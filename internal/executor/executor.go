package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tourflow/internal/steps"
)

// Intent tells the driver whether a step should be presented or done.
// Show draws the highlight and comment; Do performs the real interaction.
type Intent string

const (
	IntentShow Intent = "show"
	IntentDo   Intent = "do"
)

// ErrWaitTimeout reports a guided wait that expired with no viewer
// action. The run maps it to the timed_out terminal state.
var ErrWaitTimeout = errors.New("guided wait timed out")

// ErrNoMatch reports a step whose selector resolved to nothing on the
// live page. Drivers wrap it so the run can fail the step under the
// failure policy instead of shrugging it off as a broken highlight.
var ErrNoMatch = errors.New("no element matches the selector")

// StepDriver is the page-side contract a run needs: perform one step,
// block until the viewer clicks, and clear the highlight when the run
// ends. *page.Session implements it.
type StepDriver interface {
	Perform(ctx context.Context, step steps.Step, intent Intent) error
	WaitForClick(ctx context.Context) error
	ClearHighlight(ctx context.Context) error
}

// RunOptions tunes a single replay run. Zero values pick the defaults.
type RunOptions struct {
	TourID        uint
	ShowDelay     time.Duration
	StepDelay     time.Duration
	GuidedTimeout time.Duration
	OnFailure     FailurePolicy
	OnProgress    func(Progress)
}

const (
	// ShowDelay separates the highlight from the action so the viewer sees
	// what is about to happen; StepDelay paces consecutive steps.
	DefaultShowDelay     = 300 * time.Millisecond
	DefaultStepDelay     = 500 * time.Millisecond
	DefaultGuidedTimeout = 30 * time.Second
)

// Run is one replay of a plan against one page session.
type Run struct {
	ID     string
	TourID uint

	plan   *Plan
	driver StepDriver
	opts   RunOptions

	ctx     context.Context
	cancel  context.CancelFunc
	advance chan struct{}
	done    chan struct{}

	mu         sync.RWMutex
	state      RunState
	cursor     int
	result     *Result
	finishedAt time.Time
}

// ReplayManager tracks live runs and caps how many can be in flight at
// once. Finished runs stay queryable until Prune evicts them.
type ReplayManager struct {
	mu            sync.RWMutex
	runs          map[string]*Run
	maxConcurrent int
}

var GlobalReplay *ReplayManager

// InitReplayManager sets up the global manager.
func InitReplayManager(maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	GlobalReplay = NewReplayManager(maxConcurrent)
	log.Printf("Replay manager initialized with %d concurrent run slots", maxConcurrent)
}

func NewReplayManager(maxConcurrent int) *ReplayManager {
	return &ReplayManager{
		runs:          make(map[string]*Run),
		maxConcurrent: maxConcurrent,
	}
}

// Start validates capacity, registers a run and launches its loop.
func (m *ReplayManager) Start(plan *Plan, driver StepDriver, opts RunOptions) (*Run, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}
	if driver == nil {
		return nil, fmt.Errorf("nil step driver")
	}
	if opts.ShowDelay <= 0 {
		opts.ShowDelay = DefaultShowDelay
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	if opts.GuidedTimeout <= 0 {
		opts.GuidedTimeout = DefaultGuidedTimeout
	}
	if opts.OnFailure == "" {
		opts.OnFailure = AbortOnFailure
	}
	if !opts.OnFailure.IsValid() {
		return nil, fmt.Errorf("invalid failure policy %q", opts.OnFailure)
	}

	m.mu.Lock()
	active := 0
	for _, r := range m.runs {
		if !r.State().IsTerminal() {
			active++
		}
	}
	if active >= m.maxConcurrent {
		m.mu.Unlock()
		return nil, fmt.Errorf("replay capacity reached (%d runs active)", active)
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:      uuid.New().String(),
		TourID:  opts.TourID,
		plan:    plan,
		driver:  driver,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		advance: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateRunning,
	}
	m.runs[run.ID] = run
	m.mu.Unlock()

	go run.loop()
	log.Printf("🚀 Replay run %s started: %d steps, mode=%s", run.ID, plan.Len(), plan.Mode())
	return run, nil
}

func (m *ReplayManager) Get(runID string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	return r, ok
}

// Cancel stops a running run. Returns false when the run is unknown or
// already finished.
func (m *ReplayManager) Cancel(runID string) bool {
	m.mu.RLock()
	r, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok || r.State().IsTerminal() {
		return false
	}
	log.Printf("Cancelling replay run %s", runID)
	r.Cancel()
	return true
}

// Advance pushes a waiting guided run to its next step.
func (m *ReplayManager) Advance(runID string) bool {
	m.mu.RLock()
	r, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Advance()
}

func (m *ReplayManager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.runs {
		if !r.State().IsTerminal() {
			n++
		}
	}
	return n
}

// Prune drops terminal runs older than maxAge and returns how many went.
func (m *ReplayManager) Prune(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.runs {
		if fin, terminal := r.finished(); terminal && time.Since(fin) > maxAge {
			delete(m.runs, id)
			n++
		}
	}
	return n
}

// State returns the run's current lifecycle state.
func (r *Run) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Cursor is the 1-based index of the step in flight, 0 before the first.
func (r *Run) Cursor() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursor
}

// Total is the number of top-level steps in the plan.
func (r *Run) Total() int { return r.plan.Len() }

// Result returns the final result, or nil while the run is live.
func (r *Run) Result() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel asks the run to stop. The loop notices via its context.
func (r *Run) Cancel() { r.cancel() }

// Advance delivers one viewer advance to a waiting guided step. The send
// is dropped when nobody is waiting, so a stray advance cannot queue up
// and silently skip a later step.
func (r *Run) Advance() bool {
	select {
	case r.advance <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Run) finished() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt, r.state.IsTerminal()
}

func (r *Run) setState(s RunState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setCursor(c int) {
	r.mu.Lock()
	r.cursor = c
	r.mu.Unlock()
}

// loop drives the whole run. It is the only writer of the result.
func (r *Run) loop() {
	res := &Result{StartedAt: time.Now()}
	total := r.plan.Len()

	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("🚨 PANIC recovered in replay run %s: %v", r.ID, rec)
			res.addLog("error", fmt.Sprintf("run panic recovered: %v", rec), -1)
			r.finish(res, StateFailed, fmt.Sprintf("replay panic: %v", rec))
		}
	}()

	log.Printf("🏁 Replay run %s: %d steps, mode=%s, on_failure=%s",
		r.ID, total, r.plan.Mode(), r.opts.OnFailure)

	for i := 0; i < total; i++ {
		st := r.plan.Step(i)
		pos := i + 1
		r.setCursor(pos)
		r.emit(st, pos, "running", "")
		log.Printf("🔄 [%d/%d] %s %s", pos, total, st.Action, st.Selector)

		stepStart := time.Now()
		var err error
		if st.Action.IsComposite() {
			err = r.runComposite(st, pos, res)
		} else {
			err = r.runStep(st, pos, r.plan.stepMode(st), res)
		}
		took := time.Since(stepStart).Milliseconds()

		if err != nil {
			switch {
			case errors.Is(err, ErrWaitTimeout):
				res.addStepLog("warn", fmt.Sprintf("step %d/%d: viewer did not act", pos, total), pos, st, took, err.Error())
				r.finish(res, StateTimedOut, fmt.Sprintf("no viewer action at step %d", pos))
				return
			case errors.Is(err, context.Canceled) || r.ctx.Err() != nil:
				res.addStepLog("info", fmt.Sprintf("step %d/%d: run cancelled", pos, total), pos, st, took, "")
				r.finish(res, StateCancelled, "run cancelled")
				return
			}
			res.addStepLog("error", fmt.Sprintf("step %d/%d failed: %v", pos, total, err), pos, st, took, err.Error())
			log.Printf("❌ [%d/%d] failed (%dms): %v", pos, total, took, err)
			if r.opts.OnFailure == SkipOnFailure {
				res.SkippedSteps = append(res.SkippedSteps, pos)
				r.emit(st, pos, "skipped", err.Error())
				continue
			}
			res.FailedStep = pos
			r.finish(res, StateFailed, fmt.Sprintf("step %d failed: %v", pos, err))
			return
		}

		res.StepsRun++
		res.addStepLog("info", fmt.Sprintf("step %d/%d done", pos, total), pos, st, took, "")
		log.Printf("✅ [%d/%d] done (%dms)", pos, total, took)
		r.emit(st, pos, "done", "")
	}

	r.finish(res, StateCompleted, "")
}

// runStep plays one leaf step. Auto mode shows the step and then does
// it after a beat; guided mode only shows it and waits, the viewer
// performs the action themselves.
func (r *Run) runStep(st steps.Step, pos int, mode Mode, res *Result) error {
	if err := r.driver.Perform(r.ctx, st, IntentShow); err != nil {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		if errors.Is(err, ErrNoMatch) {
			return err
		}
		// A broken highlight is not fatal: keep going, the action
		// itself decides whether the step fails.
		res.addStepLog("warn", fmt.Sprintf("step %d: highlight failed: %v", pos, err), pos, st, 0, "")
		log.Printf("⚠️ [%d/%d] highlight failed: %v", pos, r.plan.Len(), err)
	}

	if mode == ModeGuided {
		r.setState(StateWaiting)
		r.emit(st, pos, "waiting", "")
		if err := r.waitForAdvance(); err != nil {
			return err
		}
		r.setState(StateRunning)
		return nil
	}

	if err := r.pause(r.opts.ShowDelay); err != nil {
		return err
	}
	if st.Action != steps.ActionNoop {
		if err := r.driver.Perform(r.ctx, st, IntentDo); err != nil {
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			return err
		}
	}
	return r.pause(r.opts.StepDelay)
}

// runComposite plays a composite's children under the composite's own
// pacing. Any child failure fails the whole step.
func (r *Run) runComposite(st steps.Step, pos int, res *Result) error {
	mode := r.plan.stepMode(st)
	for ci, child := range st.Steps {
		if err := r.runStep(child, pos, mode, res); err != nil {
			return fmt.Errorf("sub-step %d: %w", ci+1, err)
		}
	}
	return nil
}

// waitForAdvance blocks until the viewer clicks the page, the API pushes
// an advance, the wait times out, or the run is cancelled.
func (r *Run) waitForAdvance() error {
	wctx, cancel := context.WithTimeout(r.ctx, r.opts.GuidedTimeout)
	defer cancel()

	clicked := make(chan error, 1)
	go func() { clicked <- r.driver.WaitForClick(wctx) }()

	select {
	case <-r.advance:
		return nil
	case err := <-clicked:
		if err == nil {
			return nil
		}
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		if errors.Is(wctx.Err(), context.DeadlineExceeded) {
			return ErrWaitTimeout
		}
		return err
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *Run) pause(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *Run) finish(res *Result, state RunState, msg string) {
	res.State = state
	res.ErrorMessage = msg
	res.Duration = time.Since(res.StartedAt).Milliseconds()

	r.mu.Lock()
	r.state = state
	r.result = res
	r.finishedAt = time.Now()
	r.mu.Unlock()
	r.cancel()

	cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.driver.ClearHighlight(cctx); err != nil {
		log.Printf("⚠️ Failed to clear highlight after run %s: %v", r.ID, err)
	}

	r.emitFinal(state, msg)
	switch state {
	case StateCompleted:
		log.Printf("🎉 Replay run %s completed: %d steps in %dms", r.ID, res.StepsRun, res.Duration)
	case StateCancelled:
		log.Printf("⚠️ Replay run %s cancelled after %d steps", r.ID, res.StepsRun)
	case StateTimedOut:
		log.Printf("⏰ Replay run %s timed out waiting for the viewer", r.ID)
	default:
		log.Printf("❌ Replay run %s failed: %s", r.ID, msg)
	}
}

func (r *Run) emit(st steps.Step, pos int, status, msg string) {
	if r.opts.OnProgress == nil {
		return
	}
	r.opts.OnProgress(Progress{
		RunID:    r.ID,
		Current:  pos,
		Total:    r.plan.Len(),
		Action:   string(st.Action),
		Selector: st.Selector,
		Status:   status,
		State:    r.State(),
		Message:  msg,
		SentAt:   time.Now(),
	})
}

func (r *Run) emitFinal(state RunState, msg string) {
	if r.opts.OnProgress == nil {
		return
	}
	r.opts.OnProgress(Progress{
		RunID:   r.ID,
		Current: r.Cursor(),
		Total:   r.plan.Len(),
		Status:  "finished",
		State:   state,
		Message: msg,
		SentAt:  time.Now(),
	})
}
