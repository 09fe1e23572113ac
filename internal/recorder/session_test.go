package recorder

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tourflow/internal/executor"
	"tourflow/internal/selector"
	"tourflow/internal/steps"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage serves the capture runtime scripts from canned data: drain
// batches are fed by the test, selector counts come from a lookup table.
type fakePage struct {
	mu       sync.Mutex
	counts   map[string]int
	batches  []drainPayload
	idx      int
	url      string
	installs int
	attaches []bool
	closed   bool
}

func newFakePage(url string, counts map[string]int) *fakePage {
	if counts == nil {
		counts = map[string]int{}
	}
	return &fakePage{url: url, counts: counts}
}

func (f *fakePage) feed(b drainPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)
}

func (f *fakePage) Evaluate(_ context.Context, expr string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(expr, "window.__tourflowCapture = {"):
		f.installs++
		return fakeJSON(true, out)
	case strings.Contains(expr, "installed: !!cap"):
		if f.idx < len(f.batches) {
			b := f.batches[f.idx]
			f.idx++
			return fakeJSON(b, out)
		}
		return fakeJSON(drainPayload{Installed: true, URL: f.url}, out)
	case strings.Contains(expr, "{ cap.attach(); } else { cap.detach(); }"):
		f.attaches = append(f.attaches, strings.Contains(expr, "if (true)"))
		return fakeJSON(true, out)
	case strings.Contains(expr, "els===null?-1"):
		for sel, n := range f.counts {
			if strings.Contains(expr, strconv.Quote(sel)) {
				return fakeJSON(n, out)
			}
		}
		return fakeJSON(0, out)
	case strings.Contains(expr, "elementFromPoint"):
		return fakeJSON(true, out)
	}
	return fakeJSON(true, out)
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePage) installCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs
}

func (f *fakePage) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func fakeJSON(v interface{}, out interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

const startURL = "https://app.example.com/start"

func testSession(t *testing.T, counts map[string]int) (*Session, *fakePage) {
	t.Helper()
	fp := newFakePage(startURL, counts)
	s := newSession("sess-test", startURL, "Desktop 1080p", fp, "")
	return s, fp
}

func buttonSnap(id, text string) selector.ElementSnapshot {
	return selector.ElementSnapshot{Tag: "button", ID: id, Text: text}
}

func inputSnap(id string) selector.ElementSnapshot {
	return selector.ElementSnapshot{Tag: "input", ID: id, Attributes: map[string]string{"type": "text"}}
}

func click(snap selector.ElementSnapshot) rawEvent {
	return rawEvent{Kind: "click", Snapshot: snap, Hint: &selector.Hint{X: 10, Y: 10}, At: time.Now().UnixMilli()}
}

func batch(url string, events ...rawEvent) drainPayload {
	return drainPayload{Installed: true, URL: url, Events: events}
}

func TestClickBecomesButtonStep(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#save": 1})
	fp.feed(batch(startURL, click(buttonSnap("save", "Save"))))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionButton, got[0].Action)
	assert.Equal(t, "#save", got[0].Selector)
	assert.True(t, got[0].IsUnique)
	assert.Equal(t, 1, got[0].MatchCount)
	assert.Equal(t, `Click "Save"`, got[0].Description)
}

func TestConsecutiveDuplicateClicksCollapse(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#save": 1})
	fp.feed(batch(startURL,
		click(buttonSnap("save", "Save")),
		click(buttonSnap("save", "Save")),
		click(buttonSnap("save", "Save")),
	))

	require.NoError(t, s.drainOnce())
	assert.Len(t, s.Steps(), 1)
}

func TestTypingCoalescesIntoOneFill(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#email": 1})
	field := inputSnap("email")
	fp.feed(batch(startURL,
		click(field),
		rawEvent{Kind: "input", Snapshot: field, Value: "u", At: 1},
		rawEvent{Kind: "input", Snapshot: field, Value: "us", At: 2},
		rawEvent{Kind: "input", Snapshot: field, Value: "user@example.com", At: 3},
		rawEvent{Kind: "commit", Snapshot: field, Value: "user@example.com", At: 4},
	))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1, "the focus click and every keystroke fold into one step")
	assert.Equal(t, steps.ActionFormFill, got[0].Action)
	assert.Equal(t, "#email", got[0].Selector)
	assert.Equal(t, "user@example.com", got[0].Value)
}

func TestUntouchedFieldBlurIsNotAStep(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#email": 1})
	fp.feed(batch(startURL,
		rawEvent{Kind: "commit", Snapshot: inputSnap("email"), Value: "prefilled@example.com", At: 1},
	))

	require.NoError(t, s.drainOnce())
	assert.Empty(t, s.Steps(), "blur without typing commits nothing")
}

func TestSelectCommitsWithoutTyping(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#country": 1})
	sel := selector.ElementSnapshot{Tag: "select", ID: "country"}
	fp.feed(batch(startURL, rawEvent{Kind: "commit", Snapshot: sel, Value: "DE", At: 1}))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionFormFill, got[0].Action)
	assert.Equal(t, "DE", got[0].Value)
}

func TestRecommittingSameFieldRewritesStep(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#email": 1})
	field := inputSnap("email")
	fp.feed(batch(startURL,
		rawEvent{Kind: "input", Snapshot: field, Value: "alice", At: 1},
		rawEvent{Kind: "commit", Snapshot: field, Value: "alice", At: 2},
	))
	fp.feed(batch(startURL,
		rawEvent{Kind: "input", Snapshot: field, Value: "alice@example.com", At: 3},
		rawEvent{Kind: "commit", Snapshot: field, Value: "alice@example.com", At: 4},
	))

	require.NoError(t, s.drainOnce())
	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1, "a corrected entry overwrites the earlier fill")
	assert.Equal(t, "alice@example.com", got[0].Value)
}

func TestToolUIEventsAreDropped(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#save": 1})
	own := buttonSnap("save", "Save")
	own.FromToolUI = true
	fp.feed(batch(startURL, click(own)))

	require.NoError(t, s.drainOnce())
	assert.Empty(t, s.Steps())
}

func TestHoverRecordedOnlyForRevealingElements(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#user-menu": 1, "#bio": 1})
	menu := selector.ElementSnapshot{
		Tag: "div", ID: "user-menu",
		Attributes: map[string]string{"aria-haspopup": "true"},
	}
	plain := selector.ElementSnapshot{Tag: "p", ID: "bio"}
	fp.feed(batch(startURL,
		rawEvent{Kind: "hover", Snapshot: menu, At: 1},
		rawEvent{Kind: "hover", Snapshot: plain, At: 2},
	))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionHover, got[0].Action)
	assert.Equal(t, "#user-menu", got[0].Selector)
}

func TestSpontaneousNavigationBecomesStep(t *testing.T) {
	s, fp := testSession(t, nil)
	fp.feed(batch("https://app.example.com/settings"))
	fp.feed(batch("https://app.example.com/settings"))

	require.NoError(t, s.drainOnce())
	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionNavigate, got[0].Action)
	assert.Equal(t, "https://app.example.com/settings", got[0].Value)
}

func TestNavigationAfterClickIsAttributedToTheClick(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#go-next": 1})
	link := selector.ElementSnapshot{
		Tag: "a", ID: "go-next", Text: "Next",
		Attributes: map[string]string{"href": "/next"},
	}
	fp.feed(batch(startURL, click(link)))
	fp.feed(batch("https://app.example.com/next"))

	require.NoError(t, s.drainOnce())
	require.NoError(t, s.drainOnce())

	got := s.Steps()
	require.Len(t, got, 1, "the link click already covers the URL change")
	assert.Equal(t, steps.ActionNavigate, got[0].Action)
	assert.Equal(t, "#go-next", got[0].Selector)
	assert.Equal(t, "/next", got[0].Value)
}

func TestAnchorWithoutRealHrefIsAButton(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#toggle": 1})
	fake := selector.ElementSnapshot{
		Tag: "a", ID: "toggle", Text: "Expand",
		Attributes: map[string]string{"href": "#"},
	}
	fp.feed(batch(startURL, click(fake)))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionButton, got[0].Action)
}

func TestPauseFlushesPendingAndDetachesCapture(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#email": 1})
	field := inputSnap("email")
	fp.feed(batch(startURL, rawEvent{Kind: "input", Snapshot: field, Value: "half-ty", At: 1}))
	require.NoError(t, s.drainOnce())
	assert.Empty(t, s.Steps(), "uncommitted typing is not a step yet")

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())
	got := s.Steps()
	require.Len(t, got, 1, "pausing commits what was typed")
	assert.Equal(t, "half-ty", got[0].Value)
	require.Len(t, fp.attaches, 1)
	assert.False(t, fp.attaches[0], "pause detaches the page listeners")

	require.NoError(t, s.Resume())
	assert.Equal(t, StateRecording, s.State())
	require.Len(t, fp.attaches, 2)
	assert.True(t, fp.attaches[1], "resume re-attaches them")

	assert.Error(t, s.Resume(), "resume only applies to a paused session")
}

func TestStopFlushesDrainsAndClosesPage(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#save": 1, "#email": 1})
	require.NoError(t, s.start())

	fp.feed(batch(startURL,
		click(buttonSnap("save", "Save")),
		rawEvent{Kind: "input", Snapshot: inputSnap("email"), Value: "tail", At: 9},
	))

	require.Eventually(t, func() bool { return len(s.Steps()) >= 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, fp.isClosed())

	got := s.Steps()
	require.Len(t, got, 2, "stop commits the still-pending fill")
	assert.Equal(t, steps.ActionFormFill, got[1].Action)
	assert.Equal(t, "tail", got[1].Value)

	assert.Error(t, s.Stop(), "double stop reports the state")
}

func TestCaptureReinstalledAfterHardNavigation(t *testing.T) {
	s, fp := testSession(t, nil)
	fp.feed(drainPayload{Installed: false, URL: startURL})

	require.NoError(t, s.drainOnce())
	assert.Equal(t, 1, fp.installCount())
}

func TestStepEditing(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#a": 1, "#b": 1, "#c": 1})
	fp.feed(batch(startURL,
		click(buttonSnap("a", "A")),
		click(buttonSnap("b", "B")),
		click(buttonSnap("c", "C")),
	))
	require.NoError(t, s.drainOnce())
	require.Len(t, s.Steps(), 3)

	require.NoError(t, s.DeleteStep(1))
	got := s.Steps()
	require.Len(t, got, 2)
	assert.Equal(t, "#a", got[0].Selector)
	assert.Equal(t, "#c", got[1].Selector)
	assert.Error(t, s.DeleteStep(5))

	note := steps.Step{Action: steps.ActionNoop, Description: "Welcome to the dashboard"}
	require.NoError(t, s.InsertStep(0, note))
	got = s.Steps()
	require.Len(t, got, 3)
	assert.Equal(t, steps.ActionNoop, got[0].Action)

	s.ClearSteps()
	assert.Empty(t, s.Steps())
}

func TestCombineSteps(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#user": 1, "#pass": 1, "#login": 1})
	fp.feed(batch(startURL,
		rawEvent{Kind: "input", Snapshot: inputSnap("user"), Value: "admin", At: 1},
		rawEvent{Kind: "commit", Snapshot: inputSnap("user"), Value: "admin", At: 2},
		rawEvent{Kind: "input", Snapshot: inputSnap("pass"), Value: "secret", At: 3},
		rawEvent{Kind: "commit", Snapshot: inputSnap("pass"), Value: "secret", At: 4},
		click(buttonSnap("login", "Log in")),
	))
	require.NoError(t, s.drainOnce())
	require.Len(t, s.Steps(), 3)

	require.NoError(t, s.CombineSteps(0, 2, steps.ActionMultiStep, "Log in"))
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionMultiStep, got[0].Action)
	assert.Equal(t, "Log in", got[0].Description)
	require.Len(t, got[0].Steps, 3)
	assert.Equal(t, "#login", got[0].Steps[2].Selector)

	assert.Error(t, s.CombineSteps(0, 0, steps.ActionMultiStep, "x"), "range must span at least two steps")
	assert.Error(t, s.CombineSteps(0, 5, steps.ActionGuided, "x"))
	assert.Error(t, s.CombineSteps(0, 0, steps.ActionButton, "x"), "only composite kinds combine")
}

func TestCombineRejectsNesting(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#a": 1, "#b": 1, "#c": 1})
	fp.feed(batch(startURL,
		click(buttonSnap("a", "A")),
		click(buttonSnap("b", "B")),
		click(buttonSnap("c", "C")),
	))
	require.NoError(t, s.drainOnce())
	require.NoError(t, s.CombineSteps(0, 1, steps.ActionMultiStep, "group"))

	assert.Error(t, s.CombineSteps(0, 1, steps.ActionGuided, "outer"))
}

func TestCombineMiddleRangeKeepsNeighbors(t *testing.T) {
	s, fp := testSession(t, map[string]int{"#a": 1, "#b": 1, "#c": 1, "#d": 1})
	fp.feed(batch(startURL,
		click(buttonSnap("a", "A")),
		click(buttonSnap("b", "B")),
		click(buttonSnap("c", "C")),
		click(buttonSnap("d", "D")),
	))
	require.NoError(t, s.drainOnce())
	require.Len(t, s.Steps(), 4)

	require.NoError(t, s.CombineSteps(1, 2, steps.ActionGuided, "pair"))
	got := s.Steps()
	require.Len(t, got, 3)
	assert.Equal(t, "#a", got[0].Selector)
	assert.Equal(t, "#d", got[2].Selector)

	comp := got[1]
	assert.Equal(t, steps.ActionGuided, comp.Action)
	assert.Equal(t, "pair", comp.Description)
	require.Len(t, comp.Steps, 2)
	assert.Equal(t, "#b", comp.Steps[0].Selector)
	assert.Equal(t, "#c", comp.Steps[1].Selector)
}

func TestManagerTracksSessions(t *testing.T) {
	m := NewManager(2, "data-testid")

	fp := newFakePage(startURL, map[string]int{"#a": 1})
	s := newSession("sess-1", startURL, "Desktop 1080p", fp, "")
	m.sessions[s.ID] = s

	state, recorded, err := m.Status("sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateRecording, state)
	assert.Empty(t, recorded)
	assert.Equal(t, 1, m.ActiveCount())

	_, _, err = m.Status("missing")
	assert.Error(t, err)
	assert.Error(t, m.Pause("missing"))

	require.NoError(t, m.Cleanup("sess-1"))
	assert.True(t, fp.isClosed(), "cleanup stops a live session")
	_, ok := m.Get("sess-1")
	assert.False(t, ok)
	assert.NoError(t, m.Cleanup("sess-1"), "cleanup is idempotent")
}

func TestManagerPrunesStaleSessions(t *testing.T) {
	m := NewManager(2, "data-testid")

	fp := newFakePage(startURL, nil)
	s := newSession("sess-old", startURL, "Desktop 1080p", fp, "")
	s.mu.Lock()
	s.lastSeen = time.Now().Add(-time.Hour)
	s.mu.Unlock()
	m.sessions[s.ID] = s

	fresh := newSession("sess-new", startURL, "Desktop 1080p", newFakePage(startURL, nil), "")
	m.sessions[fresh.ID] = fresh

	assert.Equal(t, 1, m.PruneStale(30*time.Minute))
	_, ok := m.Get("sess-old")
	assert.False(t, ok)
	assert.True(t, fp.isClosed())

	_, ok = m.Get("sess-new")
	assert.True(t, ok, "an active session is not pruned")
}

// replayDriver is a minimal executor.StepDriver that logs its calls.
type replayDriver struct {
	mu    sync.Mutex
	calls []string
}

func (d *replayDriver) Perform(_ context.Context, st steps.Step, intent executor.Intent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, string(intent)+":"+st.Selector)
	return nil
}

func (d *replayDriver) WaitForClick(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *replayDriver) ClearHighlight(context.Context) error { return nil }

func (d *replayDriver) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func TestRecordedStepReplaysEndToEnd(t *testing.T) {
	s, fp := testSession(t, map[string]int{".save-btn": 1})
	fp.feed(batch(startURL, click(selector.ElementSnapshot{
		Tag:     "button",
		Classes: []string{"save-btn"},
		Text:    "Save",
	})))

	require.NoError(t, s.drainOnce())
	got := s.Steps()
	require.Len(t, got, 1)
	assert.Equal(t, steps.ActionButton, got[0].Action)
	assert.Equal(t, ".save-btn", got[0].Selector)
	assert.True(t, got[0].IsUnique)

	plan, err := executor.NewPlan(got, executor.ModeAuto)
	require.NoError(t, err)

	var (
		pmu      sync.Mutex
		progress []executor.Progress
	)
	drv := &replayDriver{}
	run, err := executor.NewReplayManager(1).Start(plan, drv, executor.RunOptions{
		ShowDelay: time.Millisecond,
		StepDelay: time.Millisecond,
		OnProgress: func(p executor.Progress) {
			pmu.Lock()
			progress = append(progress, p)
			pmu.Unlock()
		},
	})
	require.NoError(t, err)

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	assert.Equal(t, executor.StateCompleted, run.State())
	assert.Equal(t, []string{"show:.save-btn", "do:.save-btn"}, drv.recorded())

	pmu.Lock()
	defer pmu.Unlock()
	require.NotEmpty(t, progress)
	first := progress[0]
	assert.Equal(t, 1, first.Current)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, "running", first.Status)
	last := progress[len(progress)-1]
	assert.Equal(t, "finished", last.Status)
	assert.Equal(t, executor.StateCompleted, last.State)
}
