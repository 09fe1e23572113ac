package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tourflow/internal/classifier"
	"tourflow/internal/selector"
	"tourflow/internal/steps"
)

// State is the recording session lifecycle.
type State string

const (
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

// A URL change this close after a captured click is the click's own
// navigation, not a separate step.
const navAttributionWindow = 2 * time.Second

// drainInterval paces how often buffered page events are pulled. 100ms
// keeps step appearance effectively live without hammering the tab.
var drainInterval = 100 * time.Millisecond

// Page is the browser-tab surface a session records through.
type Page interface {
	selector.Evaluator
	Close() error
}

type pendingFill struct {
	snap  selector.ElementSnapshot
	value string
	at    int64
}

type drainPayload struct {
	Installed bool       `json:"installed"`
	URL       string     `json:"url"`
	Events    []rawEvent `json:"events"`
}

// wsEvent is the envelope pushed to the authoring UI over the session's
// websocket.
type wsEvent struct {
	Type     string      `json:"type"`
	Index    int         `json:"index,omitempty"`
	Step     *steps.Step `json:"step,omitempty"`
	URL      string      `json:"url,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	State    State       `json:"state,omitempty"`
}

// Session records one browser tab into an ordered step list. Raw events
// are drained from the page on a short ticker; each one runs through the
// classifier, selector synthesis and the dedupe rules before it becomes a
// step. Typing is held in a pending map keyed per control and only
// becomes a formfill step when the control commits (change, blur, Enter),
// so a 20-keystroke entry ends up as a single step with the final value.
type Session struct {
	ID        string
	TargetURL string
	Viewport  string

	page     Page
	engine   *selector.Engine
	testAttr string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     State
	started   bool
	steps     []steps.Step
	pending   map[string]pendingFill
	lastURL   string
	lastClick time.Time
	lastSeen  time.Time
	wsConn    *websocket.Conn
}

func newSession(id, targetURL, viewport string, pg Page, testAttr string) *Session {
	if testAttr == "" {
		testAttr = selector.DefaultTestAttribute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		TargetURL: targetURL,
		Viewport:  viewport,
		page:      pg,
		engine:    selector.NewEngine(pg, selector.Options{TestAttribute: testAttr}),
		testAttr:  testAttr,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRecording,
		pending:   make(map[string]pendingFill),
		lastURL:   targetURL,
		lastSeen:  time.Now(),
	}
}

// start installs the capture runtime and begins draining.
func (s *Session) start() error {
	var ok bool
	if err := s.page.Evaluate(s.ctx, buildCaptureScript(s.testAttr), &ok); err != nil {
		return fmt.Errorf("install capture script: %w", err)
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.drainLoop()
	log.Printf("🎬 Recording session %s started on %s", s.ID, s.TargetURL)
	return nil
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Steps returns a copy of the recorded steps.
func (s *Session) Steps() []steps.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]steps.Step(nil), s.steps...)
}

func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// SetWebSocket attaches the authoring UI's live stream.
func (s *Session) SetWebSocket(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsConn = conn
}

// Pause keeps the session alive but stops turning events into steps.
// Anything typed but uncommitted becomes a step first, so pausing right
// after filling a field does not lose the entry.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateRecording {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session is %s, not recording", st)
	}
	s.state = StatePaused
	s.lastSeen = time.Now()
	s.mu.Unlock()

	s.flushPending()
	if err := s.page.Evaluate(s.ctx, captureAttachScript(false), new(bool)); err != nil {
		log.Printf("⚠️ Failed to detach page capture for session %s: %v", s.ID, err)
	}
	s.push(wsEvent{Type: "state", State: StatePaused})
	log.Printf("⏸️ Recording session %s paused", s.ID)
	return nil
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session is %s, not paused", st)
	}
	s.state = StateRecording
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if err := s.page.Evaluate(s.ctx, captureAttachScript(true), new(bool)); err != nil {
		log.Printf("⚠️ Failed to re-attach page capture for session %s: %v", s.ID, err)
	}
	s.push(wsEvent{Type: "state", State: StateRecording})
	log.Printf("▶️ Recording session %s resumed", s.ID)
	return nil
}

// Stop drains the tail of the event buffer, commits pending fills, shuts
// the drain loop down and closes the tab. The recorded steps stay on the
// session for saving.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("session already stopped")
	}
	wasRecording := s.state == StateRecording
	started := s.started
	s.state = StateStopped
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if wasRecording {
		if err := s.drainOnce(); err != nil {
			log.Printf("⚠️ Final drain failed for session %s: %v", s.ID, err)
		}
	}
	s.flushPending()

	s.cancel()
	if started {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			log.Printf("⚠️ Drain loop for session %s did not stop in time", s.ID)
		}
	}

	if err := s.page.Close(); err != nil {
		log.Printf("⚠️ Failed to close recording tab for session %s: %v", s.ID, err)
	}
	s.push(wsEvent{Type: "state", State: StateStopped})
	log.Printf("🛑 Recording session %s stopped with %d steps", s.ID, len(s.Steps()))
	return nil
}

func (s *Session) drainLoop() {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateRecording {
				continue
			}
			if err := s.drainOnce(); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				log.Printf("⚠️ Event drain failed for session %s: %v", s.ID, err)
			}
		}
	}
}

// drainOnce pulls one batch of buffered events plus the current URL and
// feeds them through the pipeline. A missing capture runtime means a hard
// navigation replaced the document, so it is reinstalled.
func (s *Session) drainOnce() error {
	var batch drainPayload
	if err := s.page.Evaluate(s.ctx, drainScript(), &batch); err != nil {
		return err
	}
	if !batch.Installed {
		var ok bool
		if err := s.page.Evaluate(s.ctx, buildCaptureScript(s.testAttr), &ok); err != nil {
			return fmt.Errorf("reinstall capture script: %w", err)
		}
		log.Printf("🔄 Capture script reinstalled for session %s after navigation", s.ID)
	}
	for _, ev := range batch.Events {
		s.handleEvent(ev)
	}
	s.noteURL(batch.URL)
	return nil
}

func (s *Session) handleEvent(ev rawEvent) {
	if !classifier.ShouldCapture(ev.Snapshot) {
		return
	}
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()

	switch ev.Kind {
	case "click":
		s.mu.Lock()
		s.lastClick = time.Now()
		s.mu.Unlock()
		s.recordClick(ev)
	case "input":
		key := s.snapKey(ev.Snapshot)
		s.mu.Lock()
		s.pending[key] = pendingFill{snap: ev.Snapshot, value: ev.Value, at: ev.At}
		s.mu.Unlock()
	case "commit":
		s.commitFill(ev.Snapshot, ev.Value)
	case "hover":
		if classifier.Classify(ev.Snapshot, classifier.EventHover) != steps.ActionHover {
			return
		}
		s.recordSynthesized(ev.Snapshot, nil, steps.ActionHover, "")
	}
}

// recordClick turns one trusted click into a step, or into nothing: form
// controls wait for their commit, plain text clicks are not steps at all.
func (s *Session) recordClick(ev rawEvent) {
	action := classifier.Classify(ev.Snapshot, classifier.EventClick)
	switch action {
	case steps.ActionFormFill:
		// The fill step appears when the control commits.
		return
	case steps.ActionHighlight:
		return
	case steps.ActionHover:
		// Clicking a hover trigger is still a click.
		action = steps.ActionButton
	case steps.ActionNavigate:
		href := strings.TrimSpace(ev.Snapshot.Attributes["href"])
		if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") {
			action = steps.ActionButton
		} else {
			s.recordSynthesized(ev.Snapshot, ev.Hint, steps.ActionNavigate, href)
			return
		}
	}
	s.recordSynthesized(ev.Snapshot, ev.Hint, action, "")
}

// commitFill resolves one control's committed value into a formfill step.
// Text entry needs a prior input event; selects, checkboxes and radios
// commit directly because they change without typing.
func (s *Session) commitFill(snap selector.ElementSnapshot, value string) {
	key := s.snapKey(snap)
	s.mu.Lock()
	_, typed := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()

	if !typed && !directCommitControl(snap) {
		return
	}
	s.recordSynthesized(snap, nil, steps.ActionFormFill, value)
}

// flushPending commits everything still typed-but-unblurred, oldest
// first.
func (s *Session) flushPending() {
	s.mu.Lock()
	fills := make([]pendingFill, 0, len(s.pending))
	for _, p := range s.pending {
		fills = append(fills, p)
	}
	s.pending = make(map[string]pendingFill)
	s.mu.Unlock()

	sort.Slice(fills, func(i, j int) bool { return fills[i].at < fills[j].at })
	for _, p := range fills {
		s.recordSynthesized(p.snap, nil, steps.ActionFormFill, p.value)
	}
}

// recordSynthesized runs synthesis and validation for one event and
// appends the resulting step.
func (s *Session) recordSynthesized(snap selector.ElementSnapshot, hint *selector.Hint, action steps.ActionType, value string) {
	desc, err := s.engine.Synthesize(s.ctx, snap, hint)
	if err != nil {
		log.Printf("⚠️ Selector synthesis failed for a %s on <%s>: %v", action, snap.Tag, err)
		return
	}
	v := classifier.ValidateAndClean(desc.Selector, action, desc.MatchCount)
	st := steps.Step{
		Action:          v.Action,
		Selector:        v.Selector,
		Value:           value,
		Description:     describeStep(v.Action, snap, value),
		IsUnique:        desc.IsUnique,
		MatchCount:      desc.MatchCount,
		ContextStrategy: desc.ContextStrategy,
	}
	s.appendStep(st, v.Warnings)
}

// appendStep applies the dedupe rules and publishes the step. Repeating
// the same interaction back to back collapses to one step; re-committing
// the same control with a new value rewrites the previous fill instead of
// stacking a second one.
func (s *Session) appendStep(st steps.Step, warnings []string) {
	s.mu.Lock()
	if n := len(s.steps); n > 0 {
		last := &s.steps[n-1]
		if last.SameInteraction(st) {
			s.mu.Unlock()
			return
		}
		if last.Action == steps.ActionFormFill && st.Action == steps.ActionFormFill &&
			last.Selector == st.Selector {
			last.Value = st.Value
			last.Description = st.Description
			cp := *last
			s.mu.Unlock()
			s.push(wsEvent{Type: "step_updated", Index: n - 1, Step: &cp, Warnings: warnings})
			return
		}
	}
	s.steps = append(s.steps, st)
	idx := len(s.steps) - 1
	s.mu.Unlock()

	log.Printf("📝 [session %s] step %d: %s %s", s.ID, idx+1, st.Action, st.Selector)
	s.push(wsEvent{Type: "step", Index: idx, Step: &st, Warnings: warnings})
}

// noteURL records spontaneous navigation. Changes caused by a captured
// click within the attribution window are that click's outcome and add
// nothing.
func (s *Session) noteURL(url string) {
	if url == "" {
		return
	}
	s.mu.Lock()
	if url == s.lastURL {
		s.mu.Unlock()
		return
	}
	s.lastURL = url
	attributed := time.Since(s.lastClick) <= navAttributionWindow
	s.mu.Unlock()

	s.push(wsEvent{Type: "url", URL: url})
	if attributed {
		return
	}
	s.appendStep(steps.Step{
		Action:      steps.ActionNavigate,
		Value:       url,
		Description: "Open " + url,
	}, nil)
}

// DeleteStep removes the step at index.
func (s *Session) DeleteStep(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("step index %d out of range (have %d steps)", index, len(s.steps))
	}
	s.steps = append(s.steps[:index], s.steps[index+1:]...)
	s.lastSeen = time.Now()
	return nil
}

// ClearSteps drops everything recorded so far, including pending fills.
func (s *Session) ClearSteps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.pending = make(map[string]pendingFill)
	s.lastSeen = time.Now()
}

// InsertStep places an author-provided step (noop note, manual highlight)
// at index, or appends when index is past the end.
func (s *Session) InsertStep(index int, st steps.Step) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		return fmt.Errorf("step index %d out of range", index)
	}
	if index >= len(s.steps) {
		s.steps = append(s.steps, st)
	} else {
		s.steps = append(s.steps[:index], append([]steps.Step{st}, s.steps[index:]...)...)
	}
	s.lastSeen = time.Now()
	return nil
}

// CombineSteps folds the contiguous range [from, to] into one composite
// step of the given kind.
func (s *Session) CombineSteps(from, to int, kind steps.ActionType, description string) error {
	if !kind.IsComposite() {
		return fmt.Errorf("%s is not a composite action", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if from < 0 || to >= len(s.steps) || from >= to {
		return fmt.Errorf("invalid combine range [%d, %d] over %d steps", from, to, len(s.steps))
	}
	for i := from; i <= to; i++ {
		if s.steps[i].Action.IsComposite() {
			return fmt.Errorf("step %d is already a composite, nesting is not supported", i+1)
		}
	}
	group := steps.Step{
		Action:      kind,
		Description: description,
		Steps:       append([]steps.Step(nil), s.steps[from:to+1]...),
	}
	rest := append([]steps.Step(nil), s.steps[:from]...)
	rest = append(rest, group)
	rest = append(rest, s.steps[to+1:]...)
	s.steps = rest
	s.lastSeen = time.Now()
	return nil
}

// push sends one event to the attached websocket, if any.
func (s *Session) push(ev wsEvent) {
	s.mu.Lock()
	conn := s.wsConn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("⚠️ Websocket push failed for session %s: %v", s.ID, err)
	}
}

// snapKey identifies one control across its input and commit events.
func (s *Session) snapKey(snap selector.ElementSnapshot) string {
	if id := snap.Attributes[s.testAttr]; id != "" {
		return "t:" + id
	}
	if snap.ID != "" {
		return "#" + snap.ID
	}
	return fmt.Sprintf("%s:%d", snap.Tag, snap.TagIndex)
}

// directCommitControl reports controls whose change event alone proves an
// interaction: pickers and toggles, not free-text entry.
func directCommitControl(snap selector.ElementSnapshot) bool {
	tag := strings.ToLower(snap.Tag)
	if tag == "select" {
		return true
	}
	if tag != "input" {
		return false
	}
	switch strings.ToLower(snap.Attributes["type"]) {
	case "checkbox", "radio", "file", "color", "date", "time", "datetime-local", "month", "week", "range":
		return true
	}
	return false
}

// describeStep writes the human line the authoring panel shows per step.
func describeStep(action steps.ActionType, snap selector.ElementSnapshot, value string) string {
	label := strings.TrimSpace(snap.Text)
	if label == "" {
		label = strings.TrimSpace(snap.Attributes["aria-label"])
	}
	if label == "" {
		label = strings.TrimSpace(snap.Attributes["placeholder"])
	}
	if len(label) > 60 {
		label = label[:57] + "..."
	}
	switch action {
	case steps.ActionButton:
		if label != "" {
			return fmt.Sprintf("Click %q", label)
		}
		return "Click the " + snap.Tag + " element"
	case steps.ActionFormFill:
		if label != "" {
			return fmt.Sprintf("Fill in %q", label)
		}
		return "Fill in the field"
	case steps.ActionNavigate:
		return "Open " + value
	case steps.ActionHover:
		if label != "" {
			return fmt.Sprintf("Hover over %q", label)
		}
		return "Hover to reveal the menu"
	}
	if label != "" {
		return fmt.Sprintf("Look at %q", label)
	}
	return ""
}
