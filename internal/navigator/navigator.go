package navigator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tourflow/internal/selector"
)

const (
	// Elements smaller than this in either dimension get a dot marker
	// instead of a box outline.
	MinBoxDimension = 10.0
	BoxPadding      = 4.0
	DotSize         = 12.0

	// HiddenCommentPrefix warns the author that the target exists but is
	// not visibly laid out.
	HiddenCommentPrefix = "[hidden]"

	DefaultHideDelay = 8 * time.Second
	DefaultDebounce  = 250 * time.Millisecond
)

var (
	// ErrNoMatch reports a highlight request whose selector resolved to
	// nothing.
	ErrNoMatch = errors.New("selector matched no element")
	// ErrDegenerateGeometry reports a target with a 0,0,0,0 box, meaning
	// it is not actually laid out; no highlight is drawn.
	ErrDegenerateGeometry = errors.New("element has no layout geometry")
)

// OverlayMode selects how the highlight renders.
type OverlayMode string

const (
	ModeBox OverlayMode = "box"
	ModeDot OverlayMode = "dot"
)

// Overlay is the active highlight's state.
type Overlay struct {
	Selector          string        `json:"selector"`
	Comment           string        `json:"comment,omitempty"`
	Mode              OverlayMode   `json:"mode"`
	Hidden            bool          `json:"hidden"`
	TargetRect        selector.Rect `json:"target_rect"`
	DrawRect          selector.Rect `json:"draw_rect"`
	CleanupDeadlineMs int64         `json:"cleanup_deadline_ms"`

	rawComment string
}

// CommentLeft and CommentTop place the comment bubble under the overlay.
func (o Overlay) CommentLeft() float64 { return o.DrawRect.Left }
func (o Overlay) CommentTop() float64  { return o.DrawRect.Top + o.DrawRect.Height + 8 }

// VisibilityStatus is what EnsureVisible reports. It always reports; an
// unplaceable element is a status, not an error.
type VisibilityStatus struct {
	Found          bool `json:"found"`
	Hidden         bool `json:"hidden"`
	Fixed          bool `json:"fixed"`
	AlreadyVisible bool `json:"already_visible"`
	Scrolled       bool `json:"scrolled"`
}

type measurement struct {
	Found  bool          `json:"found"`
	Hidden bool          `json:"hidden"`
	Rect   selector.Rect `json:"rect"`
}

type trackProbe struct {
	Skipped bool          `json:"skipped"`
	Found   bool          `json:"found"`
	Hidden  bool          `json:"hidden"`
	Rect    selector.Rect `json:"rect"`
}

// Options tunes the manager. Zero values pick the defaults.
type Options struct {
	HideDelay time.Duration
	Debounce  time.Duration
}

// Manager owns the single page-wide highlight overlay: drawing it, the
// auto-removal timer, and the debounced reposition loop. All overlay
// mutation goes through here; a new highlight always cancels the previous
// one's timer and loop first, so at most one overlay exists and a stale
// timer can never remove a newer highlight.
type Manager struct {
	ev        selector.Evaluator
	ctx       context.Context
	hideDelay time.Duration
	debounce  time.Duration

	mu          sync.Mutex
	gen         uint64
	current     *Overlay
	removeTimer *time.Timer
	trackStop   chan struct{}
}

// NewManager creates a manager bound to one page. ctx bounds the
// reposition loop's lifetime and should live as long as the page session.
func NewManager(ctx context.Context, ev selector.Evaluator, opts Options) *Manager {
	if opts.HideDelay <= 0 {
		opts.HideDelay = DefaultHideDelay
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Manager{ev: ev, ctx: ctx, hideDelay: opts.HideDelay, debounce: opts.Debounce}
}

// EnsureVisible scrolls the first match of sel into view when it is
// outside its scroll container's visible area. Hidden, detached or
// zero-sized targets resolve without scrolling; this is best effort, not a
// precondition for anything else.
func (m *Manager) EnsureVisible(ctx context.Context, sel string) (VisibilityStatus, error) {
	var st VisibilityStatus
	if err := m.ev.Evaluate(ctx, ensureVisibleScript(sel), &st); err != nil {
		return VisibilityStatus{}, fmt.Errorf("ensure visible %q: %w", sel, err)
	}
	return st, nil
}

// Highlight draws the overlay over the first match of sel with the
// default auto-removal deadline.
func (m *Manager) Highlight(ctx context.Context, sel, comment string) (Overlay, error) {
	return m.HighlightFor(ctx, sel, comment, m.hideDelay)
}

// HighlightFor draws the overlay with an explicit auto-removal deadline.
// Guided replay keeps its highlight alive for the whole wait this way.
func (m *Manager) HighlightFor(ctx context.Context, sel, comment string, ttl time.Duration) (Overlay, error) {
	var meas measurement
	if err := m.ev.Evaluate(ctx, measureScript(sel), &meas); err != nil {
		return Overlay{}, fmt.Errorf("measure %q: %w", sel, err)
	}
	o, err := computeOverlay(sel, comment, meas)
	if err != nil {
		return Overlay{}, err
	}
	o.CleanupDeadlineMs = ttl.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	gen := m.gen
	m.stopTrackingLocked()
	if err := m.ev.Evaluate(ctx, drawScript(o), new(bool)); err != nil {
		return Overlay{}, fmt.Errorf("draw highlight: %w", err)
	}
	cur := o
	m.current = &cur
	m.removeTimer = time.AfterFunc(ttl, func() { m.expire(gen) })
	stop := make(chan struct{})
	m.trackStop = stop
	go m.trackLoop(o, gen, stop)
	return o, nil
}

// Remove deletes the overlay and stops its timer and reposition loop.
func (m *Manager) Remove(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopTrackingLocked()
	if m.current == nil {
		return nil
	}
	m.current = nil
	if err := m.ev.Evaluate(ctx, removeScript(), new(bool)); err != nil {
		return fmt.Errorf("remove highlight: %w", err)
	}
	return nil
}

// Current returns a copy of the active overlay, or nil.
func (m *Manager) Current() *Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cur := *m.current
	return &cur
}

// expire is the auto-removal timer body. The generation check makes a
// stale timer a no-op even if it fires during its own cancellation.
func (m *Manager) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.current == nil {
		return
	}
	m.stopTrackingLocked()
	m.current = nil
	if err := m.ev.Evaluate(m.ctx, removeScript(), new(bool)); err != nil {
		log.Printf("⚠️ Failed to remove expired highlight: %v", err)
	}
}

func (m *Manager) stopTrackingLocked() {
	if m.removeTimer != nil {
		m.removeTimer.Stop()
		m.removeTimer = nil
	}
	if m.trackStop != nil {
		close(m.trackStop)
		m.trackStop = nil
	}
}

// trackLoop keeps the overlay positioned over a moving target. It polls
// the page's dirty flag at the debounce interval and re-measures only
// after a resize or scroll. A detached target hides the overlay but the
// loop keeps watching in case a re-render brings it back.
func (m *Manager) trackLoop(o Overlay, gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			var p trackProbe
			if err := m.ev.Evaluate(m.ctx, trackProbeScript(o.Selector), &p); err != nil {
				log.Printf("⚠️ Highlight reposition probe failed, stopping tracker: %v", err)
				return
			}
			if p.Skipped {
				continue
			}
			if !p.Found {
				m.hideCurrent(gen)
				continue
			}
			moved, err := computeOverlay(o.Selector, o.rawComment, measurement{Found: true, Hidden: p.Hidden, Rect: p.Rect})
			if err != nil {
				m.hideCurrent(gen)
				continue
			}
			moved.CleanupDeadlineMs = o.CleanupDeadlineMs
			m.reposition(gen, moved)
		}
	}
}

func (m *Manager) hideCurrent(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.current == nil {
		return
	}
	if err := m.ev.Evaluate(m.ctx, hideScript(), new(bool)); err != nil {
		log.Printf("⚠️ Failed to hide stale highlight: %v", err)
	}
}

func (m *Manager) reposition(gen uint64, o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.current == nil {
		return
	}
	script := moveScript(o)
	if o.Mode != m.current.Mode || o.Comment != m.current.Comment {
		// Style and bubble text are baked in at draw time, so a box/dot
		// flip or a hidden-prefix change needs a full redraw.
		script = drawScript(o)
	}
	if err := m.ev.Evaluate(m.ctx, script, new(bool)); err != nil {
		log.Printf("⚠️ Failed to reposition highlight: %v", err)
		return
	}
	cur := o
	m.current = &cur
}

// computeOverlay turns a measurement into the overlay geometry. Boxes get
// padding on each side; targets below the minimum size in either
// dimension, and hidden targets, get a centered dot so the highlight stays
// visible instead of collapsing.
func computeOverlay(sel, comment string, meas measurement) (Overlay, error) {
	if !meas.Found {
		return Overlay{}, ErrNoMatch
	}
	r := meas.Rect
	if r.Top == 0 && r.Left == 0 && r.Width == 0 && r.Height == 0 {
		return Overlay{}, ErrDegenerateGeometry
	}
	o := Overlay{
		Selector:   sel,
		Hidden:     meas.Hidden,
		TargetRect: r,
		rawComment: comment,
		Comment:    comment,
	}
	if meas.Hidden {
		o.Comment = strings.TrimSpace(HiddenCommentPrefix + " " + comment)
	}
	if !meas.Hidden && r.Width >= MinBoxDimension && r.Height >= MinBoxDimension {
		o.Mode = ModeBox
		o.DrawRect = selector.Rect{
			Top:    r.Top - BoxPadding,
			Left:   r.Left - BoxPadding,
			Width:  r.Width + 2*BoxPadding,
			Height: r.Height + 2*BoxPadding,
		}
		return o, nil
	}
	o.Mode = ModeDot
	cx := r.Left + r.Width/2
	cy := r.Top + r.Height/2
	o.DrawRect = selector.Rect{
		Top:    cy - DotSize/2,
		Left:   cx - DotSize/2,
		Width:  DotSize,
		Height: DotSize,
	}
	return o, nil
}
