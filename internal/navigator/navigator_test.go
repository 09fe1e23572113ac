package navigator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourflow/internal/selector"
)

// fakePage answers the injected scripts from canned data and logs which
// kind of script ran, so tests can assert on the overlay lifecycle
// without a browser.
type fakePage struct {
	mu         sync.Mutex
	measure    measurement
	probes     []trackProbe
	probeIdx   int
	visibility VisibilityStatus
	log        []string
}

func (f *fakePage) Evaluate(_ context.Context, expr string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind := classifyScript(expr)
	f.log = append(f.log, kind)
	switch kind {
	case "visible":
		return roundTrip(f.visibility, out)
	case "measure":
		return roundTrip(f.measure, out)
	case "probe":
		p := trackProbe{Skipped: true}
		if f.probeIdx < len(f.probes) {
			p = f.probes[f.probeIdx]
			f.probeIdx++
		}
		return roundTrip(p, out)
	default:
		return roundTrip(true, out)
	}
}

func (f *fakePage) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.log))
	copy(out, f.log)
	return out
}

func (f *fakePage) count(kind string) int {
	n := 0
	for _, k := range f.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func classifyScript(expr string) string {
	switch {
	case strings.Contains(expr, "scrollIntoView"):
		return "visible"
	case strings.Contains(expr, "skipped"):
		return "probe"
	case strings.Contains(expr, "offsetParent"):
		return "measure"
	case strings.Contains(expr, "createElement"):
		return "draw"
	case strings.Contains(expr, "style.left="):
		return "move"
	case strings.Contains(expr, "display='none'"):
		return "hide"
	case strings.Contains(expr, "hl.remove()"):
		return "remove"
	default:
		return "unknown"
	}
}

func roundTrip(v interface{}, out interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func rect(top, left, width, height float64) selector.Rect {
	return selector.Rect{Top: top, Left: left, Width: width, Height: height}
}

func TestComputeOverlayBoxWithPadding(t *testing.T) {
	o, err := computeOverlay(".save-btn", "Click save", measurement{Found: true, Rect: rect(100, 200, 50, 20)})
	require.NoError(t, err)
	assert.Equal(t, ModeBox, o.Mode)
	assert.Equal(t, rect(96, 196, 58, 28), o.DrawRect)
	assert.Equal(t, rect(100, 200, 50, 20), o.TargetRect)
	assert.Equal(t, "Click save", o.Comment)
}

func TestComputeOverlayNarrowElementGetsCenteredDot(t *testing.T) {
	// 5px wide divider handle: a padded box would be invisible.
	o, err := computeOverlay(".divider", "", measurement{Found: true, Rect: rect(40, 300, 5, 50)})
	require.NoError(t, err)
	assert.Equal(t, ModeDot, o.Mode)
	assert.Equal(t, rect(59, 296.5, 12, 12), o.DrawRect)
}

func TestComputeOverlayDegenerateGeometryRejected(t *testing.T) {
	_, err := computeOverlay("#ghost", "", measurement{Found: true, Rect: rect(0, 0, 0, 0)})
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestComputeOverlayNoMatch(t *testing.T) {
	_, err := computeOverlay("#missing", "", measurement{Found: false})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestComputeOverlayHiddenTargetGetsDotAndPrefix(t *testing.T) {
	o, err := computeOverlay("#menu-item", "Open settings", measurement{Found: true, Hidden: true, Rect: rect(10, 10, 200, 40)})
	require.NoError(t, err)
	assert.Equal(t, ModeDot, o.Mode, "hidden targets never get a box even when large")
	assert.Equal(t, "[hidden] Open settings", o.Comment)

	o, err = computeOverlay("#menu-item", "", measurement{Found: true, Hidden: true, Rect: rect(10, 10, 200, 40)})
	require.NoError(t, err)
	assert.Equal(t, "[hidden]", o.Comment)
}

func TestCommentBubbleSitsBelowOverlay(t *testing.T) {
	o, err := computeOverlay("#a", "hi", measurement{Found: true, Rect: rect(100, 200, 50, 20)})
	require.NoError(t, err)
	assert.Equal(t, o.DrawRect.Left, o.CommentLeft())
	assert.Equal(t, o.DrawRect.Top+o.DrawRect.Height+8, o.CommentTop())
}

func TestHighlightDrawsThenAutoRemoves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)}}
	m := NewManager(ctx, fp, Options{HideDelay: 40 * time.Millisecond, Debounce: time.Hour})

	o, err := m.Highlight(ctx, "#save", "Save your work")
	require.NoError(t, err)
	assert.Equal(t, ModeBox, o.Mode)
	assert.Equal(t, int64(40), o.CleanupDeadlineMs)
	require.NotNil(t, m.Current())

	assert.Eventually(t, func() bool { return fp.count("remove") == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, m.Current())
}

func TestHighlightNewestWinsSingleRemoval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)}}
	m := NewManager(ctx, fp, Options{HideDelay: 60 * time.Millisecond, Debounce: time.Hour})

	_, err := m.Highlight(ctx, "#first", "one")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = m.Highlight(ctx, "#second", "two")
	require.NoError(t, err)

	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "#second", cur.Selector)

	// The first highlight's timer was cancelled; only the second ever
	// removes, and exactly once.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, fp.count("remove"))
	assert.Equal(t, 2, fp.count("draw"))
	assert.Nil(t, m.Current())
}

func TestRemoveStopsTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)}}
	m := NewManager(ctx, fp, Options{HideDelay: 50 * time.Millisecond, Debounce: time.Hour})

	_, err := m.Highlight(ctx, "#x", "")
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx))
	assert.Nil(t, m.Current())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, fp.count("remove"), "expired timer must not remove again")
}

func TestRemoveWithoutHighlightIsNoop(t *testing.T) {
	ctx := context.Background()
	fp := &fakePage{}
	m := NewManager(ctx, fp, Options{})
	require.NoError(t, m.Remove(ctx))
	assert.Zero(t, fp.count("remove"))
}

func TestHighlightNoMatchReturnsError(t *testing.T) {
	ctx := context.Background()
	fp := &fakePage{measure: measurement{Found: false}}
	m := NewManager(ctx, fp, Options{})
	_, err := m.Highlight(ctx, "#gone", "")
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Nil(t, m.Current())
	assert.Zero(t, fp.count("draw"))
}

func TestTrackLoopRepositionsAfterLayoutChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{
		measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)},
		probes: []trackProbe{
			{Skipped: true},
			{Found: true, Rect: rect(200, 10, 100, 30)},
		},
	}
	m := NewManager(ctx, fp, Options{HideDelay: time.Hour, Debounce: 15 * time.Millisecond})

	_, err := m.Highlight(ctx, "#panel", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return fp.count("move") == 1 }, time.Second, 5*time.Millisecond)
	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, 196.0, cur.DrawRect.Top)

	require.NoError(t, m.Remove(ctx))
}

func TestTrackLoopHidesDetachedTargetButKeepsOverlay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{
		measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)},
		probes:  []trackProbe{{Found: false}},
	}
	m := NewManager(ctx, fp, Options{HideDelay: time.Hour, Debounce: 15 * time.Millisecond})

	_, err := m.Highlight(ctx, "#row", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return fp.count("hide") == 1 }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, m.Current(), "detached target hides the overlay, it does not remove it")
	assert.Zero(t, fp.count("remove"))

	require.NoError(t, m.Remove(ctx))
}

func TestTrackLoopRedrawsOnModeFlip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePage{
		measure: measurement{Found: true, Rect: rect(10, 10, 100, 30)},
		// Collapsed to 6px wide: box must become a dot, which needs a
		// full restyle rather than a move.
		probes: []trackProbe{{Found: true, Rect: rect(10, 10, 6, 30)}},
	}
	m := NewManager(ctx, fp, Options{HideDelay: time.Hour, Debounce: 15 * time.Millisecond})

	_, err := m.Highlight(ctx, "#shrinky", "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return fp.count("draw") == 2 }, time.Second, 5*time.Millisecond)
	cur := m.Current()
	require.NotNil(t, cur)
	assert.Equal(t, ModeDot, cur.Mode)

	require.NoError(t, m.Remove(ctx))
}

func TestEnsureVisibleReportsStatus(t *testing.T) {
	ctx := context.Background()
	fp := &fakePage{visibility: VisibilityStatus{Found: true, Scrolled: true}}
	m := NewManager(ctx, fp, Options{})

	st, err := m.EnsureVisible(ctx, "#below-fold")
	require.NoError(t, err)
	assert.True(t, st.Found)
	assert.True(t, st.Scrolled)
	assert.False(t, st.AlreadyVisible)
}
