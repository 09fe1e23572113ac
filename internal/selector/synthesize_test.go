package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePage answers the engine's injected scripts from scripted data. It
// recovers the selector a script embeds so tests can key behavior on
// selector strings instead of raw JavaScript.
type fakePage struct {
	err      error
	counts   map[string]int
	invalid  map[string]bool
	hits     map[string]bool
	elements map[string][]ElementRef
	calls    []string
}

var (
	reBase   = regexp.MustCompile(`safe\(document,("(?:[^"\\]|\\.)*")\)`)
	reNeedle = regexp.MustCompile(`var needle=("(?:[^"\\]|\\.)*")\.toLowerCase`)
	reInner  = regexp.MustCompile(`var inner=("(?:[^"\\]|\\.)*");`)
	reNth    = regexp.MustCompile(`els\.length>=(\d+)\?`)
)

func scriptSelector(js string) string {
	var c compiled
	if m := reBase.FindStringSubmatch(js); m != nil {
		c.base, _ = strconv.Unquote(m[1])
	} else {
		c.textOnly = true
	}
	if m := reNeedle.FindStringSubmatch(js); m != nil {
		c.contains, _ = strconv.Unquote(m[1])
	}
	if m := reInner.FindStringSubmatch(js); m != nil {
		c.hasSel, _ = strconv.Unquote(m[1])
	}
	if m := reNth.FindStringSubmatch(js); m != nil {
		c.nth, _ = strconv.Atoi(m[1])
	}
	return c.String()
}

func evalJSON(out interface{}, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakePage) Evaluate(_ context.Context, js string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	sel := scriptSelector(js)
	switch {
	case strings.Contains(js, "els===null?-1"):
		f.calls = append(f.calls, "count "+sel)
		if f.invalid[sel] {
			return evalJSON(out, -1)
		}
		return evalJSON(out, f.countFor(sel))
	case strings.Contains(js, "invalid:true"):
		f.calls = append(f.calls, "query "+sel)
		if f.invalid[sel] {
			return evalJSON(out, queryPayload{Invalid: true})
		}
		return evalJSON(out, queryPayload{Elements: f.elementsFor(sel)})
	case strings.Contains(js, "elementFromPoint"):
		f.calls = append(f.calls, "hit "+sel)
		return evalJSON(out, f.hits[sel])
	}
	return fmt.Errorf("unrecognized script:\n%s", js)
}

func (f *fakePage) countFor(sel string) int {
	if n, ok := f.counts[sel]; ok {
		return n
	}
	return len(f.elements[sel])
}

func (f *fakePage) elementsFor(sel string) []ElementRef {
	if els, ok := f.elements[sel]; ok {
		return els
	}
	els := make([]ElementRef, 0, f.counts[sel])
	for i := 0; i < f.counts[sel]; i++ {
		els = append(els, ElementRef{Tag: "div"})
	}
	return els
}

func newTestEngine(f *fakePage) *Engine {
	return NewEngine(f, Options{})
}

func TestSynthesizeUniqueTestID(t *testing.T) {
	page := &fakePage{counts: map[string]int{`[data-testid="save"]`: 1}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:        "button",
		ID:         "save-button",
		Attributes: map[string]string{"data-testid": "save"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodTestID, d.Method)
	assert.Equal(t, `[data-testid="save"]`, d.Selector)
	assert.True(t, d.IsUnique)
	assert.Equal(t, 1, d.MatchCount)
}

func TestSynthesizeFallsThroughToID(t *testing.T) {
	page := &fakePage{counts: map[string]int{
		`[data-testid="row"]`: 12,
		"#submit-area":        1,
	}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:        "div",
		ID:         "submit-area",
		Attributes: map[string]string{"data-testid": "row"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodID, d.Method)
	assert.Equal(t, "#submit-area", d.Selector)
	assert.True(t, d.IsUnique)
}

func TestSynthesizeUniqueClassButton(t *testing.T) {
	page := &fakePage{counts: map[string]int{".save-btn": 1}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:     "button",
		Classes: []string{"save-btn"},
		Text:    "Save",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodClass, d.Method)
	assert.Equal(t, ".save-btn", d.Selector)
	assert.True(t, d.IsUnique)
	assert.Equal(t, 1, d.MatchCount)
	assert.Empty(t, d.ContextStrategy)
}

func TestSynthesizeClassWithAncestorContext(t *testing.T) {
	page := &fakePage{counts: map[string]int{
		".item-row":          5,
		"#billing .item-row": 1,
	}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:     "div",
		Classes: []string{"item-row"},
		Ancestors: []AncestorSnapshot{
			{Tag: "section", ID: "billing"},
			{Tag: "main"},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodClass, d.Method)
	assert.Equal(t, "#billing .item-row", d.Selector)
	assert.Equal(t, "ancestor-id", d.ContextStrategy)
	assert.True(t, d.IsUnique)
}

func TestSynthesizeAttributeTier(t *testing.T) {
	page := &fakePage{counts: map[string]int{`input[name="email"]`: 1}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:        "input",
		Attributes: map[string]string{"name": "email", "type": "email"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodAttribute, d.Method)
	assert.Equal(t, `input[name="email"]`, d.Selector)
}

func TestSynthesizeTextTier(t *testing.T) {
	page := &fakePage{counts: map[string]int{`button:contains("Start free trial")`: 1}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:  "button",
		Text: "  Start   free trial ",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodText, d.Method)
	assert.Equal(t, `button:contains("Start free trial")`, d.Selector)
}

func TestSynthesizePositionTierAnchorsToAncestor(t *testing.T) {
	page := &fakePage{counts: map[string]int{"#menu li:nth-match(3)": 1}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:      "li",
		TagIndex: 17,
		Ancestors: []AncestorSnapshot{
			{Tag: "ul", ID: "menu", TagIndex: 3},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodPosition, d.Method)
	assert.Equal(t, "#menu li:nth-match(3)", d.Selector)
	assert.Equal(t, "ancestor-anchor", d.ContextStrategy)
}

func TestSynthesizeHintPrefersElementUnderPoint(t *testing.T) {
	page := &fakePage{
		counts: map[string]int{`[data-testid="promo"]`: 1, "#real-button": 1},
		hits:   map[string]bool{`[data-testid="promo"]`: false, "#real-button": true},
	}
	eng := newTestEngine(page)
	snap := ElementSnapshot{
		Tag:        "button",
		ID:         "real-button",
		Attributes: map[string]string{"data-testid": "promo"},
	}
	d, err := eng.Synthesize(context.Background(), snap, &Hint{X: 100, Y: 200})
	require.NoError(t, err)
	assert.Equal(t, "#real-button", d.Selector)
	assert.Equal(t, MethodID, d.Method)

	// Without a hint the priority order stands.
	d, err = eng.Synthesize(context.Background(), snap, nil)
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="promo"]`, d.Selector)
}

func TestSynthesizeAllHitTestsFailKeepsFirstUnique(t *testing.T) {
	page := &fakePage{
		counts: map[string]int{`[data-testid="promo"]`: 1, "#real-button": 1},
		hits:   map[string]bool{},
	}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:        "button",
		ID:         "real-button",
		Attributes: map[string]string{"data-testid": "promo"},
	}, &Hint{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="promo"]`, d.Selector)
	assert.True(t, d.IsUnique)
}

func TestSynthesizeAmbiguousResultKeepsLowestCount(t *testing.T) {
	page := &fakePage{counts: map[string]int{
		".card":      8,
		"main .card": 3,
	}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:     "div",
		Classes: []string{"card"},
		Ancestors: []AncestorSnapshot{
			{Tag: "main"},
		},
	}, nil)
	require.NoError(t, err)
	assert.False(t, d.IsUnique)
	assert.Equal(t, 3, d.MatchCount)
	assert.Equal(t, "main .card", d.Selector)
}

func TestSynthesizeNothingMatchesKeepsMostSpecific(t *testing.T) {
	page := &fakePage{counts: map[string]int{}}
	eng := newTestEngine(page)
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:     "span",
		Classes: []string{"badge"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, ".badge", d.Selector)
	assert.Equal(t, 0, d.MatchCount)
	assert.False(t, d.IsUnique)
}

func TestSynthesizeEmptySnapshot(t *testing.T) {
	eng := newTestEngine(&fakePage{})
	_, err := eng.Synthesize(context.Background(), ElementSnapshot{}, nil)
	assert.Error(t, err)
}

func TestSynthesizeCustomTestAttribute(t *testing.T) {
	page := &fakePage{counts: map[string]int{`[data-qa="checkout"]`: 1}}
	eng := NewEngine(page, Options{TestAttribute: "data-qa"})
	d, err := eng.Synthesize(context.Background(), ElementSnapshot{
		Tag:        "button",
		Attributes: map[string]string{"data-qa": "checkout", "data-testid": "ignored"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodTestID, d.Method)
	assert.Equal(t, `[data-qa="checkout"]`, d.Selector)
}
