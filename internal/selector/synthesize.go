package selector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Options tunes the engine. Zero values pick the defaults.
type Options struct {
	TestAttribute    string
	MaxAncestorDepth int
}

// Engine synthesizes target descriptors for captured elements and resolves
// selectors against the live page through its Evaluator.
type Engine struct {
	ev       Evaluator
	testAttr string
	maxDepth int
}

// NewEngine creates an engine bound to one page evaluator.
func NewEngine(ev Evaluator, opts Options) *Engine {
	if opts.TestAttribute == "" {
		opts.TestAttribute = DefaultTestAttribute
	}
	if opts.MaxAncestorDepth <= 0 {
		opts.MaxAncestorDepth = 3
	}
	return &Engine{ev: ev, testAttr: opts.TestAttribute, maxDepth: opts.MaxAncestorDepth}
}

// candidate is one selector a tier proposes, before live verification.
type candidate struct {
	selector string
	method   Method
	context  string
}

// Synthesize produces the most robust selector for a captured element. The
// tiers run in a fixed priority order: test attribute, id, narrow
// attributes, classes with ancestor context, visible text, position. The
// first candidate that uniquely matches the live page wins. A hint carries
// the click point; it breaks ties between unique candidates by preferring
// the one whose match is actually under the point, and never demotes a
// unique candidate below an ambiguous one.
func (e *Engine) Synthesize(ctx context.Context, snap ElementSnapshot, hint *Hint) (Descriptor, error) {
	cands := e.buildCandidates(snap)
	if len(cands) == 0 {
		return Descriptor{}, fmt.Errorf("element snapshot has nothing to build a selector from")
	}
	var decoy, ambiguous *Descriptor
	for _, cand := range cands {
		n, err := e.countMatches(ctx, cand.selector)
		if err != nil {
			return Descriptor{}, err
		}
		if n <= 0 {
			continue
		}
		d := Descriptor{
			Selector:        cand.selector,
			Method:          cand.method,
			IsUnique:        n == 1,
			MatchCount:      n,
			ContextStrategy: cand.context,
		}
		if n == 1 {
			if hint != nil {
				under, err := e.hitTest(ctx, cand.selector, *hint)
				if err != nil {
					return Descriptor{}, err
				}
				if !under {
					if decoy == nil {
						decoy = &d
					}
					continue
				}
			}
			return d, nil
		}
		if ambiguous == nil || n < ambiguous.MatchCount {
			copied := d
			ambiguous = &copied
		}
	}
	if decoy != nil {
		return *decoy, nil
	}
	if ambiguous != nil {
		return *ambiguous, nil
	}
	// Nothing matched at all; the page likely changed between the event and
	// synthesis. Keep the most specific candidate so the author still gets
	// an editable step instead of nothing.
	first := cands[0]
	return Descriptor{Selector: first.selector, Method: first.method, MatchCount: 0}, nil
}

func (e *Engine) buildCandidates(snap ElementSnapshot) []candidate {
	var cands []candidate
	tag := strings.ToLower(strings.TrimSpace(snap.Tag))
	attrs := snap.Attributes

	if v := attrs[e.testAttr]; v != "" {
		cands = append(cands, candidate{cssAttr(e.testAttr, v), MethodTestID, ""})
	}

	if snap.ID != "" {
		if isValidCSSIdent(snap.ID) {
			cands = append(cands, candidate{"#" + snap.ID, MethodID, ""})
		} else {
			cands = append(cands, candidate{cssAttr("id", snap.ID), MethodID, ""})
		}
	}

	cands = append(cands, e.attributeCandidates(tag, attrs)...)

	classSel := classSelector(snap.Classes)
	if classSel != "" {
		cands = append(cands, candidate{classSel, MethodClass, ""})
		depth := e.maxDepth
		if depth > len(snap.Ancestors) {
			depth = len(snap.Ancestors)
		}
		for _, anc := range snap.Ancestors[:depth] {
			prefix, strategy := ancestorPrefix(anc, e.testAttr)
			if prefix == "" {
				continue
			}
			cands = append(cands, candidate{prefix + " " + classSel, MethodClass, strategy})
		}
	}

	if text := strings.Join(strings.Fields(snap.Text), " "); text != "" && len([]rune(text)) <= 60 && tag != "" {
		cands = append(cands, candidate{fmt.Sprintf("%s:contains(%q)", tag, text), MethodText, ""})
	}

	if tag != "" {
		if pos, strategy, ok := e.positionCandidate(tag, snap); ok {
			cands = append(cands, candidate{pos, MethodPosition, strategy})
		}
	}
	return cands
}

func (e *Engine) attributeCandidates(tag string, attrs map[string]string) []candidate {
	if tag == "" || len(attrs) == 0 {
		return nil
	}
	var cands []candidate
	add := func(sel string) {
		cands = append(cands, candidate{sel, MethodAttribute, ""})
	}
	if name := attrs["name"]; name != "" {
		add(tag + cssAttr("name", name))
	}
	role, label := attrs["role"], attrs["aria-label"]
	if role != "" && label != "" {
		add(cssAttr("role", role) + cssAttr("aria-label", label))
	}
	if label != "" {
		add(tag + cssAttr("aria-label", label))
	}
	if role != "" {
		add(tag + cssAttr("role", role))
	}
	if typ := attrs["type"]; typ != "" && (tag == "input" || tag == "button") {
		add(tag + cssAttr("type", typ))
	}
	if ph := attrs["placeholder"]; ph != "" {
		add(tag + cssAttr("placeholder", ph))
	}
	if href := attrs["href"]; tag == "a" && href != "" && len(href) <= 120 &&
		!strings.HasPrefix(href, "javascript:") {
		add("a" + cssAttr("href", href))
	}
	return cands
}

// positionCandidate anchors an nth-match selector to the closest ancestor
// with a stable identity, falling back to a document-wide index.
func (e *Engine) positionCandidate(tag string, snap ElementSnapshot) (string, string, bool) {
	for _, anc := range snap.Ancestors {
		if anc.TagIndex <= 0 {
			continue
		}
		if anc.TestID != "" {
			sel := fmt.Sprintf("%s %s:nth-match(%d)", cssAttr(e.testAttr, anc.TestID), tag, anc.TagIndex)
			return sel, "ancestor-anchor", true
		}
		if isValidCSSIdent(anc.ID) {
			sel := fmt.Sprintf("#%s %s:nth-match(%d)", anc.ID, tag, anc.TagIndex)
			return sel, "ancestor-anchor", true
		}
	}
	if snap.TagIndex > 0 {
		return fmt.Sprintf("%s:nth-match(%d)", tag, snap.TagIndex), "document-index", true
	}
	return "", "", false
}

func ancestorPrefix(anc AncestorSnapshot, testAttr string) (string, string) {
	if anc.TestID != "" {
		return cssAttr(testAttr, anc.TestID), "ancestor-test-id"
	}
	if isValidCSSIdent(anc.ID) {
		return "#" + anc.ID, "ancestor-id"
	}
	tag := strings.ToLower(strings.TrimSpace(anc.Tag))
	for _, cls := range anc.Classes {
		if isValidCSSIdent(cls) {
			return tag + "." + cls, "ancestor-class"
		}
	}
	return "", ""
}

// classSelector joins the element's usable classes, capped so copied-in
// utility class soup does not produce absurd selectors.
func classSelector(classes []string) string {
	var parts []string
	for _, cls := range classes {
		if !isValidCSSIdent(cls) {
			continue
		}
		parts = append(parts, "."+cls)
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, "")
}

func cssAttr(name, value string) string {
	return fmt.Sprintf("[%s=%s]", name, strconv.Quote(value))
}

func (e *Engine) countMatches(ctx context.Context, sel string) (int, error) {
	var n int
	if err := e.ev.Evaluate(ctx, countScript(parseExtended(sel)), &n); err != nil {
		return 0, fmt.Errorf("count matches for %q: %w", sel, err)
	}
	return n, nil
}

func (e *Engine) hitTest(ctx context.Context, sel string, hint Hint) (bool, error) {
	var under bool
	if err := e.ev.Evaluate(ctx, hitTestScript(parseExtended(sel), hint.X, hint.Y), &under); err != nil {
		return false, fmt.Errorf("hit test for %q: %w", sel, err)
	}
	return under, nil
}
