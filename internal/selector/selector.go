package selector

import (
	"context"
	"strings"
)

// DefaultTestAttribute is the attribute checked by the first synthesis tier.
const DefaultTestAttribute = "data-testid"

// Method identifies which synthesis tier produced a descriptor.
type Method string

const (
	MethodTestID    Method = "test-id"
	MethodID        Method = "id"
	MethodAttribute Method = "attribute"
	MethodClass     Method = "class"
	MethodText      Method = "text"
	MethodPosition  Method = "position"
)

// Descriptor describes how an element was located, not the element itself.
// Elements are never stored; descriptors are what gets persisted and
// re-queried on a later page load. Immutable once created.
type Descriptor struct {
	Selector        string `json:"selector"`
	Method          Method `json:"method"`
	IsUnique        bool   `json:"is_unique"`
	MatchCount      int    `json:"match_count"`
	ContextStrategy string `json:"context_strategy,omitempty"`
}

// ElementSnapshot is the static description of a DOM element the capture
// script reports alongside each raw event. Synthesis works from the
// snapshot plus live uniqueness counts; it never holds the element itself.
type ElementSnapshot struct {
	Tag        string             `json:"tag"`
	ID         string             `json:"id,omitempty"`
	Classes    []string           `json:"classes,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Text       string             `json:"text,omitempty"`
	Value      string             `json:"value,omitempty"`
	TagIndex   int                `json:"tag_index,omitempty"`
	Ancestors  []AncestorSnapshot `json:"ancestors,omitempty"`
	FromToolUI bool               `json:"from_tool_ui,omitempty"`
}

// AncestorSnapshot describes one ancestor in the captured chain, nearest
// first. TagIndex is the 1-based position of the captured element among
// this ancestor's descendants that share the element's tag, which is what
// the position tier needs to anchor an nth-match selector.
type AncestorSnapshot struct {
	Tag      string   `json:"tag"`
	ID       string   `json:"id,omitempty"`
	Classes  []string `json:"classes,omitempty"`
	TestID   string   `json:"test_id,omitempty"`
	TagIndex int      `json:"tag_index,omitempty"`
}

// Hint carries the viewport coordinates of the click that produced a
// snapshot. When present, candidates that uniquely match a different
// element than the one under the point are treated as decoys.
type Hint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Evaluator runs a JavaScript expression in the live page and decodes its
// JSON result into out. The engine is driven entirely through this seam so
// tests can script the page's answers.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out interface{}) error
}

// Rect is an element bounding box in viewport coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementRef is the lightweight identity of one matched element.
type ElementRef struct {
	Tag  string `json:"tag"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	Rect Rect   `json:"rect"`
}

// QueryResult is what Query always returns: the matched elements (possibly
// none) and whether a relaxed form of the selector produced them.
// EffectiveSelector is the form that actually matched; callers that go on
// to act on the result should use it instead of the original input.
type QueryResult struct {
	Elements          []ElementRef `json:"elements"`
	UsedFallback      bool         `json:"used_fallback"`
	EffectiveSelector string       `json:"effective_selector,omitempty"`
}

// Count returns the number of matched elements.
func (r QueryResult) Count() int { return len(r.Elements) }

// IsPlainText reports whether s has no CSS structure at all: no structural
// characters and, for a single bare word, not a known HTML tag name. Tour
// authors routinely write visible labels ("Save changes") where a selector
// belongs; such steps are matched by text content instead of being fed to
// querySelectorAll.
func IsPlainText(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "#.[]>:+~*=()\"'") {
		return false
	}
	if strings.ContainsAny(s, " \t") {
		// "div p" is CSS; "Save changes" is a label.
		for _, w := range strings.Fields(s) {
			if !isKnownTag(strings.ToLower(w)) {
				return true
			}
		}
		return false
	}
	return !isKnownTag(strings.ToLower(s))
}

var knownTags = map[string]bool{
	"a": true, "abbr": true, "article": true, "aside": true, "b": true,
	"body": true, "button": true, "canvas": true, "code": true, "dd": true,
	"div": true, "dl": true, "dt": true, "em": true, "fieldset": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"i": true, "iframe": true, "img": true, "input": true, "label": true,
	"legend": true, "li": true, "main": true, "nav": true, "ol": true,
	"option": true, "p": true, "pre": true, "section": true, "select": true,
	"small": true, "span": true, "strong": true, "summary": true,
	"table": true, "tbody": true, "td": true, "textarea": true, "th": true,
	"thead": true, "tr": true, "ul": true,
}

func isKnownTag(s string) bool { return knownTags[s] }

// isValidCSSIdent reports whether s can appear as a bare identifier in a
// selector (class name or id) without escaping.
func isValidCSSIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	// "--x" and "-0x" shapes are technically escapable but never worth it.
	if strings.HasPrefix(s, "--") {
		return false
	}
	if len(s) > 1 && s[0] == '-' && s[1] >= '0' && s[1] <= '9' {
		return false
	}
	return true
}
