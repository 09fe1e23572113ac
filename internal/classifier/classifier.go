package classifier

import (
	"fmt"
	"strings"

	"tourflow/internal/selector"
	"tourflow/internal/steps"
)

// Reserved markers of the tool's own control surfaces inside the page. The
// overlay and panel scripts tag their DOM with these so the recorder never
// records the tool operating on itself.
const (
	ToolUIAttr   = "data-tourflow-ui"
	ToolIDPrefix = "__tourflow"
)

// EventKind is the raw DOM event category the capture script reports.
type EventKind string

const (
	EventClick  EventKind = "click"
	EventInput  EventKind = "input"
	EventChange EventKind = "change"
	EventHover  EventKind = "hover"
)

// Classify maps a captured element and event to a semantic action. The
// decision uses the element's tag, ARIA role and input type: links
// navigate, form controls fill, button-like things are buttons, elements
// that only reveal content on hover are hovers, and anything else is a
// plain highlight.
func Classify(snap selector.ElementSnapshot, kind EventKind) steps.ActionType {
	if kind == EventInput || kind == EventChange {
		return steps.ActionFormFill
	}
	tag := strings.ToLower(snap.Tag)
	role := strings.ToLower(snap.Attributes["role"])
	typ := strings.ToLower(snap.Attributes["type"])

	// Dwelling on an element is only a step when the element reveals
	// something on hover; everything else stays a highlight the session
	// will drop.
	if kind == EventHover {
		if hoverRevealing(snap.Attributes, role) {
			return steps.ActionHover
		}
		return steps.ActionHighlight
	}

	switch {
	case tag == "a", role == "link":
		return steps.ActionNavigate
	case tag == "select", tag == "textarea", tag == "option":
		return steps.ActionFormFill
	case tag == "input":
		switch typ {
		case "button", "submit", "reset", "image":
			return steps.ActionButton
		default:
			return steps.ActionFormFill
		}
	case tag == "button", role == "button", role == "tab", tag == "summary":
		return steps.ActionButton
	case hoverRevealing(snap.Attributes, role):
		return steps.ActionHover
	case snap.Attributes["onclick"] != "":
		return steps.ActionButton
	}
	return steps.ActionHighlight
}

// hoverRevealing detects elements whose purpose only shows on hover, like
// menu triggers.
func hoverRevealing(attrs map[string]string, role string) bool {
	switch strings.ToLower(attrs["aria-haspopup"]) {
	case "true", "menu", "listbox", "tree", "grid":
		return true
	}
	return role == "menu" || role == "menuitem" || role == "menubar"
}

// ShouldCapture reports whether an event belongs to the page under tour
// rather than to the tool's own overlay or panel.
func ShouldCapture(snap selector.ElementSnapshot) bool {
	if snap.FromToolUI {
		return false
	}
	if strings.HasPrefix(snap.ID, ToolIDPrefix) {
		return false
	}
	if _, ok := snap.Attributes[ToolUIAttr]; ok {
		return false
	}
	for _, anc := range snap.Ancestors {
		if strings.HasPrefix(anc.ID, ToolIDPrefix) {
			return false
		}
	}
	return true
}

// Validation is the result of ValidateAndClean: the step fields to keep
// plus human-readable warnings. Warnings never block recording; they give
// the author something to tighten.
type Validation struct {
	Selector    string
	Action      steps.ActionType
	Warnings    []string
	WasModified bool
}

// ValidateAndClean enforces the selector-quality rules on one step before
// it is appended. A selector with no CSS structure at all is matched by
// visible label and therefore forced to the button action; ambiguous and
// dead selectors produce warnings with their match counts.
func ValidateAndClean(sel string, action steps.ActionType, matchCount int) Validation {
	v := Validation{Selector: strings.TrimSpace(sel), Action: action}
	if v.Selector != sel {
		v.WasModified = true
	}
	if !v.Action.IsValid() {
		v.Action = steps.ActionHighlight
		v.WasModified = true
		v.Warnings = append(v.Warnings, fmt.Sprintf("unknown action %q replaced with highlight", string(action)))
	}
	if v.Selector == "" {
		v.Warnings = append(v.Warnings, "step has no selector")
		return v
	}
	if selector.IsPlainText(v.Selector) && v.Action != steps.ActionButton && !v.Action.IsComposite() {
		v.Warnings = append(v.Warnings, fmt.Sprintf("plain-text selector %q is matched by visible label, treating step as a button", v.Selector))
		v.Action = steps.ActionButton
		v.WasModified = true
	}
	switch {
	case matchCount > 1:
		v.Warnings = append(v.Warnings, fmt.Sprintf("selector matches %d elements, replay will use the first match", matchCount))
	case matchCount == 0:
		v.Warnings = append(v.Warnings, "selector currently matches nothing on the page")
	}
	return v
}
