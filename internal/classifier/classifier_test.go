package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tourflow/internal/selector"
	"tourflow/internal/steps"
)

func snap(tag string, attrs map[string]string) selector.ElementSnapshot {
	return selector.ElementSnapshot{Tag: tag, Attributes: attrs}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		snap selector.ElementSnapshot
		kind EventKind
		want steps.ActionType
	}{
		{"anchor", snap("a", nil), EventClick, steps.ActionNavigate},
		{"role link", snap("span", map[string]string{"role": "link"}), EventClick, steps.ActionNavigate},
		{"button tag", snap("button", nil), EventClick, steps.ActionButton},
		{"role button", snap("div", map[string]string{"role": "button"}), EventClick, steps.ActionButton},
		{"submit input", snap("input", map[string]string{"type": "submit"}), EventClick, steps.ActionButton},
		{"text input", snap("input", map[string]string{"type": "text"}), EventClick, steps.ActionFormFill},
		{"bare input", snap("input", nil), EventClick, steps.ActionFormFill},
		{"checkbox", snap("input", map[string]string{"type": "checkbox"}), EventClick, steps.ActionFormFill},
		{"textarea", snap("textarea", nil), EventClick, steps.ActionFormFill},
		{"select", snap("select", nil), EventClick, steps.ActionFormFill},
		{"menu trigger", snap("div", map[string]string{"aria-haspopup": "true"}), EventClick, steps.ActionHover},
		{"menuitem", snap("li", map[string]string{"role": "menuitem"}), EventClick, steps.ActionHover},
		{"onclick div", snap("div", map[string]string{"onclick": "openModal()"}), EventClick, steps.ActionButton},
		{"plain div", snap("div", nil), EventClick, steps.ActionHighlight},
		{"heading", snap("h2", nil), EventClick, steps.ActionHighlight},
		{"input event wins", snap("div", nil), EventInput, steps.ActionFormFill},
		{"change event wins", snap("a", nil), EventChange, steps.ActionFormFill},
		{"hover on menu trigger", snap("div", map[string]string{"aria-haspopup": "menu"}), EventHover, steps.ActionHover},
		{"hover on menubar", snap("nav", map[string]string{"role": "menubar"}), EventHover, steps.ActionHover},
		{"hover on plain element", snap("p", nil), EventHover, steps.ActionHighlight},
		{"hover on button without popup", snap("button", nil), EventHover, steps.ActionHighlight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.snap, tt.kind))
		})
	}
}

func TestShouldCapture(t *testing.T) {
	assert.True(t, ShouldCapture(selector.ElementSnapshot{Tag: "button", ID: "save"}))
	assert.False(t, ShouldCapture(selector.ElementSnapshot{Tag: "div", FromToolUI: true}))
	assert.False(t, ShouldCapture(selector.ElementSnapshot{Tag: "div", ID: "__tourflow_highlight"}))
	assert.False(t, ShouldCapture(selector.ElementSnapshot{
		Tag:        "span",
		Attributes: map[string]string{ToolUIAttr: ""},
	}))
	assert.False(t, ShouldCapture(selector.ElementSnapshot{
		Tag:       "span",
		Ancestors: []selector.AncestorSnapshot{{Tag: "div", ID: "__tourflow_panel"}},
	}))
}

func TestValidateAndCleanCoercesPlainText(t *testing.T) {
	v := ValidateAndClean("Save changes", steps.ActionHighlight, 1)
	assert.Equal(t, steps.ActionButton, v.Action)
	assert.True(t, v.WasModified)
	assert.NotEmpty(t, v.Warnings)

	v = ValidateAndClean("Save changes", steps.ActionButton, 1)
	assert.Equal(t, steps.ActionButton, v.Action)
	assert.False(t, v.WasModified)
	assert.Empty(t, v.Warnings)
}

func TestValidateAndCleanKeepsCSSSelectors(t *testing.T) {
	v := ValidateAndClean(".save-btn", steps.ActionHighlight, 1)
	assert.Equal(t, steps.ActionHighlight, v.Action)
	assert.Equal(t, ".save-btn", v.Selector)
	assert.False(t, v.WasModified)
	assert.Empty(t, v.Warnings)
}

func TestValidateAndCleanWarnsOnAmbiguity(t *testing.T) {
	v := ValidateAndClean(".btn", steps.ActionButton, 4)
	assert.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "4 elements")

	v = ValidateAndClean(".gone", steps.ActionButton, 0)
	assert.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "matches nothing")
}

func TestValidateAndCleanEmptySelector(t *testing.T) {
	v := ValidateAndClean("   ", steps.ActionHighlight, 0)
	assert.Equal(t, "", v.Selector)
	assert.NotEmpty(t, v.Warnings)
}

func TestValidateAndCleanUnknownAction(t *testing.T) {
	v := ValidateAndClean(".x", steps.ActionType("teleport"), 1)
	assert.Equal(t, steps.ActionHighlight, v.Action)
	assert.True(t, v.WasModified)
}
