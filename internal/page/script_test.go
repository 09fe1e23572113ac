package page

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClickScriptResolvesThroughFinder(t *testing.T) {
	js := clickScript("#save")
	assert.Contains(t, js, `"#save"`)
	assert.Contains(t, js, "el.click()")
	assert.Contains(t, js, "return false")
	assert.Contains(t, js, "scrollIntoView")
}

func TestClickScriptSupportsExtendedSelectors(t *testing.T) {
	js := clickScript(`button:contains("Save")`)
	assert.Contains(t, js, `"button"`)
	assert.Contains(t, js, `"Save"`)
}

func TestFillScriptQuotesValue(t *testing.T) {
	js := fillScript("#email", `he said "hi"`)
	assert.Contains(t, js, `"he said \"hi\""`)
	assert.Contains(t, js, "getOwnPropertyDescriptor")
	assert.Contains(t, js, "dispatchEvent(new Event('input'")
	assert.Contains(t, js, "dispatchEvent(new Event('change'")
}

func TestFillScriptHandlesToggles(t *testing.T) {
	js := fillScript("#agree", "true")
	assert.Contains(t, js, "checkbox", "toggles set checked instead of value")
	assert.Contains(t, js, "el.checked=")
}

func TestHoverScriptDispatchesPointerEvents(t *testing.T) {
	js := hoverScript("#menu")
	for _, ev := range []string{"mouseover", "mouseenter", "mousemove"} {
		assert.Contains(t, js, ev)
	}
}

func TestSentinelScriptsAgreeOnTheFlag(t *testing.T) {
	install := sentinelInstallScript()
	poll := sentinelPollScript()
	assert.Contains(t, install, "__tourflowAdvance")
	assert.Contains(t, poll, "__tourflowAdvance")
	assert.Contains(t, install, "isTrusted", "synthetic clicks must not advance a guided wait")
	assert.True(t, strings.Contains(poll, "installed") && strings.Contains(poll, "clicked"))
}

func TestSentinelReinstallResetsFlag(t *testing.T) {
	js := sentinelInstallScript()
	assert.Contains(t, js, "window.__tourflowAdvance.clicked=false;return true", "re-arming clears a leftover click")
}
