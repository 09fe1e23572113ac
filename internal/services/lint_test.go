package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourflow/internal/steps"
)

func TestLintStepsCleanTourHasNoFindings(t *testing.T) {
	list := []steps.Step{
		{Action: steps.ActionNavigate, Value: "https://app.example.com"},
		{Action: steps.ActionButton, Selector: "#save", IsUnique: true, MatchCount: 1},
		{Action: steps.ActionGuided, Description: "Fill the form", Steps: []steps.Step{
			{Action: steps.ActionFormFill, Selector: "#street", Value: "Main St 1", IsUnique: true, MatchCount: 1},
		}},
	}
	assert.Empty(t, LintSteps(list))
}

func TestLintStepsFlagsAmbiguousSelectors(t *testing.T) {
	list := []steps.Step{
		{Action: steps.ActionButton, Selector: ".btn", IsUnique: false, MatchCount: 5},
		{Action: steps.ActionHighlight, Selector: ".banner", IsUnique: false, MatchCount: 1},
	}
	findings := LintSteps(list)
	require.Len(t, findings, 2)
	assert.Equal(t, "1", findings[0].Position)
	assert.Contains(t, findings[0].Issue, "matched 5 elements")
	assert.Equal(t, "2", findings[1].Position)
	assert.Contains(t, findings[1].Issue, "not unique")
}

func TestLintStepsFlagsContextFallbacks(t *testing.T) {
	list := []steps.Step{
		{Action: steps.ActionButton, Selector: "#checkout .btn", IsUnique: true, MatchCount: 1, ContextStrategy: "ancestor-id"},
	}
	findings := LintSteps(list)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Issue, "ancestor-id fallback")
}

func TestLintStepsFlagsMissingSelectors(t *testing.T) {
	findings := LintSteps([]steps.Step{
		{Action: steps.ActionNavigate, Value: "https://app.example.com"},
		{Action: steps.ActionNoop, Description: "let the page settle"},
		{Action: steps.ActionButton},
	})
	require.Len(t, findings, 1)
	assert.Equal(t, "3", findings[0].Position)
	assert.Contains(t, findings[0].Issue, "no selector")
}

func TestLintStepsWalksSubSteps(t *testing.T) {
	list := []steps.Step{
		{Action: steps.ActionButton, Selector: "#open-login", IsUnique: true, MatchCount: 1},
		{Action: steps.ActionMultiStep, Description: "login", Steps: []steps.Step{
			{Action: steps.ActionFormFill, Selector: "#user", Value: "admin", IsUnique: true, MatchCount: 1},
			{Action: steps.ActionButton, Selector: "button", IsUnique: false, MatchCount: 4},
		}},
	}
	findings := LintSteps(list)
	require.Len(t, findings, 1)
	assert.Equal(t, "2.2", findings[0].Position)
	assert.Contains(t, findings[0].Issue, "matched 4 elements")
}

func TestLintStepsFlagsEmptyComposites(t *testing.T) {
	findings := LintSteps([]steps.Step{{Action: steps.ActionGuided, Description: "empty group"}})
	require.Len(t, findings, 1)
	assert.Equal(t, "1", findings[0].Position)
	assert.Contains(t, findings[0].Issue, "no sub-steps")
}

func TestLintStepsStacksFindingsPerStep(t *testing.T) {
	list := []steps.Step{
		{Action: steps.ActionButton, Selector: "li .btn", IsUnique: false, MatchCount: 3, ContextStrategy: "ancestor-class"},
	}
	findings := LintSteps(list)
	require.Len(t, findings, 2)
	assert.Equal(t, "1", findings[0].Position)
	assert.Equal(t, "1", findings[1].Position)
}
