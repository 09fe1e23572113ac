package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tourflow/internal/models"
	"tourflow/internal/steps"
	"tourflow/pkg/database"
)

// LintFinding is one replay risk found in a tour's steps.
type LintFinding struct {
	Position string `json:"position"` // 1-based step position, "3.2" for a sub-step
	Issue    string `json:"issue"`
}

// LintSteps checks steps for replay risks using the uniqueness metadata
// captured when they were recorded. It does not open a browser; a tour
// whose target page changed can only be caught by replaying it.
func LintSteps(list []steps.Step) []LintFinding {
	var findings []LintFinding
	for i, st := range list {
		pos := fmt.Sprintf("%d", i+1)
		findings = append(findings, lintStep(st, pos)...)
		for j, sub := range st.Steps {
			findings = append(findings, lintStep(sub, fmt.Sprintf("%s.%d", pos, j+1))...)
		}
	}
	return findings
}

func lintStep(st steps.Step, pos string) []LintFinding {
	var findings []LintFinding
	if st.Action.IsComposite() {
		if len(st.Steps) == 0 {
			findings = append(findings, LintFinding{Position: pos, Issue: "composite step has no sub-steps"})
		}
		return findings
	}

	needsSelector := st.Action != steps.ActionNavigate && st.Action != steps.ActionNoop
	if st.Selector == "" {
		if needsSelector {
			findings = append(findings, LintFinding{Position: pos, Issue: fmt.Sprintf("%s step has no selector", st.Action)})
		}
		return findings
	}

	if st.MatchCount > 1 {
		findings = append(findings, LintFinding{Position: pos, Issue: fmt.Sprintf("selector matched %d elements when recorded", st.MatchCount)})
	} else if !st.IsUnique {
		findings = append(findings, LintFinding{Position: pos, Issue: "selector was not unique when recorded"})
	}
	if st.ContextStrategy != "" {
		findings = append(findings, LintFinding{Position: pos, Issue: fmt.Sprintf("selector leans on the %s fallback and may break when the page changes", st.ContextStrategy)})
	}
	return findings
}

// LintTour lints one tour and writes the verdict onto its health fields.
func LintTour(tour *models.Tour) error {
	list, err := tour.GetSteps()
	if err != nil {
		return fmt.Errorf("tour %d has corrupt steps: %w", tour.ID, err)
	}

	findings := LintSteps(list)

	now := time.Now()
	tour.LintedAt = &now
	if len(findings) == 0 {
		tour.HealthStatus = models.HealthHealthy
		tour.HealthDetail = ""
	} else {
		tour.HealthStatus = models.HealthWarning
		detail, err := json.Marshal(findings)
		if err != nil {
			return fmt.Errorf("marshal lint findings: %w", err)
		}
		tour.HealthDetail = string(detail)
	}

	return database.DB.Model(tour).Select("health_status", "health_detail", "linted_at").
		Updates(map[string]interface{}{
			"health_status": tour.HealthStatus,
			"health_detail": tour.HealthDetail,
			"linted_at":     tour.LintedAt,
		}).Error
}

// SweepTourHealth lints every active tour. The scheduler runs this
// nightly; edits reset a tour to unknown until the next pass.
func SweepTourHealth() {
	var tours []models.Tour
	err := database.DB.Where("status = ?", 1).Find(&tours).Error
	if err != nil {
		log.Printf("❌ Lint sweep could not list tours: %v", err)
		return
	}

	healthy, warned := 0, 0
	for i := range tours {
		if err := LintTour(&tours[i]); err != nil {
			log.Printf("⚠️ Lint failed for tour %d: %v", tours[i].ID, err)
			continue
		}
		if tours[i].HealthStatus == models.HealthWarning {
			warned++
		} else {
			healthy++
		}
	}

	log.Printf("🧹 Lint sweep finished: %d healthy, %d with warnings of %d tours", healthy, warned, len(tours))
}
