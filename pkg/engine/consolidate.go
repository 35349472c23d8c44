package engine

import (
	"time"

	"github.com/insightlabs/marketscope/pkg/models"
)

// Consolidate assembles the final report from a finished session's results.
// Every registered component appears exactly once: components that never
// produced a result (run ended early) get an error entry, never an omission.
func Consolidate(registry *ComponentRegistry, sessionID string, status models.SessionStatus,
	results map[string]models.ComponentResult, failedRequired []string,
	processingTime time.Duration, providers []models.ProviderSnapshot) *models.Report {

	components := make(map[string]models.ComponentResult)
	successful := 0
	for _, name := range registry.Names() {
		result, ok := results[name]
		if !ok {
			result = models.ErrorResult(name, "dependency_missing", "component never executed")
		}
		components[name] = result
		if result.OK() {
			successful++
		}
	}

	total := len(components)
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total)
	}

	health := make(map[string]any, len(providers))
	for _, snap := range providers {
		health[snap.Name] = snap.State
	}

	return &models.Report{
		SessionID:  sessionID,
		Success:    status == models.StatusCompleted && len(failedRequired) == 0,
		Components: components,
		Metrics: models.ReportMetrics{
			Total:         total,
			Successful:    successful,
			SuccessRate:   rate,
			ServiceHealth: health,
		},
		FailedRequired:       failedRequired,
		ProcessingTime:       processingTime,
		ProviderStatus:       providers,
		SyncStatus:           status,
		ConsolidationVersion: models.ConsolidationVersion,
		GeneratedAt:          time.Now().UTC(),
	}
}
