package models

import "time"

// ConsolidationVersion identifies the report assembly format.
const ConsolidationVersion = "3.0"

// ReportMetrics summarizes per-component outcomes for a finished session.
type ReportMetrics struct {
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	SuccessRate   float64        `json:"success_rate"`
	ServiceHealth map[string]any `json:"service_health,omitempty"`
}

// Report is the consolidated output of one session: every registered
// component appears exactly once in Components.
type Report struct {
	SessionID            string                     `json:"session_id"`
	Success              bool                       `json:"success"`
	Components           map[string]ComponentResult `json:"components"`
	Metrics              ReportMetrics              `json:"metrics"`
	FailedRequired       []string                   `json:"failed_required,omitempty"`
	ProcessingTime       time.Duration              `json:"processing_time_ns"`
	ProviderStatus       []ProviderSnapshot         `json:"provider_status,omitempty"`
	SyncStatus           SessionStatus              `json:"sync_status"`
	ConsolidationVersion string                     `json:"consolidation_version"`
	GeneratedAt          time.Time                  `json:"generated_at"`
}

// ProviderSnapshot is a point-in-time view of one provider entry, embedded
// into reports and the health endpoint.
type ProviderSnapshot struct {
	Name                string     `json:"name"`
	Class               string     `json:"class"`
	Priority            int        `json:"priority"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	TotalSuccesses      int        `json:"total_successes"`
	RequestsToday       int        `json:"requests_today"`
	DisabledUntil       *time.Time `json:"disabled_until,omitempty"`
}
