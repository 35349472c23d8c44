package models

import "time"

// ArtifactStatus marks how the producing call ended.
type ArtifactStatus string

const (
	ArtifactOK       ArtifactStatus = "ok"
	ArtifactFallback ArtifactStatus = "fallback_used"
	ArtifactError    ArtifactStatus = "error"
)

// Artifact categories are coarse storage buckets, one directory each.
const (
	CategoryAnalysis  = "complete_analysis"
	CategoryWebSearch = "web_search"
	CategoryLogs      = "logs"
)

// Artifact is one persisted record of a stage's output. Artifacts are
// append-only: written once, never mutated.
type Artifact struct {
	Stage     string         `json:"stage"`
	Category  string         `json:"category"`
	SessionID string         `json:"session_id"`
	Sequence  int            `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Status    ArtifactStatus `json:"status"`
	Payload   map[string]any `json:"payload"`
}
