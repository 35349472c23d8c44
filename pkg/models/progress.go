package models

import "time"

// ProgressEvent is published on the session progress channel after every
// component state change. Step numbers are strictly increasing within a
// session run.
type ProgressEvent struct {
	SessionID  string    `json:"session_id"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"total_steps"`
	Component  string    `json:"component"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
