package types

import "time"

// Event types pushed to websocket subscribers.
const (
	EventWorkerState     = "worker_state"
	EventJobQueued       = "job_queued"
	EventJobStarted      = "job_started"
	EventJobCompleted    = "job_completed"
	EventJobFailed       = "job_failed"
	EventAnalysisUpdated = "analysis_updated"
)

// EventMessage represents a websocket event update
type EventMessage struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`             // queue name, "worker", or "track:<id>"
	JobID     string    `json:"jobId,omitempty"`   // set for job events
	TrackID   int64     `json:"trackId,omitempty"` // set for track scoped events
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
