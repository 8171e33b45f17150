package types

import "time"

// QueueName identifies one of the three job classes.
type QueueName string

const (
	QueueAnalysis   QueueName = "analysis"
	QueueSeparation QueueName = "separation"
	QueueLyrics     QueueName = "lyrics"
)

// JobStatus represents the current status of a queued job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobInfo is a snapshot of an in-memory job.
type JobInfo struct {
	ID          string     `json:"id"`
	Queue       QueueName  `json:"queue"`
	Label       string     `json:"label"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// QueueStats summarises a queue's counters.
type QueueStats struct {
	Name        QueueName `json:"name"`
	Concurrency int       `json:"concurrency"`
	Pending     int       `json:"pending"`
	Running     int       `json:"running"`
	Completed   int64     `json:"completed"`
	Failed      int64     `json:"failed"`
}
