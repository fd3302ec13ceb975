package domain

import "time"

// RunJobStatus represents the status of a pipeline run job
type RunJobStatus string

const (
	RunJobStatusPending    RunJobStatus = "pending"
	RunJobStatusProcessing RunJobStatus = "processing"
	RunJobStatusCompleted  RunJobStatus = "completed"
	RunJobStatusFailed     RunJobStatus = "failed"
)

// RunJob queues a full three-pass extraction run over one document,
// processed by the background worker.
type RunJob struct {
	ID          string
	DocumentID  string
	Status      RunJobStatus
	Retries     int
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// IsValidRunJobStatus reports whether s is a recognized job status.
func IsValidRunJobStatus(s RunJobStatus) bool {
	switch s {
	case RunJobStatusPending, RunJobStatusProcessing, RunJobStatusCompleted, RunJobStatusFailed:
		return true
	}
	return false
}
