package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Feed is a subscribed RSS source. A feed lives as long as at least one
// owner references it.
type Feed struct {
	ID        string
	URL       string
	Title     string
	Owners    []string
	CreatedAt time.Time
}

// JobPipelineRun is the job type for one pipeline run.
const JobPipelineRun = "pipeline_run"

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
