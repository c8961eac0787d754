package domain

import "time"

// JobState is the scheduler lifecycle state.
type JobState string

const (
	JobStateIdle    JobState = "idle"
	JobStateRunning JobState = "running"
	JobStateError   JobState = "error"
)

// RunStats summarizes one pipeline run.
type RunStats struct {
	Periods       []string      `json:"periods"`
	Discovered    int           `json:"discovered"`
	Existing      int           `json:"existing"`
	Fetched       int           `json:"fetched"`
	FetchFailed   int           `json:"fetchFailed"`
	Inserted      int           `json:"inserted"`
	Updated       int           `json:"updated"`
	Unchanged     int           `json:"unchanged"`
	Skipped       int           `json:"skipped"`
	PersistFailed int           `json:"persistFailed"`
	Duration      time.Duration `json:"duration"`
}

// JobStatus is the in-memory scheduler status, one per process.
type JobStatus struct {
	Status         JobState   `json:"status"`
	LastRun        *time.Time `json:"lastRun,omitempty"`
	NextRun        *time.Time `json:"nextRun,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	SuccessfulRuns int        `json:"successfulRuns"`
	FailedRuns     int        `json:"failedRuns"`
	LastRunID      string     `json:"lastRunId,omitempty"`
	LastStats      *RunStats  `json:"lastStats,omitempty"`
}
