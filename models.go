package bgmigration

import (
	"time"
)

// Status the status of a job run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no transition leaves the status without a restart
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransitionTo reports whether from -> to is a legal status transition
func (s Status) CanTransitionTo(to Status) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// ProgressRecord the persisted progress of a job, one record per job name
type ProgressRecord struct {
	JobName             string
	RunID               string
	FeatureTag          string
	LastCompletedCursor Cursor
	StopCursor          Cursor
	RowsProcessed       int64
	Status              Status
	FailureCount        int
	FailureCursor       Cursor
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ResumeFrom returns the first cursor not yet processed, start when nothing was processed
func (p *ProgressRecord) ResumeFrom(desc *JobDescriptor, start Cursor) (Cursor, bool) {
	if p == nil || len(p.LastCompletedCursor) == 0 {
		return start, true
	}
	next, ok := desc.Successor(p.LastCompletedCursor)
	if !ok {
		return nil, false
	}
	if next.Compare(start) < 0 {
		return start, true
	}
	return next, true
}

// BatchResult the outcome of one Perform or RunBatch call
type BatchResult struct {
	JobName      string
	Range        *Range
	RowsAffected int64
	Succeeded    bool
	// Done is set when no range was left in the requested slice
	Done bool
}

// RunSummary the outcome of Run
type RunSummary struct {
	JobName      string
	Batches      int
	RowsAffected int64
	Status       Status
}
