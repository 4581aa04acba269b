package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id is unknown or has expired from the store.
var ErrJobNotFound = errors.New("job not found")

// ErrDispatch is returned when a submission could not be placed on its queue.
// The job is not queryable after a dispatch failure.
var ErrDispatch = errors.New("dispatch failed")

// JobKind identifies the workload type and selects the queue a job runs on.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// IsValid reports whether the kind names a known workload.
func (k JobKind) IsValid() bool {
	return k == JobKindImage || k == JobKindVideo
}

func (k JobKind) String() string {
	return string(k)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job is one unit of requested asynchronous work. The store holds the
// authoritative copy; notifications are a lossy projection of its writes.
//
// A job is mutated only by the single worker that claimed it. The store does
// not enforce that invariant - the queue's claim semantics do.
type Job struct {
	ID        string          `json:"id" badgerhold:"key"`
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"` // present only when Status == done
	Error     string          `json:"error,omitempty"`  // present only when Status == error
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewJob returns a freshly submitted job record.
func NewJob(id string, kind JobKind) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobUpdate is a partial update applied with merge semantics: nil fields are
// left untouched. This replaces the open-ended mutable metadata map the
// workers would otherwise share.
type JobUpdate struct {
	Status   *JobStatus
	Progress *int
	Result   json.RawMessage
	Error    *string
}

// Apply merges the update into the job and bumps UpdatedAt.
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Result != nil {
		job.Result = u.Result
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	job.UpdatedAt = time.Now()
}
