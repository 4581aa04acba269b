package models

import "errors"

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	JobID  string            `json:"job_id"`
	Kind   JobKind           `json:"kind"`
	Params map[string]string `json:"params"` // flat key-value map per the submission boundary
}
