package models

import "encoding/json"

// TopicPrefix namespaces per-job notification topics on the bus.
const TopicPrefix = "job:"

// BroadcastTopic carries system-wide notifications. Every live connection is
// subscribed to it for its whole lifetime.
const BroadcastTopic = "broadcast"

// Topic returns the bus topic for a job id.
func Topic(jobID string) string {
	return TopicPrefix + jobID
}

// Notification is one best-effort job event carried by the bus. It is never
// persisted; the Job Store remains the source of truth.
type Notification struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	// Extra carries kind-specific result or error fields merged into the
	// wire message (imageUrl, videoUrl, message, ...).
	Extra map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object, matching the wire
// shape real-time clients consume: {jobId, status, progress, ...}.
func (n Notification) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"jobId":    n.JobID,
		"status":   n.Status,
		"progress": n.Progress,
	}
	for k, v := range n.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}
