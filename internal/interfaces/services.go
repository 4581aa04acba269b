package interfaces

import "context"

// StatusService resolves a job id to its wire representation. Unknown or
// expired ids produce a structured not-found answer rather than an error.
type StatusService interface {
	Query(ctx context.Context, jobID string) (map[string]interface{}, error)
}
