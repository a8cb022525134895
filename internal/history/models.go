package history

import "time"

// Cycle statuses
const (
	StatusInProgress  = "in_progress"
	StatusSuccess     = "success"
	StatusFetched     = "fetched"
	StatusPullFailed  = "pull_failed"
	StatusBuildFailed = "build_failed"
	StatusBindFailed  = "bind_failed"
)

// CycleRecord represents one upgrade cycle
type CycleRecord struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Ref             string     `json:"ref,omitempty"`
	Revision        string     `json:"revision,omitempty"`
	Commands        []string   `json:"commands,omitempty"`
	Rebuild         bool       `json:"rebuild"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase"`
	Role            string     `json:"role"` // port owner when the record was written
	Artifact        string     `json:"artifact,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error,omitempty"`
}

// Finished reports whether the cycle has reached a final status.
func (r CycleRecord) Finished() bool {
	return r.Status != StatusInProgress
}
