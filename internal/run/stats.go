package run

// RunStats aggregates run counts for dashboards and health checks.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Passed          int   `json:"passed"`
	Failed          int   `json:"failed"`
	Inconclusive    int   `json:"inconclusive"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *RunStats) add(r *Run) {
	s.Total++
	switch r.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusInconclusive:
		s.Inconclusive++
	}
	if r.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = r.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (r.UpdatedAt != 0 && r.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = r.UpdatedAt
	}
}
