package model

import "time"

// Status is the outcome of comparing one metric against its cached value.
type Status string

const (
	// StatusConsistent means the cached value already matched the live count.
	StatusConsistent Status = "consistent"
	// StatusCorrected means a mismatch was written back and confirmed by re-reading.
	StatusCorrected Status = "corrected"
	// StatusUnresolved means the mismatch could not be confirmed as fixed.
	StatusUnresolved Status = "unresolved"
	// StatusDrift means a read-only check found a mismatch; nothing was written.
	StatusDrift Status = "drift"
)

// OK reports whether s counts as a successful outcome.
func (s Status) OK() bool {
	return s == StatusConsistent || s == StatusCorrected
}

// Result describes one metric's pass.
type Result struct {
	Metric    Metric `json:"metric" yaml:"metric"`
	Label     string `json:"label" yaml:"label"`
	Field     string `json:"field" yaml:"field"`
	Computed  int64  `json:"computed" yaml:"computed"`
	Cached    int64  `json:"cached" yaml:"cached"`
	Confirmed int64  `json:"confirmed" yaml:"confirmed"`
	// Compared is set once both the computed count and the cached
	// value were read.
	Compared  bool   `json:"compared" yaml:"compared"`
	Status    Status `json:"status" yaml:"status"`
	Wrote     bool   `json:"wrote" yaml:"wrote"`
	Affected  int64  `json:"rows_affected" yaml:"rows_affected"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the aggregate of one pass over all requested metrics.
type Report struct {
	Results   []Result      `json:"results" yaml:"results"`
	OK        bool          `json:"ok" yaml:"ok"`
	DryRun    bool          `json:"dry_run" yaml:"dry_run"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Summarize recomputes r.OK from the individual results.
func (r *Report) Summarize() {
	r.OK = true
	for _, res := range r.Results {
		if !res.Status.OK() {
			r.OK = false
			return
		}
	}
}

// Count returns how many results ended in status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
