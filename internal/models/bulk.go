package models

import "time"

// BulkStatus represents the lifecycle state of a bulk run.
type BulkStatus string

const (
	BulkRunning            BulkStatus = "running"
	BulkCompleted          BulkStatus = "completed"
	BulkCompletedWithFails BulkStatus = "completed_with_errors"
	BulkFailed             BulkStatus = "failed"
	BulkCancelled          BulkStatus = "cancelled"
)

// BulkItem records the outcome of one key within a bulk run.
type BulkItem struct {
	Key      string        `json:"key"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BulkRun is one paced batch execution of an operation over the roster.
type BulkRun struct {
	ID              string     `json:"id"`
	Operation       string     `json:"operation"`
	Status          BulkStatus `json:"status"`
	Total           int        `json:"total"`
	Processed       int        `json:"processed"`
	Succeeded       int        `json:"succeeded"`
	Failed          int        `json:"failed"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Items           []BulkItem `json:"items"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// SuccessRate returns the percentage of processed items that succeeded.
func (r *BulkRun) SuccessRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Processed) * 100
}

// FailedKeys returns the keys of all failed items, for retry.
func (r *BulkRun) FailedKeys() []string {
	var keys []string
	for _, it := range r.Items {
		if !it.Success {
			keys = append(keys, it.Key)
		}
	}
	return keys
}
