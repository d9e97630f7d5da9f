package model

import "time"

// RunMetrics represents overall metrics of one report run
type RunMetrics struct {
	JobID            string                    `json:"job_id"`
	Status           string                    `json:"status"`
	StartTime        time.Time                 `json:"start_time"`
	EndTime          *time.Time                `json:"end_time,omitempty"`
	Duration         time.Duration             `json:"duration"`
	TotalBatches     int                       `json:"total_batches"`
	CompletedBatches int                       `json:"completed_batches"`
	Streams          int64                     `json:"streams"`
	FailedStreams    int64                     `json:"failed_streams"`
	TotalRows        int64                     `json:"total_rows"`
	RowsPerSecond    float64                   `json:"rows_per_second"`
	Batches          []BatchMetrics            `json:"batches"`
	AccountMetrics   map[string]AccountMetrics `json:"account_metrics"`
}

// BatchMetrics represents metrics for one query batch
type BatchMetrics struct {
	Index     int           `json:"index"`
	Query     string        `json:"query"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Accounts  int           `json:"accounts"`
	Failed    int           `json:"failed"`
	Rows      int64         `json:"rows"`
	Status    string        `json:"status"` // "running", "completed", "cancelled"
}

// AccountMetrics represents metrics for one account across batches
type AccountMetrics struct {
	AccountID string `json:"account_id"`
	Streams   int64  `json:"streams"`
	Failed    int64  `json:"failed"`
	Rows      int64  `json:"rows"`
	LastError string `json:"last_error,omitempty"`
}

// ErrorDetail represents a stored error with context
type ErrorDetail struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one persisted pipeline log line
type LogEntry struct {
	ID        int64                  `json:"id"`
	JobID     string                 `json:"job_id"`
	Stage     string                 `json:"stage"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// JobInfo is the stored view of a report job
type JobInfo struct {
	ID        string        `json:"id"`
	Spec      ReportJobSpec `json:"spec"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Job statuses
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCollecting = "collecting"
	StatusExporting  = "exporting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Terminal reports whether a job status is final.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}
