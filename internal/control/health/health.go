// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// TaskHealth contains health metrics for one orchestrated task.
type TaskHealth struct {
	TaskID           string       `json:"task_id"`
	Status           SystemStatus `json:"status"`
	State            string       `json:"state"`
	Round            int          `json:"round"`
	ConsecutiveFails int          `json:"consecutive_fails"`
	FailedAttempts   int          `json:"failed_attempts"`
	Paused           bool         `json:"paused"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus   SystemStatus          `json:"system_status"`
	QuotaRemaining int                   `json:"quota_remaining"`
	QuotaUsagePct  float64               `json:"quota_usage_pct"`
	Tasks          map[string]TaskHealth `json:"tasks"`
}
