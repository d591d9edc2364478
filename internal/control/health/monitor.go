package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/task"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
)

// Monitor aggregates health status from the task manager and quota gate.
type Monitor struct {
	tasks      *task.Manager
	gate       *budget.Gate
	lastCheck  time.Time
	lastReport Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(tasks *task.Manager, gate *budget.Gate) *Monitor {
	return &Monitor{tasks: tasks, gate: gate}
}

// CheckHealth computes the current report. Checks are rate limited to
// once per 10s to keep the endpoint cheap.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Tasks != nil {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Tasks:        make(map[string]TaskHealth),
	}

	if m.gate != nil {
		usage := m.gate.Usage()
		report.QuotaRemaining = usage.Remaining
		report.QuotaUsagePct = usage.UsagePercentage
		if !m.gate.CanDispatch() {
			report.SystemStatus = StatusDegraded
		}
	}

	all, err := m.tasks.List(ctx)
	if err != nil {
		report.SystemStatus = StatusCritical
		m.lastCheck = time.Now()
		m.lastReport = report
		return report
	}

	for _, t := range all {
		th := taskHealth(t)
		failed, err := m.tasks.CountFailed(ctx, t.ID)
		if err == nil {
			th.FailedAttempts = failed
		}
		report.Tasks[t.ID] = th

		if th.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if th.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func taskHealth(t *domain.Task) TaskHealth {
	th := TaskHealth{
		TaskID:           t.ID,
		Status:           StatusHealthy,
		State:            string(t.State),
		Round:            t.Round,
		ConsecutiveFails: t.ConsecutiveFails,
		Paused:           t.Paused,
	}
	if t.ConsecutiveFails >= 2 {
		th.Status = StatusCritical
	} else if t.ConsecutiveFails > 0 {
		th.Status = StatusDegraded
	}
	return th
}
