package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/round"
)

// checkRun is one upstream validation run reported by the platform.
type checkRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`     // queued | in_progress | completed
	Conclusion string `json:"conclusion"` // success | failure | neutral | skipped | cancelled | timed_out
}

type taskResponse struct {
	ID             string     `json:"id"`
	BranchRef      string     `json:"branch_ref"`
	BaseRef        string     `json:"base_ref"`
	OptIn          bool       `json:"opt_in"`
	HumanActivated bool       `json:"human_activated"`
	Paused         bool       `json:"paused"`
	MaxConcurrent  int        `json:"max_concurrent"`
	Completed      bool       `json:"completed"`
	Checks         []checkRun `json:"checks"`
}

// SnapshotProvider reads fresh task state from the platform API.
type SnapshotProvider struct {
	client *Client
}

// NewSnapshotProvider creates a SnapshotProvider.
func NewSnapshotProvider(client *Client) *SnapshotProvider {
	return &SnapshotProvider{client: client}
}

// Snapshot fetches the task's current external state. Nothing is
// cached: guardrails must see what the platform reports right now.
func (p *SnapshotProvider) Snapshot(ctx context.Context, taskID string) (round.Snapshot, error) {
	var resp taskResponse
	path := fmt.Sprintf("/tasks/%s", url.PathEscape(taskID))
	if err := p.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return round.Snapshot{}, fmt.Errorf("failed to fetch task %s: %w", taskID, err)
	}

	return round.Snapshot{
		GuardrailContext: domain.GuardrailContext{
			TaskID:         taskID,
			OptIn:          resp.OptIn,
			HumanActivated: resp.HumanActivated,
			Upstream:       upstreamSignal(resp.Checks),
			MaxConcurrent:  resp.MaxConcurrent,
			Paused:         resp.Paused,
		},
		BranchRef: resp.BranchRef,
		BaseRef:   resp.BaseRef,
		Completed: resp.Completed,
	}, nil
}

// upstreamSignal folds the check runs into one signal. Worst state
// wins: any failure blocks, any unfinished run means pending, and no
// runs at all is absence, not success.
func upstreamSignal(checks []checkRun) domain.SignalState {
	if len(checks) == 0 {
		return domain.SignalAbsent
	}

	hasNeutral, hasSkipped := false, false
	for _, c := range checks {
		if c.Status != "completed" {
			return domain.SignalPending
		}
		switch c.Conclusion {
		case "failure", "cancelled", "timed_out":
			return domain.SignalFailure
		case "neutral":
			hasNeutral = true
		case "skipped":
			hasSkipped = true
		case "success":
		default:
			return domain.SignalPending
		}
	}

	if hasNeutral {
		return domain.SignalNeutral
	}
	if hasSkipped {
		return domain.SignalSkipped
	}
	return domain.SignalSuccess
}
