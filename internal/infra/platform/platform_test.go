package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *budget.Gate) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gate := budget.NewGate(budget.DefaultConfig())
	return NewClient(Config{BaseURL: srv.URL, Token: "test-token"}, gate), gate
}

func TestSnapshotMapsChecksToSignal(t *testing.T) {
	tests := []struct {
		name   string
		checks []checkRun
		want   domain.SignalState
	}{
		{"no checks is absence", nil, domain.SignalAbsent},
		{"unfinished check", []checkRun{{Status: "in_progress"}}, domain.SignalPending},
		{"failure wins", []checkRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "completed", Conclusion: "failure"},
		}, domain.SignalFailure},
		{"cancelled blocks", []checkRun{{Status: "completed", Conclusion: "cancelled"}}, domain.SignalFailure},
		{"all success", []checkRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "completed", Conclusion: "success"},
		}, domain.SignalSuccess},
		{"neutral over success", []checkRun{
			{Status: "completed", Conclusion: "success"},
			{Status: "completed", Conclusion: "neutral"},
		}, domain.SignalNeutral},
		{"skipped over success", []checkRun{
			{Status: "completed", Conclusion: "skipped"},
		}, domain.SignalSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/tasks/task-1" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
					t.Errorf("auth header = %q", got)
				}
				json.NewEncoder(w).Encode(taskResponse{
					ID:        "task-1",
					BranchRef: "agent/task-1",
					BaseRef:   "main",
					OptIn:     true,
					Checks:    tt.checks,
				})
			}))

			snap, err := NewSnapshotProvider(client).Snapshot(context.Background(), "task-1")
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			if snap.Upstream != tt.want {
				t.Errorf("signal = %s, want %s", snap.Upstream, tt.want)
			}
		})
	}
}

func TestClientSurfacesHTTPErrorWithRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := NewSnapshotProvider(client).Snapshot(context.Background(), "task-1")
	var httpErr *classify.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", httpErr.Status)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v, want 7s", httpErr.RetryAfter)
	}
	if classify.Classify(err).Category != domain.CategoryTransient {
		t.Errorf("429 must classify as transient")
	}
}

func TestClientObservesQuotaHeaders(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	client, gate := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "12")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		json.NewEncoder(w).Encode(taskResponse{ID: "task-1", OptIn: true})
	}))

	if _, err := NewSnapshotProvider(client).Snapshot(context.Background(), "task-1"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	usage := gate.Usage()
	if usage.Remaining != 12 || usage.Limit != 5000 {
		t.Errorf("usage = %+v, want remaining 12 limit 5000", usage)
	}
	if gate.CanDispatch() {
		t.Error("gate must refuse dispatch with 12 remaining under the default reserve")
	}
}

func TestQuotaEndpoint(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rate_limit" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"remaining": 4900, "limit": 5000, "reset": reset})
	}))

	q, err := client.Quota(context.Background())
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if q.Remaining != 4900 || q.Limit != 5000 {
		t.Errorf("quota = %+v", q)
	}
}

func TestSinkSendAndLookup(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks/task-1/messages":
			var req messageRequest
			json.NewDecoder(r.Body).Decode(&req)
			gotKey = req.IdempotencyKey
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(messageResponse{ID: "msg-42"})
		case "/messages/lookup":
			found := r.URL.Query().Get("key") == "task-1:round:3"
			json.NewEncoder(w).Encode(map[string]any{"found": found, "id": "msg-42"})
		default:
			http.NotFound(w, r)
		}
	}))

	sink := NewNotificationSink(client)
	payload := dispatch.Payload{TaskID: "task-1", Round: 3, Instruction: "continue"}
	ack, err := sink.Send(context.Background(), payload, dispatch.Key("task-1", 3))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack.RemoteID != "msg-42" {
		t.Errorf("remote id = %q, want msg-42", ack.RemoteID)
	}
	if gotKey != "task-1:round:3" {
		t.Errorf("idempotency key = %q", gotKey)
	}

	acked, err := sink.HasAcked(context.Background(), dispatch.Key("task-1", 3))
	if err != nil {
		t.Fatalf("HasAcked: %v", err)
	}
	if !acked {
		t.Error("expected delivered key to be acked")
	}
	acked, err = sink.HasAcked(context.Background(), dispatch.Key("task-1", 4))
	if err != nil {
		t.Fatalf("HasAcked: %v", err)
	}
	if acked {
		t.Error("undelivered key reported as acked")
	}
}
