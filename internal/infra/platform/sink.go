package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
)

// NotificationSink delivers round instructions as task messages.
// Every message carries its idempotency key so the remote side can be
// queried for prior deliveries.
type NotificationSink struct {
	client *Client
}

// NewNotificationSink creates a NotificationSink.
func NewNotificationSink(client *Client) *NotificationSink {
	return &NotificationSink{client: client}
}

type messageRequest struct {
	Round          int    `json:"round"`
	Body           string `json:"body"`
	Revision       string `json:"revision,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

type messageResponse struct {
	ID string `json:"id"`
}

// Send posts the round message. The platform's message id is the
// delivery confirmation; an empty id means the send is unconfirmed.
func (s *NotificationSink) Send(ctx context.Context, payload dispatch.Payload, key string) (dispatch.Ack, error) {
	req := messageRequest{
		Round:          payload.Round,
		Body:           payload.Instruction,
		Revision:       payload.Revision,
		IdempotencyKey: key,
	}

	var resp messageResponse
	path := fmt.Sprintf("/tasks/%s/messages", url.PathEscape(payload.TaskID))
	if err := s.client.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return dispatch.Ack{}, fmt.Errorf("failed to post round message: %w", err)
	}

	return dispatch.Ack{Key: key, RemoteID: resp.ID}, nil
}

// HasAcked asks the platform whether a message with this idempotency
// key was already delivered.
func (s *NotificationSink) HasAcked(ctx context.Context, key string) (bool, error) {
	var resp struct {
		Found bool   `json:"found"`
		ID    string `json:"id"`
	}
	path := "/messages/lookup?key=" + url.QueryEscape(key)
	if err := s.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, fmt.Errorf("failed to look up message %s: %w", key, err)
	}
	return resp.Found, nil
}
