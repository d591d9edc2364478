// Package platform talks to the task platform's REST API: task
// snapshots for guardrail evaluation, round notifications, and quota.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
)

// Config holds platform API configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client is a thin REST client. Failures surface as *classify.HTTPError
// so the retry and classification layers see status and Retry-After.
type Client struct {
	cfg        Config
	httpClient *http.Client
	gate       *budget.Gate
}

// NewClient creates a Client. The gate may be nil when quota
// observations are not needed (tests).
func NewClient(cfg Config, gate *budget.Gate) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate: gate,
	}
}

// do executes one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &classify.NetworkError{Code: "request", Err: err}
	}
	defer resp.Body.Close()

	c.observeQuota(resp.Header)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &classify.NetworkError{Code: "read-body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &classify.HTTPError{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: retryAfter(resp.Header),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// Quota fetches the current API quota explicitly.
func (c *Client) Quota(ctx context.Context) (domain.Quota, error) {
	var resp struct {
		Remaining int   `json:"remaining"`
		Limit     int   `json:"limit"`
		ResetUnix int64 `json:"reset"`
	}
	if err := c.do(ctx, http.MethodGet, "/rate_limit", nil, &resp); err != nil {
		return domain.Quota{}, err
	}
	q := domain.Quota{
		Remaining: resp.Remaining,
		Limit:     resp.Limit,
		ResetAt:   time.Unix(resp.ResetUnix, 0),
	}
	if c.gate != nil {
		c.gate.Observe(q)
	}
	return q, nil
}

// observeQuota feeds rate-limit headers to the budget gate. Every
// response carries them, so the gate tracks quota without extra calls.
func (c *Client) observeQuota(h http.Header) {
	if c.gate == nil {
		return
	}
	remaining, err1 := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	limit, err2 := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err1 != nil || err2 != nil {
		return
	}
	q := domain.Quota{Remaining: remaining, Limit: limit}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		q.ResetAt = time.Unix(reset, 0)
	}
	c.gate.Observe(q)
}

func retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
