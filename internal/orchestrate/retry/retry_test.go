package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/orchestrate/classify"
)

func newTestExecutor(attempts int) (*Executor, *[]time.Duration) {
	e := NewExecutor(Config{
		Attempts:  map[Class]int{ClassRead: attempts, ClassPublish: attempts, ClassDispatch: attempts},
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  100 * time.Millisecond,
	})
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e, slept := newTestExecutor(5)

	calls := 0
	err := e.Do(context.Background(), ClassRead, "fetch", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d, sleeps = %d, want 1 and 0", calls, len(*slept))
	}
}

func TestDoTransientRetryThenSuccess(t *testing.T) {
	e, slept := newTestExecutor(5)

	calls := 0
	err := e.Do(context.Background(), ClassRead, "fetch", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &classify.HTTPError{Status: 429, Body: "rate limited"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(*slept) != 1 {
		t.Errorf("sleeps = %d, want 1", len(*slept))
	}
}

func TestDoNonTransientNotRetried(t *testing.T) {
	categories := []struct {
		name string
		err  error
		want domain.FailureCategory
	}{
		{"auth", &classify.HTTPError{Status: 403, Body: "forbidden"}, domain.CategoryAuth},
		{"resource", &classify.HTTPError{Status: 404, Body: "gone"}, domain.CategoryResource},
		{"logic", &classify.HTTPError{Status: 422, Body: "invalid"}, domain.CategoryLogic},
		{"unknown", errors.New("mystery"), domain.CategoryUnknown},
	}

	for _, tt := range categories {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestExecutor(5)
			calls := 0
			err := e.Do(context.Background(), ClassPublish, "push", func(ctx context.Context) error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (no auto-retry)", calls)
			}
			var ce *classify.ClassifiedError
			if !errors.As(err, &ce) || ce.Category != tt.want {
				t.Errorf("error = %v, want category %s", err, tt.want)
			}
		})
	}
}

func TestDoAttemptCapEnforced(t *testing.T) {
	e, slept := newTestExecutor(3)

	calls := 0
	err := e.Do(context.Background(), ClassDispatch, "send", func(ctx context.Context) error {
		calls++
		return &classify.HTTPError{Status: 429}
	})
	if calls != 3 {
		t.Errorf("calls = %d, want exactly 3", calls)
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2 (no sleep after final attempt)", len(*slept))
	}
	var ce *classify.ClassifiedError
	if !errors.As(err, &ce) || ce.Category != domain.CategoryTransient {
		t.Errorf("error = %v, want transient classification", err)
	}
}

func TestDoExponentialBackoff(t *testing.T) {
	e, slept := newTestExecutor(4)
	e.cfg.Jitter = 0

	_ = e.Do(context.Background(), ClassRead, "fetch", func(ctx context.Context) error {
		return &classify.NetworkError{Code: "timeout", Err: errors.New("i/o timeout")}
	})

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestDoRetryAfterOverridesBackoff(t *testing.T) {
	e, slept := newTestExecutor(2)

	calls := 0
	_ = e.Do(context.Background(), ClassRead, "fetch", func(ctx context.Context) error {
		calls++
		return &classify.HTTPError{Status: 429, RetryAfter: 5 * time.Second}
	})
	if len(*slept) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(*slept))
	}
	if (*slept)[0] != 5*time.Second {
		t.Errorf("delay = %v, want the instructed 5s", (*slept)[0])
	}
}

func TestDoContextCancelledDuringSleep(t *testing.T) {
	e := NewExecutor(Config{
		Attempts:  map[Class]int{ClassRead: 5},
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := e.Do(ctx, ClassRead, "fetch", func(ctx context.Context) error {
		calls++
		return &classify.HTTPError{Status: 429}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (abort during first sleep)", calls)
	}
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in chain", err)
	}
}

func TestDoUnknownClassUsesFallbackCap(t *testing.T) {
	e, _ := newTestExecutor(0) // zero caps everywhere
	calls := 0
	_ = e.Do(context.Background(), Class("exotic"), "op", func(ctx context.Context) error {
		calls++
		return &classify.HTTPError{Status: 429}
	})
	if calls != fallbackAttempts {
		t.Errorf("calls = %d, want fallback cap %d", calls, fallbackAttempts)
	}
}
