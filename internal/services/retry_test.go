package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"
)

func noJitter(time.Duration) time.Duration { return 0 }

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

type countingProvider struct {
	calls  int
	err    error
	result *ExtractionResult
}

func (p *countingProvider) ExtractItems(ctx context.Context, images [][]byte, hint string) (*ExtractionResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func TestRetryingProviderStopsAtMaxAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		WithSleeper(rec.sleep), WithJitterSource(noJitter))
	inner := &countingProvider{err: &ProviderStatusError{Model: "m", StatusCode: 503, Body: "overloaded"}}

	_, err := NewRetryingProvider(inner, retrier).ExtractItems(context.Background(), [][]byte{{1}}, "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if inner.calls != 4 {
		t.Fatalf("expected 4 calls, got %d", inner.calls)
	}
	if !errors.Is(err, ErrProviderFatal) {
		t.Fatalf("expected fatal-class error, got %v", err)
	}
	if ErrorCode(err) != "provider_unavailable" {
		t.Fatalf("expected provider_unavailable code, got %s", ErrorCode(err))
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if fmt.Sprint(rec.delays) != fmt.Sprint(want) {
		t.Fatalf("expected delays %v, got %v", want, rec.delays)
	}
}

func TestRetryingProviderDoesNotRetryFatal(t *testing.T) {
	rec := &sleepRecorder{}
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 3}, WithSleeper(rec.sleep))
	inner := &countingProvider{err: &ProviderStatusError{Model: "m", StatusCode: 401, Body: "invalid api key"}}

	_, err := NewRetryingProvider(inner, retrier).ExtractItems(context.Background(), [][]byte{{1}}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single call, got %d", inner.calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", rec.delays)
	}
}

func TestRetrierRecoversAfterTransient(t *testing.T) {
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		WithSleeper(func(time.Duration) {}))
	calls := 0
	err := retrier.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetrierHonorsRetryAfter(t *testing.T) {
	rec := &sleepRecorder{}
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second},
		WithSleeper(rec.sleep), WithJitterSource(noJitter))
	_ = retrier.Do(context.Background(), "test", func(ctx context.Context) error {
		return &ProviderStatusError{StatusCode: 429, RetryAfter: 3 * time.Second}
	})
	if len(rec.delays) != 1 || rec.delays[0] != 3*time.Second {
		t.Fatalf("expected one 3s delay, got %v", rec.delays)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 8, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second})
	cases := map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: time.Second,
		3: 2 * time.Second,
		5: 8 * time.Second,
		9: 8 * time.Second,
	}
	for attempt, want := range cases {
		if got := retrier.Backoff(attempt); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit status", &ProviderStatusError{StatusCode: 429}, true},
		{"server error", &ProviderStatusError{StatusCode: 502}, true},
		{"bad request", &ProviderStatusError{StatusCode: 400, Body: "timeout field invalid"}, false},
		{"signature", errors.New("upstream temporarily unavailable"), true},
		{"cancelled", context.Canceled, false},
		{"model unsupported", fmt.Errorf("%w: gone", ErrModelUnsupported), false},
		{"marker", Wrap(ErrProviderTransient, "op", "", nil), true},
		{"exhausted", fmt.Errorf("%w: %w", ErrProviderFatal, ErrProviderTransient), false},
		{"plain", errors.New("invalid json"), false},
		{"bad scheme", &url.Error{Op: "Post", URL: "htp://timeout.example/v1", Err: errors.New(`unsupported protocol scheme "htp"`)}, false},
		{"unknown host", &url.Error{Op: "Post", URL: "https://vision.invalid/v1", Err: &net.DNSError{Err: "no such host", Name: "vision.invalid"}}, false},
		{"dial timeout", &url.Error{Op: "Post", URL: "https://vision.example/v1", Err: &net.DNSError{Err: "i/o", Name: "vision.example", IsTimeout: true}}, true},
		{"connection reset", &url.Error{Op: "Post", URL: "https://vision.example/v1", Err: syscall.ECONNRESET}, true},
		{"rejected status", fmt.Errorf("%w: %w", ErrProviderFatal, &ProviderStatusError{StatusCode: 401}), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetrierStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond})
	calls := 0
	err := retrier.Do(ctx, "test", func(ctx context.Context) error {
		calls++
		cancel()
		return &ProviderStatusError{StatusCode: 503}
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface, got %v", err)
	}
}
