package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
	defaultRetryJitter    = 250 * time.Millisecond
)

// RetryPolicy bounds how often and how long a transient failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Retrier runs an operation under a RetryPolicy. Only transient errors are
// retried; anything else is returned on the spot.
type Retrier struct {
	policy  RetryPolicy
	sleeper func(time.Duration)
	jitter  func(time.Duration) time.Duration
	logger  *slog.Logger
}

// RetrierOption customizes a Retrier.
type RetrierOption func(*Retrier)

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) RetrierOption {
	return func(r *Retrier) {
		r.sleeper = sleeper
	}
}

// WithJitterSource overrides the jitter function. It receives the configured
// jitter bound and returns the jitter to add.
func WithJitterSource(fn func(time.Duration) time.Duration) RetrierOption {
	return func(r *Retrier) {
		r.jitter = fn
	}
}

// WithRetryLogger sets the logger used for retry diagnostics.
func WithRetryLogger(logger *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetrier builds a Retrier, filling unset policy fields with defaults.
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultRetryAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = defaultRetryBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultRetryMaxDelay
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	r := &Retrier{
		policy: policy,
		jitter: randomJitter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. An exhausted budget is reported as ErrProviderFatal
// that also matches ErrProviderTransient and wraps the last error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.delayFor(err, attempt)
		r.logger.Warn("transient provider error, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return Wrap(ErrProviderFatal, op, "retry interrupted", err)
		}
	}
	return fmt.Errorf("%w: %s: %w after %d attempts: %w", ErrProviderFatal, op, ErrProviderTransient, r.policy.MaxAttempts, lastErr)
}

// Backoff returns the delay before the attempt following attempt (1-based),
// without jitter: base * 2^(attempt-1), capped at MaxDelay.
func (r *Retrier) Backoff(attempt int) time.Duration {
	base := r.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > r.policy.MaxDelay/2 {
			return r.policy.MaxDelay
		}
		delay *= 2
	}
	return r.capDelay(delay)
}

func (r *Retrier) delayFor(err error, attempt int) time.Duration {
	var statusErr *ProviderStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return r.capDelay(statusErr.RetryAfter)
	}
	delay := r.Backoff(attempt)
	if r.policy.Jitter > 0 && r.jitter != nil {
		delay += r.jitter(r.policy.Jitter)
	}
	return r.capDelay(delay)
}

func (r *Retrier) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > r.policy.MaxDelay {
		return r.policy.MaxDelay
	}
	return delay
}

func (r *Retrier) sleep(ctx context.Context, delay time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if delay <= 0 {
		return nil
	}
	if r.sleeper != nil {
		r.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound)))
}

var transientSignatures = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"resource_exhausted",
	"overloaded",
	"unavailable",
	"timeout",
	"timed out",
	"temporarily",
	"connection reset",
}

// IsTransient reports whether err is worth retrying: rate limiting,
// temporary unavailability, or a timeout. Cancellation of the caller's
// context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrModelUnsupported) || errors.Is(err, ErrProviderFatal) {
		return false
	}
	if errors.Is(err, ErrProviderTransient) {
		return true
	}

	var statusErr *ProviderStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	// Transport failures are classified by type only. Their text carries the
	// request URL, which says nothing about whether a retry can help.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || isConnectionDrop(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if isConnectionDrop(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func isConnectionDrop(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
