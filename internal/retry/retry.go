package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// transientPatterns classify an error as likely to succeed on retry.
// Matching is on the error message; the set covers connection failures,
// timeouts, and server-busy status codes across providers.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"network",
	"rate limit",
	"server busy",
	"temporarily unavailable",
	"429",
	"502",
	"503",
	"econnrefused",
	"econnreset",
	"etimedout",
}

// Config controls the backoff schedule.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Retryer re-executes transient failures with deterministic exponential
// backoff: baseDelay * 2^attempt, no jitter. Non-transient failures and
// the final attempt's failure propagate unchanged.
type Retryer struct {
	cfg    Config
	sleep  func(time.Duration)
	logger *zap.Logger
}

// New creates a retryer. Zero config fields get defaults of 3 retries
// and a one-second base delay.
func New(cfg Config, logger *zap.Logger) *Retryer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Retryer{cfg: cfg, sleep: time.Sleep, logger: logger}
}

// SetSleep overrides the delay function for tests.
func (r *Retryer) SetSleep(fn func(time.Duration)) { r.sleep = fn }

// Do runs fn, retrying transient failures up to MaxRetries times.
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	_, err := DoWithResult(ctx, r, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult runs an operation returning a value, retrying transient
// failures with doubling delays.
func DoWithResult[T any](ctx context.Context, r *Retryer, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == r.cfg.MaxRetries {
			return zero, err
		}

		delay := r.cfg.BaseDelay << attempt
		r.logger.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		r.sleep(delay)
	}
	return zero, lastErr
}

// IsTransient reports whether an error matches the transient set.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
