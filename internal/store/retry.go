package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"telegram-archive/internal/apperrors"
	"telegram-archive/internal/logging"
)

// retryPolicy implements the adapter's exponential backoff schedule:
// initial 100ms, doubling, capped at 2s, up to 5 retries.
const (
	retryInitialDelay = 100 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
	retryMaxAttempts  = 6 // the first try plus 5 retries
)

// WithRetry runs op, retrying on transient storage errors (busy/locked/
// connection lost) with exponential backoff. It never retries a non-transient
// error or a context cancellation.
func WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	delay := retryInitialDelay
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		if attempt > 0 {
			logging.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("retrying storage operation")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
	}
	return apperrors.Wrap(apperrors.ErrTransient, "exhausted retries", lastErr)
}

// transientMarkers are substrings of driver error messages that indicate a
// retryable condition, covering both SQLite ("database is locked", "busy")
// and PostgreSQL (connection reset/dropped) failure text.
var transientMarkers = []string{
	"database is locked",
	"busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many connections",
	"driver: bad connection",
}

// IsTransient reports whether err looks like a transient storage failure that
// is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperrors.ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
