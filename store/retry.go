package store

import (
	"context"
	"errors"
	"time"

	"github.com/jacentio/lattice/errs"
	"github.com/jacentio/lattice/metrics"
)

// withRetry runs a driver call with bounded retries and exponential
// backoff. Coded errors (not-found, unique conflict, validation) are
// permanent and returned as-is; only unrecognized errors are treated as
// transient. Attempts used per success are recorded for observability.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.config.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			metrics.DriverAttempts.WithLabelValues(op).Observe(float64(attempt))
			if attempt > 1 {
				s.logger.Info("driver operation succeeded after retry",
					"op", op,
					"attempts", attempt,
				)
			}
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == s.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return errs.Wrap(lastErr, errs.CodeStorageFailed, "%s failed after %d attempts", op, s.config.MaxAttempts)
}

// isTransient reports whether an error is worth retrying. Typed domain
// errors are deterministic; everything else is assumed to be a backend
// hiccup.
func isTransient(err error) bool {
	var coded *errs.Error
	return !errors.As(err, &coded)
}
