// Package retryutil retries fire-and-forget side effects, like usage
// reporting, without blocking the caller.
package retryutil

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultRetryDelay   = 2 * time.Second
	defaultRetryTimeout = 12 * time.Second
	maxAttempts         = 3
)

// AsyncRetry runs fn in the background after delay, retrying up to three
// attempts within timeout. Outcomes are logged under the given event name.
func AsyncRetry(logger *slog.Logger, name string, delay, timeout time.Duration, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = defaultRetryTimeout
	}
	if logger != nil {
		logger.Info(name+"_retry_scheduled", "delay", delay.String(), "timeout", timeout.String())
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if logger != nil {
					logger.Warn(name+"_retry_timeout", "attempts", attempt-1)
				}
				return
			}
			if lastErr = fn(ctx); lastErr == nil {
				if logger != nil {
					logger.Info(name+"_retry_ok", "attempt", attempt)
				}
				return
			}
		}
		if logger != nil {
			logger.Warn(name+"_retry_failed", "error", lastErr.Error())
		}
	}()
}
