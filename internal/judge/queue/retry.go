package queue

import (
	"context"
	"errors"
	"time"

	appErr "codeduel/pkg/errors"
)

// ComputeBackoff doubles base per retry and caps the result at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// retryable reports whether err is a judge infrastructure failure worth one more attempt.
// Cancellation and bad input are final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch appErr.GetCode(err) {
	case appErr.JudgeCancelled, appErr.InvalidParams, appErr.LanguageNotSupported, appErr.ValidationFailed:
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
