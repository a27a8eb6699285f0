package worker

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// retry runs fn up to maxAttempts times with jittered exponential backoff
// starting at baseDelay. Each failed attempt is logged under op.
func retry(ctx context.Context, logger *zap.Logger, op string, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		logger.Warn("sink operation failed",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Error(lastErr))
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		wait := delay
		if half := int64(delay / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
		delay *= 2
	}
	return lastErr
}
