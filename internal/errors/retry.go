package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"murmur/internal/logging"
)

// RetryConfig configures the bounded retry loop.
type RetryConfig struct {
	MaxAttempts  int           // retry attempts after the first try
	BaseDelay    time.Duration // base delay for exponential backoff
	MaxDelay     time.Duration // ceiling for any single delay
	JitterFactor float64       // 0.25 means ±25%
}

// DefaultRetryConfig returns the defaults used by the orchestrator.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is one attempt of a retryable operation.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with an explicit bounded loop carrying the attempt
// counter. Permanent errors and context cancellation stop the loop early;
// only the orchestrator calls this, individual stages never loop.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn RetryableFunc) error {
	logger = logging.OrNop(logger)

	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded on attempt %d/%d", attempt+1, config.MaxAttempts+1)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			logger.Debug("error is not transient, stopping retries: %v", err)
			return err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("retries exhausted after %d attempts", config.MaxAttempts+1)
			break
		}

		delay := backoffDelay(attempt, config)
		logger.Debug("attempt %d failed (%v), waiting %v", attempt+1, err, delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(attempt int, config RetryConfig) time.Duration {
	base := config.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * config.JitterFactor * float64(delay)
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
