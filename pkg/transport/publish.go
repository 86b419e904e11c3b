package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/claudio-flowstack/flowstack/pkg/errors"
)

// RetryPolicy controls PublishWithRetry.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetryPolicy retries three times, one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, RetryDelay: time.Second}
}

// PublishJSON encodes v and publishes it with retry.
func PublishJSON(ctx context.Context, conn Conn, subject string, v any, policy RetryPolicy, logger *zap.Logger) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", subject, err)
	}
	return PublishWithRetry(ctx, conn, subject, data, policy, logger)
}

// PublishWithRetry attempts to publish a message with retry logic
func PublishWithRetry(ctx context.Context, conn Conn, subject string, data []byte, policy RetryPolicy, logger *zap.Logger) error {
	if conn == nil || !conn.IsConnected() {
		return sdkerrors.NewError(sdkerrors.CodeConnectionFailed, "cannot publish to "+subject, sdkerrors.ErrNotConnected)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("Retrying publish",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxRetries+1),
				zap.String("subject", subject),
				zap.Duration("retry_delay", policy.RetryDelay),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(policy.RetryDelay):
			}
		}

		err := conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxRetries+1),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}

	return sdkerrors.NewError(sdkerrors.CodePublishFailed,
		fmt.Sprintf("publish failed after %d attempts", policy.MaxRetries+1),
		fmt.Errorf("%w: %v", sdkerrors.ErrPublishFailed, lastErr))
}
