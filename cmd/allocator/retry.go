package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/scheduler"
)

type allocateFunc func(ctx context.Context, req *scheduler.Request) (*scheduler.Placement, error)

// allocateWithRetry re-runs allocation from scratch while the failure is a
// lost race, sleeping backoff*attempt between tries.
func allocateWithRetry(
	ctx context.Context,
	allocate allocateFunc,
	req *scheduler.Request,
	attempts int,
	backoff time.Duration,
	logger *zap.Logger,
) (*scheduler.Placement, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		placement, err := allocate(ctx, req)
		if err == nil {
			return placement, nil
		}
		lastErr = err
		if !scheduler.IsRetryable(err) || attempt == attempts {
			break
		}

		wait := backoff * time.Duration(attempt)
		logger.Warn("Allocation lost a race, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
