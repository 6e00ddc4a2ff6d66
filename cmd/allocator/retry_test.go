package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

func scripted(errs ...error) (allocateFunc, *int) {
	calls := 0
	return func(ctx context.Context, req *scheduler.Request) (*scheduler.Placement, error) {
		calls++
		if calls <= len(errs) && errs[calls-1] != nil {
			return nil, errs[calls-1]
		}
		return &scheduler.Placement{VMID: "vm-1", HostID: "h1"}, nil
	}, &calls
}

func raceError() error {
	return &scheduler.AllocationError{
		Kind: scheduler.KindConcurrentRace,
		Err:  fmt.Errorf("%w: cpus moved", domain.ErrConcurrentRace),
	}
}

func TestAllocateWithRetry(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("retries races", func(t *testing.T) {
		allocate, calls := scripted(raceError(), raceError())
		placement, err := allocateWithRetry(ctx, allocate, nil, 3, 0, logger)
		require.NoError(t, err)
		assert.Equal(t, "h1", placement.HostID)
		assert.Equal(t, 3, *calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		allocate, calls := scripted(raceError(), raceError())
		_, err := allocateWithRetry(ctx, allocate, nil, 2, 0, logger)
		require.Error(t, err)
		assert.True(t, scheduler.IsRetryable(err))
		assert.Equal(t, 2, *calls)
	})

	t.Run("does not retry hard failures", func(t *testing.T) {
		noHost := &scheduler.AllocationError{Kind: scheduler.KindNoEligibleHost, Err: domain.ErrNoEligibleHost}
		allocate, calls := scripted(noHost)
		_, err := allocateWithRetry(ctx, allocate, nil, 3, 0, logger)
		assert.ErrorIs(t, err, domain.ErrNoEligibleHost)
		assert.Equal(t, 1, *calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		allocate, _ := scripted(raceError())
		_, err := allocateWithRetry(cctx, allocate, nil, 3, time.Second, logger)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
