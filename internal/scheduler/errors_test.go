package scheduler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/allocator/internal/domain"
)

func TestWrapError(t *testing.T) {
	tests := []struct {
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{err: fmt.Errorf("%w: cpus", domain.ErrConcurrentRace), kind: KindConcurrentRace, retryable: true},
		{err: domain.ErrNoEligibleHost, kind: KindNoEligibleHost},
		{err: fmt.Errorf("slice s1: %w", domain.ErrMalformedCPUSet), kind: KindMalformedCPUSet},
		{err: domain.ErrInsufficientWeight, kind: KindInsufficientWeight},
		{err: domain.ErrResourceOveruse, kind: KindResourceOveruse},
		{err: domain.ErrInvalidArgument, kind: KindInvalidRequest},
		{err: errors.New("connection refused"), kind: KindInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := wrapError(tt.err)

			var ae *AllocationError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.kind, ae.Kind)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Same(t, err, wrapError(err))
		})
	}

	assert.NoError(t, wrapError(nil))
	assert.False(t, IsRetryable(domain.ErrConcurrentRace), "only allocation errors are classified")
}
