package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/allocator/internal/domain"
)

func TestComputeAllocation(t *testing.T) {
	c := &HostCandidate{HostID: "h1", TotalCores: 8, UsedCores: 3, TotalHugepages1G: 64, UsedHugepages1G: 24}
	a, err := newComputeAllocation(c, testRequest(testVM(), []int{10}))
	require.NoError(t, err)

	assert.True(t, a.Valid())
	assert.Equal(t, []float64{0.5, 0.5}, a.utilizations())
	assert.InDelta(t, 0.5, a.Utilization(), 1e-9)

	var ra resourceAllocation = a
	assert.True(t, ra.Valid())

	alloc := &Allocation{candidate: c, compute: a}
	assert.Same(t, a, alloc.cpuAllocation())
}

func TestComputeAllocation_Full(t *testing.T) {
	c := &HostCandidate{HostID: "h1", TotalCores: 8, UsedCores: 8, TotalHugepages1G: 64}
	a, err := newComputeAllocation(c, testRequest(testVM(), []int{10}))
	require.NoError(t, err)
	assert.False(t, a.Valid())

	c.UsedCores = 9
	_, err = newComputeAllocation(c, testRequest(testVM(), []int{10}))
	assert.ErrorIs(t, err, domain.ErrResourceOveruse)
}

func TestComputeAllocation_CommitRace(t *testing.T) {
	c := &HostCandidate{HostID: "h1", TotalCores: 8, TotalHugepages1G: 64}
	a, err := newComputeAllocation(c, testRequest(testVM(), []int{10}))
	require.NoError(t, err)

	tx := newFakeTx()
	tx.rows["IncrementHostUsage"] = 0
	assert.ErrorIs(t, a.commit(context.Background(), tx), domain.ErrConcurrentRace)
}
