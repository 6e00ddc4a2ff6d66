package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/allocator/internal/domain"
)

func TestGPUAllocation(t *testing.T) {
	c := &HostCandidate{HostID: "h1", NumGPUs: 4, AvailableGPUs: 3, AvailableIOMMUGroups: []int{2, 5, 9}}
	req := testRequest(testVM(), []int{10}, WithGPUCount(2))

	a := newGPUAllocation(c, req)
	require.True(t, a.Valid())
	assert.Equal(t, []int{2, 5}, a.IOMMUGroups())
	assert.InDelta(t, 0.5, a.Utilization(), 1e-9)

	tx := newFakeTx()
	require.NoError(t, a.commit(context.Background(), tx, "vm-1"))
	assert.Equal(t, []int{2, 5}, tx.gpus)
}

func TestGPUAllocation_NotEnough(t *testing.T) {
	c := &HostCandidate{HostID: "h1", NumGPUs: 2, AvailableGPUs: 1, AvailableIOMMUGroups: []int{2}}

	a := newGPUAllocation(c, testRequest(testVM(), []int{10}, WithGPUCount(2)))
	assert.False(t, a.Valid())

	c = &HostCandidate{HostID: "h1", NumGPUs: 2}
	a = newGPUAllocation(c, testRequest(testVM(), []int{10}, WithGPUCount(1)))
	assert.False(t, a.Valid())
}

func TestGPUAllocation_NoneRequested(t *testing.T) {
	c := &HostCandidate{HostID: "h1"}
	a := newGPUAllocation(c, testRequest(testVM(), []int{10}))
	assert.True(t, a.Valid())

	tx := newFakeTx()
	require.NoError(t, a.commit(context.Background(), tx, "vm-1"))
	assert.Empty(t, tx.gpus)
}

func TestGPUAllocation_Race(t *testing.T) {
	c := &HostCandidate{HostID: "h1", NumGPUs: 2, AvailableGPUs: 2, AvailableIOMMUGroups: []int{1, 2}}
	a := newGPUAllocation(c, testRequest(testVM(), []int{10}, WithGPUCount(2)))
	require.True(t, a.Valid())

	tx := newFakeTx()
	tx.rows["AssignGPUs"] = 1
	err := a.commit(context.Background(), tx, "vm-1")
	assert.ErrorIs(t, err, domain.ErrConcurrentRace)
}
