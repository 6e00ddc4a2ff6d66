package scheduler

import (
	"context"
	"fmt"

	"github.com/limiquantix/allocator/internal/domain"
)

// gpuAllocation passes through whole IOMMU groups holding a GPU.
type gpuAllocation struct {
	hostID    string
	requested int
	used      int
	total     int
	groups    []int
}

func newGPUAllocation(c *HostCandidate, req *Request) *gpuAllocation {
	a := &gpuAllocation{
		hostID:    c.HostID,
		requested: req.GPUCount,
		used:      c.NumGPUs - c.AvailableGPUs,
		total:     c.NumGPUs,
	}
	if req.GPUCount > 0 && len(c.AvailableIOMMUGroups) >= req.GPUCount {
		a.groups = append([]int(nil), c.AvailableIOMMUGroups[:req.GPUCount]...)
	}
	return a
}

func (a *gpuAllocation) Valid() bool {
	if a.requested == 0 {
		return true
	}
	return a.used < a.total && len(a.groups) == a.requested
}

func (a *gpuAllocation) Utilization() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.used+1) / float64(a.total)
}

// IOMMUGroups returns the groups that will be assigned.
func (a *gpuAllocation) IOMMUGroups() []int {
	return a.groups
}

func (a *gpuAllocation) commit(ctx context.Context, tx Tx, vmID string) error {
	if a.requested == 0 {
		return nil
	}
	n, err := tx.AssignGPUs(ctx, a.hostID, vmID, a.groups)
	if err != nil {
		return fmt.Errorf("failed to assign gpus: %w", err)
	}
	if n < int64(a.requested) {
		return fmt.Errorf("%w: assigned %d of %d gpus on host %s",
			domain.ErrConcurrentRace, n, a.requested, a.hostID)
	}
	return nil
}
