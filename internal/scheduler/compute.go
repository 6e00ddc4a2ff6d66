package scheduler

import (
	"context"
	"fmt"

	"github.com/limiquantix/allocator/internal/domain"
)

// resourceAllocation is the capability set shared by every sub-allocator.
type resourceAllocation interface {
	// Valid reports whether the request fits this dimension of the candidate.
	Valid() bool
	// Utilization is the fraction of the dimension in use after placement.
	Utilization() float64
}

// hostResource is one host counter (cores or 1G hugepages).
type hostResource struct {
	name      string
	total     int
	used      int
	requested int
}

func newHostResource(name string, total, used, requested int) (*hostResource, error) {
	if used > total {
		return nil, fmt.Errorf("%w: resource '%s' uses more than is available: %d > %d",
			domain.ErrResourceOveruse, name, used, total)
	}
	return &hostResource{name: name, total: total, used: used, requested: requested}, nil
}

func (r *hostResource) Valid() bool {
	return r.requested+r.used <= r.total
}

func (r *hostResource) Utilization() float64 {
	if r.total == 0 {
		return 1
	}
	return float64(r.used+r.requested) / float64(r.total)
}

// computeAllocation places the VM directly on host cores and hugepages.
type computeAllocation struct {
	hostID string
	cores  *hostResource
	memory *hostResource
}

func newComputeAllocation(c *HostCandidate, req *Request) (*computeAllocation, error) {
	cores, err := newHostResource("used_cores", c.TotalCores, c.UsedCores, req.Cores)
	if err != nil {
		return nil, err
	}
	memory, err := newHostResource("used_hugepages_1g", c.TotalHugepages1G, c.UsedHugepages1G, req.MemoryGiB)
	if err != nil {
		return nil, err
	}
	return &computeAllocation{hostID: c.HostID, cores: cores, memory: memory}, nil
}

func (a *computeAllocation) Valid() bool {
	return a.cores.Valid() && a.memory.Valid()
}

// Utilization is the mean of the core and hugepage utilization.
func (a *computeAllocation) Utilization() float64 {
	return mean(a.utilizations())
}

// utilizations returns the per-counter utilization, cores first.
func (a *computeAllocation) utilizations() []float64 {
	return []float64{a.cores.Utilization(), a.memory.Utilization()}
}

// commit charges the host counters. The update re-checks the bounds, so a
// competing allocation that consumed the capacity makes it affect no rows.
func (a *computeAllocation) commit(ctx context.Context, tx Tx) error {
	n, err := tx.IncrementHostUsage(ctx, a.hostID, a.cores.requested, a.memory.requested)
	if err != nil {
		return fmt.Errorf("failed to update host usage: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: host %s no longer has %d cores and %d GiB free",
			domain.ErrConcurrentRace, a.hostID, a.cores.requested, a.memory.requested)
	}
	return nil
}
