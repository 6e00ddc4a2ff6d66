package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	k8scpuset "k8s.io/utils/cpuset"

	"github.com/limiquantix/allocator/internal/cpuset"
	"github.com/limiquantix/allocator/internal/domain"
)

// sliceAllocation places the VM inside a CPU slice. It either reuses a shared
// slice with room or carves the CPUs for a new slice out of the host.
//
// It wraps the host counters: they are only checked and charged when a new
// slice is created, since reusing a slice takes nothing more from the host.
type sliceAllocation struct {
	candidate  *HostCandidate
	req        *Request
	compute    *computeAllocation
	target     float64
	overcommit float64

	existing *domain.Slice
	newCPUs  []int
	valid    bool
}

func newSliceAllocation(c *HostCandidate, req *Request, compute *computeAllocation, cfg Config) (*sliceAllocation, error) {
	a := &sliceAllocation{
		candidate:  c,
		req:        req,
		compute:    compute,
		target:     cfg.TargetHostUtilization,
		overcommit: cfg.sliceOvercommit(req.Family),
	}
	valid, err := a.place()
	if err != nil {
		return nil, err
	}
	a.valid = valid
	return a, nil
}

func (a *sliceAllocation) Valid() bool {
	return a.valid
}

// Utilization returns the target utilization when an existing slice is
// reused, which makes reuse the preferred choice in scoring. Otherwise it is
// the mean of the host's core and memory utilization.
func (a *sliceAllocation) Utilization() float64 {
	if a.existing != nil {
		return a.target
	}
	return mean(a.compute.utilizations())
}

func (a *sliceAllocation) place() (bool, error) {
	if a.req.CanShareSlice {
		for _, s := range a.candidate.Slices {
			if !reusableSlice(a.req, s) {
				continue
			}
			if a.existing == nil || s.UsedCPUPercent < a.existing.UsedCPUPercent {
				a.existing = s
			}
		}
		if a.existing != nil {
			return true, nil
		}
	}

	if !a.compute.Valid() {
		return false, nil
	}

	cpus, err := a.pickCPUs()
	if err != nil {
		return false, err
	}
	if cpus == nil {
		return false, nil
	}
	a.newCPUs = cpus

	// the new slice must hold the VM it is created for
	slice, err := a.newSlice(time.Time{})
	if err != nil {
		return false, err
	}
	return slice.HasRoomFor(a.req.CPUPercentLimit, a.req.MemoryGiB), nil
}

// pickCPUs walks the host CPUs in ascending order and takes the first ones
// that are neither unavailable nor claimed by an existing slice. It returns
// nil if the host cannot supply enough.
func (a *sliceAllocation) pickCPUs() ([]int, error) {
	claimed := k8scpuset.New()
	for _, s := range a.candidate.Slices {
		mask, err := cpuset.ToBitmask(s.AllowedCPUs)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", s.ID, err)
		}
		claimed = claimed.Union(cpuset.ToSet(mask))
	}

	var free []int
	for _, cpu := range a.candidate.CPUs {
		if cpu.Available {
			free = append(free, cpu.CPUNumber)
		}
	}
	candidates := k8scpuset.New(free...).Difference(claimed).List()

	need := a.candidate.ThreadsPerCore() * a.req.Cores
	if need <= 0 || len(candidates) < need {
		return nil, nil
	}
	return candidates[:need], nil
}

// AllowedCPUs returns the cpuset of the slice the VM lands in.
func (a *sliceAllocation) AllowedCPUs() string {
	if a.existing != nil {
		return a.existing.AllowedCPUs
	}
	return cpuset.FromBitmask(cpuset.FromCPUs(a.newCPUs...))
}

// commit reuses or creates the slice and returns its id.
func (a *sliceAllocation) commit(ctx context.Context, tx Tx, now time.Time) (string, bool, error) {
	if a.existing != nil {
		if err := a.charge(ctx, tx, a.existing.ID); err != nil {
			return "", false, err
		}
		return a.existing.ID, false, nil
	}

	if len(a.newCPUs) == 0 {
		return "", false, fmt.Errorf("no cpuset was reserved for a new slice on host %s", a.candidate.HostID)
	}

	slice, err := a.newSlice(now)
	if err != nil {
		return "", false, err
	}
	if err := tx.CreateSlice(ctx, slice); err != nil {
		return "", false, fmt.Errorf("failed to create slice: %w", err)
	}

	n, err := tx.ClaimCPUs(ctx, a.candidate.HostID, slice.ID, a.newCPUs)
	if err != nil {
		return "", false, fmt.Errorf("failed to claim cpus: %w", err)
	}
	if n != int64(len(a.newCPUs)) {
		return "", false, fmt.Errorf("%w: claimed %d of cpus %s on host %s",
			domain.ErrConcurrentRace, n, slice.AllowedCPUs, a.candidate.HostID)
	}

	if err := a.compute.commit(ctx, tx); err != nil {
		return "", false, err
	}
	if err := a.charge(ctx, tx, slice.ID); err != nil {
		return "", false, err
	}
	return slice.ID, true, nil
}

func (a *sliceAllocation) charge(ctx context.Context, tx Tx, sliceID string) error {
	n, err := tx.ChargeSlice(ctx, sliceID, a.req.CPUPercentLimit, a.req.MemoryGiB)
	if err != nil {
		return fmt.Errorf("failed to update slice usage: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: slice %s no longer has room for %d%% cpu and %d GiB",
			domain.ErrConcurrentRace, sliceID, a.req.CPUPercentLimit, a.req.MemoryGiB)
	}
	return nil
}

// newSlice builds the record of a slice over the reserved CPUs. The slice
// starts disabled; the slice lifecycle enables it once the cgroup exists.
func (a *sliceAllocation) newSlice(now time.Time) (*domain.Slice, error) {
	mask := cpuset.FromCPUs(a.newCPUs...)
	cpus := cpuset.CountBits(mask)
	if cpus == 0 {
		return nil, fmt.Errorf("%w: bitmask does not set any cpu", domain.ErrMalformedCPUSet)
	}

	vm := a.req.VM
	sliceType := domain.SliceTypeDedicated
	if vm.CanShareSlice {
		sliceType = domain.SliceTypeShared
	}

	cores := cpus / a.candidate.ThreadsPerCore()
	return &domain.Slice{
		ID:              uuid.New().String(),
		Name:            fmt.Sprintf("%s_%s", vm.Family, vm.InhostName()),
		HostID:          a.candidate.HostID,
		Family:          vm.Family,
		Type:            sliceType,
		AllowedCPUs:     cpuset.FromBitmask(mask),
		Cores:           cores,
		TotalCPUPercent: int(math.Floor(float64(cpus*100) * a.overcommit)),
		TotalMemoryGiB:  vm.SliceMemoryGiBRatio() * a.req.Cores,
		CreatedAt:       now,
	}, nil
}
