package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/limiquantix/allocator/internal/domain"
)

// Allocation is the tentative placement of a request on one candidate. It
// composes the sub-allocators and is valid only if all of them are.
type Allocation struct {
	candidate *HostCandidate
	req       *Request
	target    float64

	compute *computeAllocation
	slice   *sliceAllocation
	storage *storageAllocation
	gpu     *gpuAllocation

	score float64
}

func newAllocation(c *HostCandidate, req *Request, cfg Config) (*Allocation, error) {
	compute, err := newComputeAllocation(c, req)
	if err != nil {
		return nil, err
	}

	a := &Allocation{
		candidate: c,
		req:       req,
		target:    cfg.TargetHostUtilization,
		compute:   compute,
		storage:   newStorageAllocation(c, req),
		gpu:       newGPUAllocation(c, req),
	}

	if req.UseSlices {
		a.slice, err = newSliceAllocation(c, req, compute, cfg)
		if err != nil {
			return nil, err
		}
	}

	if a.Valid() {
		a.score = hostScore(c, req, a.utilizations(), cfg.TargetHostUtilization)
	}
	return a, nil
}

// HostID returns the id of the candidate host.
func (a *Allocation) HostID() string {
	return a.candidate.HostID
}

// Score returns the allocation's score. Lower is better.
func (a *Allocation) Score() float64 {
	return a.score
}

func (a *Allocation) cpuAllocation() resourceAllocation {
	if a.slice != nil {
		return a.slice
	}
	return a.compute
}

// Valid reports whether every sub-allocation fits.
func (a *Allocation) Valid() bool {
	return a.cpuAllocation().Valid() && a.storage.Valid() && a.gpu.Valid()
}

func (a *Allocation) utilizations() []float64 {
	var utils []float64
	if a.slice != nil {
		utils = append(utils, a.slice.Utilization())
	} else {
		utils = append(utils, a.compute.utilizations()...)
	}
	utils = append(utils, a.storage.Utilization())
	if a.req.GPUCount > 0 {
		utils = append(utils, a.gpu.Utilization())
	}
	return utils
}

// commit persists the allocation in tx. Any error leaves tx to be rolled back.
func (a *Allocation) commit(ctx context.Context, tx Tx, keys keyGenerator, rnd Rand, now time.Time) (*Placement, error) {
	vm := a.req.VM

	network, err := assignNetwork(ctx, tx, a.candidate, a.req, rnd)
	if err != nil {
		return nil, err
	}

	p := &Placement{
		VMID:          vm.ID,
		HostID:        a.candidate.HostID,
		IPv4:          network.IPv4,
		EphemeralNet6: network.EphemeralNet6,
		LocalVethoIP:  network.LocalVethoIP,
		Score:         a.score,
	}

	if a.slice != nil {
		sliceID, created, err := a.slice.commit(ctx, tx, now)
		if err != nil {
			return nil, err
		}
		p.SliceID, p.SliceCreated = sliceID, created
		p.AllowedCPUs = a.slice.AllowedCPUs()
	} else if err := a.compute.commit(ctx, tx); err != nil {
		return nil, err
	}

	if err := a.gpu.commit(ctx, tx, vm.ID); err != nil {
		return nil, err
	}
	p.GPUIOMMUGroups = a.gpu.IOMMUGroups()

	volumes, err := a.storage.commit(ctx, tx, keys, rnd)
	if err != nil {
		return nil, err
	}
	p.Volumes = volumes

	placed := *vm
	placed.HostID = a.candidate.HostID
	placed.SliceID = p.SliceID
	placed.EphemeralNet6 = network.EphemeralNet6
	placed.LocalVethoIP = network.LocalVethoIP
	placed.AllocatedAt = &now
	if err := tx.UpdateVMPlacement(ctx, &placed); err != nil {
		return nil, fmt.Errorf("failed to update vm placement: %w", err)
	}

	p.Summary = a.String()
	return p, nil
}

// String summarizes the allocation for logs.
func (a *Allocation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host %s score %.3f", a.candidate.HostID, a.score)
	if a.slice != nil {
		if a.slice.existing != nil {
			fmt.Fprintf(&b, ", slice %s", a.slice.existing.Name)
		} else {
			fmt.Fprintf(&b, ", new slice cpus %s", a.slice.AllowedCPUs())
		}
	}
	fmt.Fprintf(&b, ", cores %d/%d, hugepages %d/%d GiB",
		a.compute.cores.used+a.compute.cores.requested, a.compute.cores.total,
		a.compute.memory.used+a.compute.memory.requested, a.compute.memory.total)
	for _, vol := range a.req.Volumes {
		fmt.Fprintf(&b, ", disk %d (%d GiB) on %s", vol.DiskIndex, vol.SizeGiB, a.storage.DeviceFor(vol.DiskIndex))
	}
	if groups := a.gpu.IOMMUGroups(); len(groups) > 0 {
		fmt.Fprintf(&b, ", iommu groups %v", groups)
	}
	return b.String()
}

// Placement is the result of a committed allocation.
type Placement struct {
	VMID           string                  `json:"vm_id"`
	HostID         string                  `json:"host_id"`
	SliceID        string                  `json:"slice_id,omitempty"`
	SliceCreated   bool                    `json:"slice_created,omitempty"`
	AllowedCPUs    string                  `json:"allowed_cpus,omitempty"`
	IPv4           string                  `json:"ipv4,omitempty"`
	EphemeralNet6  string                  `json:"ephemeral_net6,omitempty"`
	LocalVethoIP   string                  `json:"local_vetho_ip"`
	Volumes        []*domain.StorageVolume `json:"volumes"`
	GPUIOMMUGroups []int                   `json:"gpu_iommu_groups,omitempty"`
	Score          float64                 `json:"score"`
	Summary        string                  `json:"summary"`
}
