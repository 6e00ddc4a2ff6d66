package domain

import (
	"time"
)

// AllocationState tells the allocator whether a host takes new VMs.
type AllocationState string

const (
	AllocationStateUnprepared AllocationState = "unprepared"
	AllocationStateAccepting  AllocationState = "accepting"
	AllocationStateDraining   AllocationState = "draining"
)

// Host represents a physical hypervisor host.
type Host struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Arch            string          `json:"arch"`
	Location        string          `json:"location"`
	AllocationState AllocationState `json:"allocation_state"`

	// ManagementIP is the host's own IPv4 address. It is never handed to a VM.
	ManagementIP string `json:"management_ip"`
	// Net6 is the IPv6 /64 routed to the host, carved into VM subnets.
	Net6 string `json:"net6"`

	TotalCPUs        int `json:"total_cpus"`
	TotalCores       int `json:"total_cores"`
	UsedCores        int `json:"used_cores"`
	TotalHugepages1G int `json:"total_hugepages_1g"`
	UsedHugepages1G  int `json:"used_hugepages_1g"`

	CreatedAt time.Time `json:"created_at"`
}

// ThreadsPerCore returns the number of CPU threads for each physical core.
func (h *Host) ThreadsPerCore() int {
	if h.TotalCores == 0 {
		return 1
	}
	return h.TotalCPUs / h.TotalCores
}

// AvailableCores returns the cores not yet claimed by VMs or slices.
func (h *Host) AvailableCores() int {
	return h.TotalCores - h.UsedCores
}

// AvailableHugepages1G returns the free 1G hugepages.
func (h *Host) AvailableHugepages1G() int {
	return h.TotalHugepages1G - h.UsedHugepages1G
}

// HostCPU is one logical CPU of a host. A CPU that belongs to a slice, or is
// reserved for the host's own services, is not available.
type HostCPU struct {
	HostID    string `json:"host_id"`
	CPUNumber int    `json:"cpu_number"`
	Available bool   `json:"available"`
	SliceID   string `json:"slice_id,omitempty"`
}
