package domain

import (
	"strings"
	"time"
)

// VMDisplayState is the user-visible lifecycle state of a VM.
type VMDisplayState string

const (
	VMDisplayStateCreating VMDisplayState = "creating"
	VMDisplayStateRunning  VMDisplayState = "running"
	VMDisplayStateDeleting VMDisplayState = "deleting"
)

// VirtualMachine holds the VM attributes the allocator reads and the
// placement fields it writes.
type VirtualMachine struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Family       string         `json:"family"`
	Arch         string         `json:"arch"`
	BootImage    string         `json:"boot_image"`
	DisplayState VMDisplayState `json:"display_state"`

	Cores           int `json:"cores"`
	CPUPercentLimit int `json:"cpu_percent_limit"`
	MemoryGiB       int `json:"memory_gib"`
	// MemoryGiBRatio is the memory granted per core when a slice is sized
	// for this VM's family. Zero means MemoryGiB / Cores, rounded up.
	MemoryGiBRatio int `json:"memory_gib_ratio"`

	IPv4Enabled bool `json:"ip4_enabled"`
	// UseSlices places the VM in a CPU slice instead of on raw host cores.
	UseSlices bool `json:"use_slices"`
	// CanShareSlice allows the VM to run in a shared slice with VMs of the same family.
	CanShareSlice bool `json:"can_share_slice"`

	HostID        string     `json:"host_id,omitempty"`
	SliceID       string     `json:"slice_id,omitempty"`
	EphemeralNet6 string     `json:"ephemeral_net6,omitempty"`
	LocalVethoIP  string     `json:"local_vetho_ip,omitempty"`
	AllocatedAt   *time.Time `json:"allocated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// InhostName returns the name of the VM's resources on the host.
func (vm *VirtualMachine) InhostName() string {
	id := strings.ReplaceAll(vm.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "vm" + id
}

// SliceMemoryGiBRatio returns the memory per core used to size a new slice.
func (vm *VirtualMachine) SliceMemoryGiBRatio() int {
	if vm.MemoryGiBRatio > 0 {
		return vm.MemoryGiBRatio
	}
	if vm.Cores == 0 {
		return vm.MemoryGiB
	}
	return (vm.MemoryGiB + vm.Cores - 1) / vm.Cores
}

// IsAllocated returns true once a host has been assigned.
func (vm *VirtualMachine) IsAllocated() bool {
	return vm.HostID != ""
}
