package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

// requestFile is the JSON document accepted by -request.
type requestFile struct {
	VMID                   string                   `json:"vm_id"`
	Volumes                []scheduler.VolumeSpec   `json:"volumes"`
	DistinctStorageDevices bool                     `json:"distinct_storage_devices"`
	GPUCount               int                      `json:"gpu_count"`
	AllocationStateFilter  []domain.AllocationState `json:"allocation_state_filter"`
	HostFilter             []string                 `json:"host_filter"`
	HostExclusionFilter    []string                 `json:"host_exclusion_filter"`
	LocationFilter         []string                 `json:"location_filter"`
	LocationPreference     []string                 `json:"location_preference"`
}

func readRequestFile(path string) (*requestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	var rf requestFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}
	if rf.VMID == "" {
		return nil, fmt.Errorf("%w: vm_id is required", domain.ErrInvalidArgument)
	}
	return &rf, nil
}

// options translates the optional request fields into request options.
func (rf *requestFile) options() []scheduler.RequestOption {
	var opts []scheduler.RequestOption
	if rf.DistinctStorageDevices {
		opts = append(opts, scheduler.WithDistinctStorageDevices())
	}
	if rf.GPUCount > 0 {
		opts = append(opts, scheduler.WithGPUCount(rf.GPUCount))
	}
	if len(rf.AllocationStateFilter) > 0 {
		opts = append(opts, scheduler.WithAllocationStateFilter(rf.AllocationStateFilter...))
	}
	if len(rf.HostFilter) > 0 {
		opts = append(opts, scheduler.WithHostFilter(rf.HostFilter...))
	}
	if len(rf.HostExclusionFilter) > 0 {
		opts = append(opts, scheduler.WithHostExclusionFilter(rf.HostExclusionFilter...))
	}
	if len(rf.LocationFilter) > 0 {
		opts = append(opts, scheduler.WithLocationFilter(rf.LocationFilter...))
	}
	if len(rf.LocationPreference) > 0 {
		opts = append(opts, scheduler.WithLocationPreference(rf.LocationPreference...))
	}
	return opts
}

func (rf *requestFile) build(vm *domain.VirtualMachine) (*scheduler.Request, error) {
	return scheduler.NewRequest(vm, rf.Volumes, rf.options()...)
}
