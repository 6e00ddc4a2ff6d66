package scheduler

import (
	"slices"
	"sort"

	"github.com/limiquantix/allocator/internal/domain"
)

// DeviceCapacity is the capacity of one enabled storage device of a candidate.
type DeviceCapacity struct {
	ID                  string `json:"id"`
	TotalStorageGiB     int    `json:"total_storage_gib"`
	AvailableStorageGiB int    `json:"available_storage_gib"`
}

// HostCandidate is a snapshot of one host that passed the candidate filters,
// carrying everything the sub-allocators need to finish validation.
type HostCandidate struct {
	HostID       string
	Location     string
	Net6         string
	ManagementIP string

	TotalCPUs        int
	TotalCores       int
	UsedCores        int
	TotalHugepages1G int
	UsedHugepages1G  int

	// StorageDevices is ordered by available capacity, smallest first.
	StorageDevices      []DeviceCapacity
	AvailableStorageGiB int
	TotalStorageGiB     int

	TotalIPv4 int
	UsedIPv4  int

	NumGPUs              int
	AvailableGPUs        int
	AvailableIOMMUGroups []int

	ProvisioningCount int

	// SliceCPUAvailable and SliceMemoryAvailable aggregate the free headroom of
	// the host's shared slices that could take the request. Only filled for
	// requests that may share a slice.
	SliceCPUAvailable    int
	SliceMemoryAvailable int

	// Slices and CPUs are only loaded for slice placement.
	Slices []*domain.Slice
	CPUs   []*domain.HostCPU
}

// ThreadsPerCore returns the CPU threads per physical core of the host.
func (c *HostCandidate) ThreadsPerCore() int {
	if c.TotalCores == 0 {
		return 1
	}
	return c.TotalCPUs / c.TotalCores
}

// HostInventory is the raw inventory of one host. Stores that aggregate in
// process feed it to BuildCandidate.
type HostInventory struct {
	Host              *domain.Host
	CPUs              []*domain.HostCPU
	Slices            []*domain.Slice
	StorageDevices    []*domain.StorageDevice
	PCIDevices        []*domain.PCIDevice
	Addresses         []*domain.Address
	AssignedIPv4      int
	BootImages        []*domain.BootImage
	ProvisioningCount int
}

// BuildCandidate applies the candidate filters of req to one host and returns
// the aggregated candidate, or false if the host is filtered out. The filters
// are necessary conditions only; the sub-allocators re-validate.
func BuildCandidate(req *Request, inv *HostInventory) (*HostCandidate, bool) {
	h := inv.Host

	if h.Arch != req.Arch {
		return nil, false
	}
	if len(req.AllocationStateFilter) > 0 && !slices.Contains(req.AllocationStateFilter, h.AllocationState) {
		return nil, false
	}
	if len(req.HostFilter) > 0 && !slices.Contains(req.HostFilter, h.ID) {
		return nil, false
	}
	if slices.Contains(req.HostExclusionFilter, h.ID) {
		return nil, false
	}
	if len(req.LocationFilter) > 0 && !slices.Contains(req.LocationFilter, h.Location) {
		return nil, false
	}
	for _, name := range req.ImageNames() {
		if !hasActivatedImage(inv.BootImages, name) {
			return nil, false
		}
	}

	c := &HostCandidate{
		HostID:            h.ID,
		Location:          h.Location,
		Net6:              h.Net6,
		ManagementIP:      h.ManagementIP,
		TotalCPUs:         h.TotalCPUs,
		TotalCores:        h.TotalCores,
		UsedCores:         h.UsedCores,
		TotalHugepages1G:  h.TotalHugepages1G,
		UsedHugepages1G:   h.UsedHugepages1G,
		ProvisioningCount: inv.ProvisioningCount,
	}

	// Hosts without any routed IPv4 subnet are not candidates, even for
	// IPv6-only VMs. Only addresses a VM can get count towards the total, and
	// the host's own address counts as used.
	hasIPv4 := false
	for _, a := range inv.Addresses {
		if a.IsIPv4() {
			hasIPv4 = true
			c.TotalIPv4 += a.UsableSize()
		}
	}
	if !hasIPv4 {
		return nil, false
	}
	c.UsedIPv4 = inv.AssignedIPv4 + 1
	if req.IPv4Enabled && c.UsedIPv4 >= c.TotalIPv4 {
		return nil, false
	}

	for _, d := range inv.StorageDevices {
		if !d.Enabled {
			continue
		}
		c.StorageDevices = append(c.StorageDevices, DeviceCapacity{
			ID:                  d.ID,
			TotalStorageGiB:     d.TotalStorageGiB,
			AvailableStorageGiB: d.AvailableStorageGiB,
		})
		c.AvailableStorageGiB += d.AvailableStorageGiB
		c.TotalStorageGiB += d.TotalStorageGiB
	}
	if len(c.StorageDevices) < req.MinStorageDevices() || c.AvailableStorageGiB < req.StorageGiB {
		return nil, false
	}
	sortDevices(c.StorageDevices)

	for _, d := range inv.PCIDevices {
		if !d.IsGPU() {
			continue
		}
		c.NumGPUs++
		if !d.IsAssigned() {
			c.AvailableGPUs++
			c.AvailableIOMMUGroups = append(c.AvailableIOMMUGroups, d.IOMMUGroup)
		}
	}
	sort.Ints(c.AvailableIOMMUGroups)
	if req.GPUCount > 0 && c.AvailableGPUs < req.GPUCount {
		return nil, false
	}

	rawFit := h.AvailableHugepages1G() >= req.MemoryGiB && h.AvailableCores() >= req.Cores
	if req.CanShareSlice {
		for _, s := range inv.Slices {
			if reusableSlice(req, s) {
				c.SliceCPUAvailable += s.TotalCPUPercent - s.UsedCPUPercent
				c.SliceMemoryAvailable += s.TotalMemoryGiB - s.UsedMemoryGiB
			}
		}
		if !rawFit && (c.SliceCPUAvailable <= 0 || c.SliceMemoryAvailable <= 0) {
			return nil, false
		}
	} else if !rawFit {
		return nil, false
	}

	if req.UseSlices {
		c.Slices = inv.Slices
		c.CPUs = inv.CPUs
	}
	return c, true
}

// reusableSlice reports whether an existing slice can take the request.
func reusableSlice(req *Request, s *domain.Slice) bool {
	return s.Enabled &&
		s.Type == domain.SliceTypeShared &&
		s.Family == req.Family &&
		s.Cores == req.Cores &&
		s.HasRoomFor(req.CPUPercentLimit, req.MemoryGiB)
}

func hasActivatedImage(images []*domain.BootImage, name string) bool {
	for _, img := range images {
		if img.Name == name && img.IsActivated() {
			return true
		}
	}
	return false
}

// sortDevices orders devices by available capacity, smallest first, so the
// first-fit packer fills partially used devices before empty ones.
func sortDevices(devices []DeviceCapacity) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].AvailableStorageGiB != devices[j].AvailableStorageGiB {
			return devices[i].AvailableStorageGiB < devices[j].AvailableStorageGiB
		}
		return devices[i].ID < devices[j].ID
	})
}
