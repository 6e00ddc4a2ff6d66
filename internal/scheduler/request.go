package scheduler

import (
	"fmt"
	"sort"

	"github.com/limiquantix/allocator/internal/domain"
)

// VolumeSpec describes one requested storage volume.
type VolumeSpec struct {
	SizeGiB   int    `json:"size_gib"`
	Boot      bool   `json:"boot"`
	ReadOnly  bool   `json:"read_only"`
	Image     string `json:"image,omitempty"`
	Encrypted bool   `json:"encrypted"`
	SkipSync  bool   `json:"skip_sync"`

	MaxIOPS              *int `json:"max_ios_per_sec,omitempty"`
	MaxReadMBytesPerSec  *int `json:"max_read_mbytes_per_sec,omitempty"`
	MaxWriteMBytesPerSec *int `json:"max_write_mbytes_per_sec,omitempty"`
}

// IndexedVolume is a volume together with its disk index in the VM.
type IndexedVolume struct {
	DiskIndex int
	VolumeSpec
}

// Request is an immutable placement request for one VM.
type Request struct {
	VM *domain.VirtualMachine

	Cores           int
	CPUPercentLimit int
	MemoryGiB       int
	Arch            string
	BootImage       string
	Family          string

	// StorageGiB is the sum of all volume sizes.
	StorageGiB int
	// Volumes is sorted by size, largest first.
	Volumes []IndexedVolume

	DistinctStorageDevices bool
	GPUCount               int
	IPv4Enabled            bool
	UseSlices              bool
	CanShareSlice          bool

	AllocationStateFilter []domain.AllocationState
	HostFilter            []string
	HostExclusionFilter   []string
	LocationFilter        []string
	LocationPreference    []string
}

// RequestOption customizes a Request.
type RequestOption func(*Request)

// WithDistinctStorageDevices requires every volume on a different device.
func WithDistinctStorageDevices() RequestOption {
	return func(r *Request) { r.DistinctStorageDevices = true }
}

// WithGPUCount requests GPUs.
func WithGPUCount(n int) RequestOption {
	return func(r *Request) { r.GPUCount = n }
}

// WithAllocationStateFilter replaces the default "accepting" host state filter.
func WithAllocationStateFilter(states ...domain.AllocationState) RequestOption {
	return func(r *Request) { r.AllocationStateFilter = states }
}

// WithHostFilter restricts placement to the given hosts.
func WithHostFilter(ids ...string) RequestOption {
	return func(r *Request) { r.HostFilter = ids }
}

// WithHostExclusionFilter keeps the VM off the given hosts.
func WithHostExclusionFilter(ids ...string) RequestOption {
	return func(r *Request) { r.HostExclusionFilter = ids }
}

// WithLocationFilter restricts placement to the given locations.
func WithLocationFilter(locations ...string) RequestOption {
	return func(r *Request) { r.LocationFilter = locations }
}

// WithLocationPreference prefers, without requiring, the given locations.
func WithLocationPreference(locations ...string) RequestOption {
	return func(r *Request) { r.LocationPreference = locations }
}

// NewRequest builds a placement request for vm and validates it.
func NewRequest(vm *domain.VirtualMachine, volumes []VolumeSpec, opts ...RequestOption) (*Request, error) {
	if vm == nil {
		return nil, fmt.Errorf("%w: vm is required", domain.ErrInvalidArgument)
	}

	r := &Request{
		VM:                    vm,
		Cores:                 vm.Cores,
		CPUPercentLimit:       vm.CPUPercentLimit,
		MemoryGiB:             vm.MemoryGiB,
		Arch:                  vm.Arch,
		BootImage:             vm.BootImage,
		Family:                vm.Family,
		IPv4Enabled:           vm.IPv4Enabled,
		UseSlices:             vm.UseSlices,
		CanShareSlice:         vm.UseSlices && vm.CanShareSlice,
		AllocationStateFilter: []domain.AllocationState{domain.AllocationStateAccepting},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Volumes = make([]IndexedVolume, len(volumes))
	for i, v := range volumes {
		r.Volumes[i] = IndexedVolume{DiskIndex: i, VolumeSpec: v}
		r.StorageGiB += v.SizeGiB
	}
	sort.SliceStable(r.Volumes, func(i, j int) bool {
		return r.Volumes[i].SizeGiB > r.Volumes[j].SizeGiB
	})

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: "+format, append([]interface{}{domain.ErrInvalidArgument}, args...)...)
	}

	switch {
	case r.VM.ID == "":
		return invalid("vm id is required")
	case r.Cores <= 0:
		return invalid("cores must be positive, got %d", r.Cores)
	case r.MemoryGiB <= 0:
		return invalid("memory must be positive, got %d GiB", r.MemoryGiB)
	case r.Arch == "":
		return invalid("architecture is required")
	case r.BootImage == "":
		return invalid("boot image is required")
	case r.GPUCount < 0:
		return invalid("gpu count must not be negative, got %d", r.GPUCount)
	case r.UseSlices && r.CPUPercentLimit <= 0:
		return invalid("cpu percent limit must be positive for slice placement, got %d", r.CPUPercentLimit)
	case r.UseSlices && r.Family == "":
		return invalid("family is required for slice placement")
	}

	for _, v := range r.Volumes {
		if v.SizeGiB <= 0 {
			return invalid("volume %d: size must be positive, got %d GiB", v.DiskIndex, v.SizeGiB)
		}
		if v.ReadOnly && !v.Boot && v.Image == "" {
			return invalid("volume %d: read-only volume needs an image", v.DiskIndex)
		}
	}
	return nil
}

// ImageNames returns the boot image plus the image of every read-only volume.
// A host must have all of them activated to be a candidate.
func (r *Request) ImageNames() []string {
	names := []string{r.BootImage}
	seen := map[string]bool{r.BootImage: true}
	for _, v := range r.Volumes {
		if v.ReadOnly && v.Image != "" && !seen[v.Image] {
			seen[v.Image] = true
			names = append(names, v.Image)
		}
	}
	return names
}

// MinStorageDevices returns the device count a host needs for this request.
func (r *Request) MinStorageDevices() int {
	if r.DistinctStorageDevices && len(r.Volumes) > 1 {
		return len(r.Volumes)
	}
	return 1
}

// String summarizes the request dimensions.
func (r *Request) String() string {
	return fmt.Sprintf("%s (arch=%s, cpu=%d, mem=%d, storage=%d)",
		r.VM.ID, r.Arch, r.Cores, r.MemoryGiB, r.StorageGiB)
}
