package domain

import (
	"time"
)

// SliceType controls whether a slice may host more than one VM.
type SliceType string

const (
	SliceTypeDedicated SliceType = "dedicated"
	SliceTypeShared    SliceType = "shared"
)

// Slice is a CPU-pinned, cgroup-isolated partition of a host.
type Slice struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	HostID string    `json:"host_id"`
	Family string    `json:"family"`
	Type   SliceType `json:"type"`

	// Enabled is set by the slice lifecycle once the cgroup is set up on the host.
	Enabled bool `json:"enabled"`

	// AllowedCPUs is the cgroup cpuset list, e.g. "2-3,6-7".
	AllowedCPUs string `json:"allowed_cpus"`
	Cores       int    `json:"cores"`

	TotalCPUPercent int `json:"total_cpu_percent"`
	UsedCPUPercent  int `json:"used_cpu_percent"`
	TotalMemoryGiB  int `json:"total_memory_gib"`
	UsedMemoryGiB   int `json:"used_memory_gib"`

	CreatedAt time.Time `json:"created_at"`
}

// InhostName returns the name used by systemctl and the cgroup hierarchy.
func (s *Slice) InhostName() string {
	return s.Name + ".slice"
}

// HasRoomFor reports whether the slice can absorb the given CPU and memory.
func (s *Slice) HasRoomFor(cpuPercent, memoryGiB int) bool {
	return s.UsedCPUPercent+cpuPercent <= s.TotalCPUPercent &&
		s.UsedMemoryGiB+memoryGiB <= s.TotalMemoryGiB
}
