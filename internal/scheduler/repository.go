package scheduler

import (
	"context"

	"github.com/limiquantix/allocator/internal/domain"
)

// Store is the inventory store the allocator reads candidates from and
// commits placements to.
type Store interface {
	// CandidateHosts returns a point-in-time snapshot of the hosts passing the
	// request's filters. It takes no locks.
	CandidateHosts(ctx context.Context, req *Request) ([]*HostCandidate, error)

	// InTx runs fn in a transaction. The transaction commits if fn returns nil
	// and rolls back otherwise, leaving no partial effect.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional mutation interface used by commit.
//
// Methods returning an affected-row count perform a conditional update that
// only applies when the stored state still matches what the allocator assumed;
// the caller compares the count with the expected one.
type Tx interface {
	// IncrementHostUsage adds cores and 1G hugepages to the host's used
	// counters where both stay within their totals.
	IncrementHostUsage(ctx context.Context, hostID string, cores, hugepages1G int) (int64, error)

	// ClaimCPUs assigns the listed CPUs to a slice where they are still available.
	ClaimCPUs(ctx context.Context, hostID, sliceID string, cpus []int) (int64, error)

	// CreateSlice stores a new slice record.
	CreateSlice(ctx context.Context, slice *domain.Slice) error

	// ChargeSlice adds CPU percent and memory to a slice's used counters where
	// both stay within their totals.
	ChargeSlice(ctx context.Context, sliceID string, cpuPercent, memoryGiB int) (int64, error)

	// AssignGPUs assigns the unassigned PCI devices of the listed IOMMU groups to a VM.
	AssignGPUs(ctx context.Context, hostID, vmID string, iommuGroups []int) (int64, error)

	// ConsumeStorage subtracts gib from the device's available capacity where
	// enough is still available.
	ConsumeStorage(ctx context.Context, deviceID string, gib int) (int64, error)

	// StorageEngines lists the storage engine installations of a host.
	StorageEngines(ctx context.Context, hostID string) ([]*domain.StorageEngine, error)

	// ActiveBootImage returns the highest activated version of the named image on a host.
	ActiveBootImage(ctx context.Context, hostID, name string) (*domain.BootImage, error)

	// CreateKeyEncryptionKey stores a key encryption key.
	CreateKeyEncryptionKey(ctx context.Context, key *domain.KeyEncryptionKey) error

	// CreateStorageVolume stores a volume record.
	CreateStorageVolume(ctx context.Context, volume *domain.StorageVolume) error

	// IPv4Addresses lists the IPv4 subnets routed to a host.
	IPv4Addresses(ctx context.Context, hostID string) ([]*domain.Address, error)

	// AssignedIPv4s returns the IPs of the host's subnets already given to VMs.
	AssignedIPv4s(ctx context.Context, hostID string) ([]string, error)

	// CreateAssignedAddress records an address given to a VM. It fails with
	// domain.ErrConflict if the IP is already assigned.
	CreateAssignedAddress(ctx context.Context, address *domain.AssignedAddress) error

	// UpdateVMPlacement writes the placement fields of the VM record.
	UpdateVMPlacement(ctx context.Context, vm *domain.VirtualMachine) error
}

// EventPublisher receives an event for every committed placement.
type EventPublisher interface {
	PublishPlacement(ctx context.Context, placement *Placement) error
}
