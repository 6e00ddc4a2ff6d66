package memory

import (
	"context"

	"github.com/limiquantix/allocator/internal/cpuset"
	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

var _ scheduler.Tx = (*inventoryTx)(nil)

// inventoryTx mutates a private copy of the inventory. Conditional updates
// mirror the guarded UPDATE statements of the postgres store.
type inventoryTx struct {
	state *inventory
}

func cpusetMembers(s string) (map[int]struct{}, error) {
	mask, err := cpuset.ToBitmask(s)
	if err != nil {
		return nil, err
	}
	members := make(map[int]struct{})
	for _, cpu := range cpuset.ToSet(mask).List() {
		members[cpu] = struct{}{}
	}
	return members, nil
}

func (t *inventoryTx) IncrementHostUsage(_ context.Context, hostID string, cores, hugepages1G int) (int64, error) {
	h, ok := t.state.hosts[hostID]
	if !ok || h.UsedCores+cores > h.TotalCores || h.UsedHugepages1G+hugepages1G > h.TotalHugepages1G {
		return 0, nil
	}
	h.UsedCores += cores
	h.UsedHugepages1G += hugepages1G
	return 1, nil
}

func (t *inventoryTx) ClaimCPUs(_ context.Context, hostID, sliceID string, cpus []int) (int64, error) {
	want := make(map[int]struct{}, len(cpus))
	for _, cpu := range cpus {
		want[cpu] = struct{}{}
	}

	var n int64
	for _, c := range t.state.cpus[hostID] {
		if _, ok := want[c.CPUNumber]; ok && c.Available && c.SliceID == "" {
			c.SliceID = sliceID
			n++
		}
	}
	return n, nil
}

func (t *inventoryTx) CreateSlice(_ context.Context, slice *domain.Slice) error {
	if _, ok := t.state.slices[slice.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.state.slices[slice.ID] = clone(slice)
	return nil
}

func (t *inventoryTx) ChargeSlice(_ context.Context, sliceID string, cpuPercent, memoryGiB int) (int64, error) {
	s, ok := t.state.slices[sliceID]
	if !ok || !s.HasRoomFor(cpuPercent, memoryGiB) {
		return 0, nil
	}
	s.UsedCPUPercent += cpuPercent
	s.UsedMemoryGiB += memoryGiB
	return 1, nil
}

// AssignGPUs assigns every free device of the groups, including non-GPU
// functions sharing the group.
func (t *inventoryTx) AssignGPUs(_ context.Context, hostID, vmID string, iommuGroups []int) (int64, error) {
	groups := make(map[int]struct{}, len(iommuGroups))
	for _, g := range iommuGroups {
		groups[g] = struct{}{}
	}

	var n int64
	for _, d := range t.state.pci {
		if _, ok := groups[d.IOMMUGroup]; ok && d.HostID == hostID && !d.IsAssigned() {
			d.VMID = vmID
			n++
		}
	}
	return n, nil
}

func (t *inventoryTx) ConsumeStorage(_ context.Context, deviceID string, gib int) (int64, error) {
	d, ok := t.state.devices[deviceID]
	if !ok || !d.Enabled || d.AvailableStorageGiB < gib {
		return 0, nil
	}
	d.AvailableStorageGiB -= gib
	return 1, nil
}

func (t *inventoryTx) StorageEngines(_ context.Context, hostID string) ([]*domain.StorageEngine, error) {
	return sortedValues(t.state.engines, func(e *domain.StorageEngine) bool { return e.HostID == hostID }), nil
}

func (t *inventoryTx) ActiveBootImage(_ context.Context, hostID, name string) (*domain.BootImage, error) {
	var best *domain.BootImage
	for _, img := range t.state.images {
		if img.HostID != hostID || img.Name != name || !img.IsActivated() {
			continue
		}
		if best == nil || img.Version > best.Version {
			best = img
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return clone(best), nil
}

func (t *inventoryTx) CreateKeyEncryptionKey(_ context.Context, key *domain.KeyEncryptionKey) error {
	if _, ok := t.state.keys[key.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.state.keys[key.ID] = clone(key)
	return nil
}

func (t *inventoryTx) CreateStorageVolume(_ context.Context, volume *domain.StorageVolume) error {
	if _, ok := t.state.volumes[volume.ID]; ok {
		return domain.ErrAlreadyExists
	}
	t.state.volumes[volume.ID] = clone(volume)
	return nil
}

func (t *inventoryTx) IPv4Addresses(_ context.Context, hostID string) ([]*domain.Address, error) {
	return sortedValues(t.state.addresses, func(a *domain.Address) bool {
		return a.HostID == hostID && a.IsIPv4()
	}), nil
}

func (t *inventoryTx) AssignedIPv4s(_ context.Context, hostID string) ([]string, error) {
	var ips []string
	for _, a := range sortedValues(t.state.assigned, nil) {
		if addr, ok := t.state.addresses[a.AddressID]; ok && addr.HostID == hostID {
			ips = append(ips, a.IP)
		}
	}
	return ips, nil
}

func (t *inventoryTx) CreateAssignedAddress(_ context.Context, address *domain.AssignedAddress) error {
	for _, a := range t.state.assigned {
		if a.IP == address.IP {
			return domain.ErrConflict
		}
	}
	t.state.assigned[address.ID] = clone(address)
	return nil
}

func (t *inventoryTx) UpdateVMPlacement(_ context.Context, vm *domain.VirtualMachine) error {
	stored, ok := t.state.vms[vm.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.HostID = vm.HostID
	stored.SliceID = vm.SliceID
	stored.EphemeralNet6 = vm.EphemeralNet6
	stored.LocalVethoIP = vm.LocalVethoIP
	stored.AllocatedAt = vm.AllocatedAt
	return nil
}
