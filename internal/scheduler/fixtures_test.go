package scheduler

import (
	"context"
	"time"

	"github.com/limiquantix/allocator/internal/domain"
)

// fixedRand returns the same values on every call.
type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }

func (r fixedRand) IntN(n int) int { return r.n % n }

func testVM() *domain.VirtualMachine {
	return &domain.VirtualMachine{
		ID:              "2464de61-7501-8374-9ab0-416caebe31da",
		Name:            "test-vm",
		Family:          "standard",
		Arch:            "x64",
		BootImage:       "ubuntu-jammy",
		Cores:           1,
		CPUPercentLimit: 200,
		MemoryGiB:       8,
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testRequest(vm *domain.VirtualMachine, sizes []int, opts ...RequestOption) *Request {
	volumes := make([]VolumeSpec, len(sizes))
	for i, s := range sizes {
		volumes[i] = VolumeSpec{SizeGiB: s, Boot: i == 0}
	}
	req, err := NewRequest(vm, volumes, opts...)
	if err != nil {
		panic(err)
	}
	return req
}

func activated() *time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func testInventory(id string) *HostInventory {
	inv := &HostInventory{
		Host: &domain.Host{
			ID:               id,
			Name:             id,
			Arch:             "x64",
			Location:         "hetzner-fsn1",
			AllocationState:  domain.AllocationStateAccepting,
			ManagementIP:     "10.0.0.1",
			Net6:             "2a01:4f8:10a:128b::/64",
			TotalCPUs:        16,
			TotalCores:       8,
			TotalHugepages1G: 64,
		},
		StorageDevices: []*domain.StorageDevice{
			{ID: id + "-dev0", HostID: id, Name: "DEFAULT", Enabled: true, TotalStorageGiB: 100, AvailableStorageGiB: 100},
		},
		Addresses: []*domain.Address{
			{ID: id + "-addr0", HostID: id, CIDR: "10.0.0.0/29"},
		},
		BootImages: []*domain.BootImage{
			{ID: id + "-img0", HostID: id, Name: "ubuntu-jammy", Version: "20240110", ActivatedAt: activated()},
		},
	}
	for i := 0; i < inv.Host.TotalCPUs; i++ {
		inv.CPUs = append(inv.CPUs, &domain.HostCPU{HostID: id, CPUNumber: i, Available: true})
	}
	return inv
}

// fakeTx records mutations. Conditional updates succeed unless a row count
// override is set for the method.
type fakeTx struct {
	rows map[string]int64

	hostUsage    map[string][2]int
	claimedCPUs  []int
	slices       []*domain.Slice
	charged      map[string][2]int
	gpus         []int
	consumed     map[string]int
	engines      []*domain.StorageEngine
	keys         []*domain.KeyEncryptionKey
	volumes      []*domain.StorageVolume
	subnets      []*domain.Address
	assignedIPs  []string
	addresses    []*domain.AssignedAddress
	placedVM     *domain.VirtualMachine
	addressError error
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		rows:      map[string]int64{},
		hostUsage: map[string][2]int{},
		charged:   map[string][2]int{},
		consumed:  map[string]int{},
		engines: []*domain.StorageEngine{
			{ID: "engine-1", Version: "v23.09", AllocationWeight: 100, SupportsBdevUbi: true},
		},
	}
}

func (t *fakeTx) count(method string, def int64) int64 {
	if n, ok := t.rows[method]; ok {
		return n
	}
	return def
}

func (t *fakeTx) IncrementHostUsage(_ context.Context, hostID string, cores, hugepages int) (int64, error) {
	u := t.hostUsage[hostID]
	t.hostUsage[hostID] = [2]int{u[0] + cores, u[1] + hugepages}
	return t.count("IncrementHostUsage", 1), nil
}

func (t *fakeTx) ClaimCPUs(_ context.Context, _, _ string, cpus []int) (int64, error) {
	t.claimedCPUs = append(t.claimedCPUs, cpus...)
	return t.count("ClaimCPUs", int64(len(cpus))), nil
}

func (t *fakeTx) CreateSlice(_ context.Context, s *domain.Slice) error {
	t.slices = append(t.slices, s)
	return nil
}

func (t *fakeTx) ChargeSlice(_ context.Context, sliceID string, cpuPercent, memoryGiB int) (int64, error) {
	c := t.charged[sliceID]
	t.charged[sliceID] = [2]int{c[0] + cpuPercent, c[1] + memoryGiB}
	return t.count("ChargeSlice", 1), nil
}

func (t *fakeTx) AssignGPUs(_ context.Context, _, _ string, groups []int) (int64, error) {
	t.gpus = append(t.gpus, groups...)
	return t.count("AssignGPUs", int64(len(groups))), nil
}

func (t *fakeTx) ConsumeStorage(_ context.Context, deviceID string, gib int) (int64, error) {
	t.consumed[deviceID] += gib
	return t.count("ConsumeStorage", 1), nil
}

func (t *fakeTx) StorageEngines(context.Context, string) ([]*domain.StorageEngine, error) {
	return t.engines, nil
}

func (t *fakeTx) ActiveBootImage(_ context.Context, hostID, name string) (*domain.BootImage, error) {
	return &domain.BootImage{ID: "img-" + name, HostID: hostID, Name: name, ActivatedAt: activated()}, nil
}

func (t *fakeTx) CreateKeyEncryptionKey(_ context.Context, key *domain.KeyEncryptionKey) error {
	t.keys = append(t.keys, key)
	return nil
}

func (t *fakeTx) CreateStorageVolume(_ context.Context, v *domain.StorageVolume) error {
	t.volumes = append(t.volumes, v)
	return nil
}

func (t *fakeTx) IPv4Addresses(context.Context, string) ([]*domain.Address, error) {
	return t.subnets, nil
}

func (t *fakeTx) AssignedIPv4s(context.Context, string) ([]string, error) {
	return t.assignedIPs, nil
}

func (t *fakeTx) CreateAssignedAddress(_ context.Context, a *domain.AssignedAddress) error {
	if t.addressError != nil {
		return t.addressError
	}
	t.addresses = append(t.addresses, a)
	return nil
}

func (t *fakeTx) UpdateVMPlacement(_ context.Context, vm *domain.VirtualMachine) error {
	t.placedVM = vm
	return nil
}
