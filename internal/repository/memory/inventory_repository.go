package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

// Ensure InventoryRepository implements scheduler.Store
var _ scheduler.Store = (*InventoryRepository)(nil)

// InventoryRepository is an in-memory host inventory. Transactions run
// serially on a copy of the inventory that replaces it on success, so a
// failed transaction leaves nothing behind.
type InventoryRepository struct {
	mu    sync.RWMutex
	state *inventory
}

type inventory struct {
	hosts     map[string]*domain.Host
	cpus      map[string][]*domain.HostCPU
	slices    map[string]*domain.Slice
	devices   map[string]*domain.StorageDevice
	engines   map[string]*domain.StorageEngine
	images    map[string]*domain.BootImage
	pci       map[string]*domain.PCIDevice
	addresses map[string]*domain.Address
	assigned  map[string]*domain.AssignedAddress
	vms       map[string]*domain.VirtualMachine
	keys      map[string]*domain.KeyEncryptionKey
	volumes   map[string]*domain.StorageVolume
}

func newInventory() *inventory {
	return &inventory{
		hosts:     make(map[string]*domain.Host),
		cpus:      make(map[string][]*domain.HostCPU),
		slices:    make(map[string]*domain.Slice),
		devices:   make(map[string]*domain.StorageDevice),
		engines:   make(map[string]*domain.StorageEngine),
		images:    make(map[string]*domain.BootImage),
		pci:       make(map[string]*domain.PCIDevice),
		addresses: make(map[string]*domain.Address),
		assigned:  make(map[string]*domain.AssignedAddress),
		vms:       make(map[string]*domain.VirtualMachine),
		keys:      make(map[string]*domain.KeyEncryptionKey),
		volumes:   make(map[string]*domain.StorageVolume),
	}
}

// NewInventoryRepository creates a new empty in-memory inventory.
func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{state: newInventory()}
}

func (s *inventory) clone() *inventory {
	c := &inventory{
		hosts:     cloneMap(s.hosts),
		cpus:      make(map[string][]*domain.HostCPU, len(s.cpus)),
		slices:    cloneMap(s.slices),
		devices:   cloneMap(s.devices),
		engines:   cloneMap(s.engines),
		images:    cloneMap(s.images),
		pci:       cloneMap(s.pci),
		addresses: cloneMap(s.addresses),
		assigned:  cloneMap(s.assigned),
		vms:       cloneMap(s.vms),
		keys:      cloneMap(s.keys),
		volumes:   cloneMap(s.volumes),
	}
	for hostID, cpus := range s.cpus {
		c.cpus[hostID] = cloneList(cpus)
	}
	return c
}

// clone copies a record. Pointer fields are shared; records are replaced,
// never mutated through them.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

func cloneList[T any](list []*T) []*T {
	out := make([]*T, len(list))
	for i, v := range list {
		out[i] = clone(v)
	}
	return out
}

// sortedValues returns the values ordered by key.
func sortedValues[T any](m map[string]*T, keep func(*T) bool) []*T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*T
	for _, k := range keys {
		if keep == nil || keep(m[k]) {
			out = append(out, clone(m[k]))
		}
	}
	return out
}

// =============================================================================
// Seeding
// =============================================================================

// AddHost stores a host and one available CPU record per CPU thread.
func (r *InventoryRepository) AddHost(h *domain.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if _, ok := r.state.hosts[h.ID]; ok {
		return domain.ErrAlreadyExists
	}

	r.state.hosts[h.ID] = clone(h)
	cpus := make([]*domain.HostCPU, h.TotalCPUs)
	for i := range cpus {
		cpus[i] = &domain.HostCPU{HostID: h.ID, CPUNumber: i, Available: true}
	}
	r.state.cpus[h.ID] = cpus
	return nil
}

// SetCPUAvailable marks a host CPU as usable for VMs or reserved for the host.
func (r *InventoryRepository) SetCPUAvailable(hostID string, cpu int, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.state.cpus[hostID] {
		if c.CPUNumber == cpu {
			c.Available = available
			return nil
		}
	}
	return domain.ErrNotFound
}

// AddSlice stores an existing slice. Its CPUs are marked as claimed.
func (r *InventoryRepository) AddSlice(slice *domain.Slice) error {
	mask, err := cpusetMembers(slice.AllowedCPUs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.hosts[slice.HostID]; !ok {
		return fmt.Errorf("slice host %s: %w", slice.HostID, domain.ErrNotFound)
	}
	if slice.ID == "" {
		slice.ID = uuid.New().String()
	}
	r.state.slices[slice.ID] = clone(slice)
	for _, c := range r.state.cpus[slice.HostID] {
		if _, ok := mask[c.CPUNumber]; ok {
			c.SliceID = slice.ID
		}
	}
	return nil
}

// AddStorageDevice stores a storage device.
func (r *InventoryRepository) AddStorageDevice(d *domain.StorageDevice) error {
	return add(r, func(s *inventory) map[string]*domain.StorageDevice { return s.devices }, &d.ID, d)
}

// AddStorageEngine stores a storage engine installation.
func (r *InventoryRepository) AddStorageEngine(e *domain.StorageEngine) error {
	return add(r, func(s *inventory) map[string]*domain.StorageEngine { return s.engines }, &e.ID, e)
}

// AddBootImage stores a boot image.
func (r *InventoryRepository) AddBootImage(img *domain.BootImage) error {
	return add(r, func(s *inventory) map[string]*domain.BootImage { return s.images }, &img.ID, img)
}

// AddPCIDevice stores a PCI device.
func (r *InventoryRepository) AddPCIDevice(d *domain.PCIDevice) error {
	return add(r, func(s *inventory) map[string]*domain.PCIDevice { return s.pci }, &d.ID, d)
}

// AddAddress stores a subnet routed to a host.
func (r *InventoryRepository) AddAddress(a *domain.Address) error {
	return add(r, func(s *inventory) map[string]*domain.Address { return s.addresses }, &a.ID, a)
}

// AddVM stores a VM record.
func (r *InventoryRepository) AddVM(vm *domain.VirtualMachine) error {
	return add(r, func(s *inventory) map[string]*domain.VirtualMachine { return s.vms }, &vm.ID, vm)
}

func add[T any](r *InventoryRepository, table func(*inventory) map[string]*T, id *string, v *T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := table(r.state)
	if *id == "" {
		*id = uuid.New().String()
	}
	if _, ok := m[*id]; ok {
		return domain.ErrAlreadyExists
	}
	m[*id] = clone(v)
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Host returns a host by ID.
func (r *InventoryRepository) Host(id string) (*domain.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.state.hosts, id)
}

// Slice returns a slice by ID.
func (r *InventoryRepository) Slice(id string) (*domain.Slice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.state.slices, id)
}

// StorageDevice returns a storage device by ID.
func (r *InventoryRepository) StorageDevice(id string) (*domain.StorageDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.state.devices, id)
}

// VM returns a VM by ID.
func (r *InventoryRepository) VM(id string) (*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.state.vms, id)
}

func get[T any](m map[string]*T, id string) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(v), nil
}

// HostCPUs returns the CPU records of a host ordered by CPU number.
func (r *InventoryRepository) HostCPUs(hostID string) []*domain.HostCPU {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneList(r.state.cpus[hostID])
}

// Slices returns the slices of a host.
func (r *InventoryRepository) Slices(hostID string) []*domain.Slice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.state.slices, func(s *domain.Slice) bool { return s.HostID == hostID })
}

// PCIDevices returns the PCI devices of a host.
func (r *InventoryRepository) PCIDevices(hostID string) []*domain.PCIDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.state.pci, func(d *domain.PCIDevice) bool { return d.HostID == hostID })
}

// StorageVolumes returns the volumes of a VM ordered by disk index.
func (r *InventoryRepository) StorageVolumes(vmID string) []*domain.StorageVolume {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vols := sortedValues(r.state.volumes, func(v *domain.StorageVolume) bool { return v.VMID == vmID })
	sort.Slice(vols, func(i, j int) bool { return vols[i].DiskIndex < vols[j].DiskIndex })
	return vols
}

// AssignedAddresses returns the addresses given to a VM.
func (r *InventoryRepository) AssignedAddresses(vmID string) []*domain.AssignedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.state.assigned, func(a *domain.AssignedAddress) bool { return a.VMID == vmID })
}

// KeyEncryptionKey returns a key encryption key by ID.
func (r *InventoryRepository) KeyEncryptionKey(id string) (*domain.KeyEncryptionKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get(r.state.keys, id)
}

// =============================================================================
// scheduler.Store
// =============================================================================

// CandidateHosts aggregates every host and keeps those passing the filters,
// ordered by host ID.
func (r *InventoryRepository) CandidateHosts(ctx context.Context, req *scheduler.Request) ([]*scheduler.HostCandidate, error) {
	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	var candidates []*scheduler.HostCandidate
	for _, h := range sortedValues(snapshot.hosts, nil) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c, ok := scheduler.BuildCandidate(req, snapshot.hostInventory(h)); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

func (s *inventory) hostInventory(h *domain.Host) *scheduler.HostInventory {
	onHost := func(hostID string) bool { return hostID == h.ID }

	inv := &scheduler.HostInventory{
		Host:           h,
		CPUs:           s.cpus[h.ID],
		Slices:         sortedValues(s.slices, func(v *domain.Slice) bool { return onHost(v.HostID) }),
		StorageDevices: sortedValues(s.devices, func(v *domain.StorageDevice) bool { return onHost(v.HostID) }),
		PCIDevices:     sortedValues(s.pci, func(v *domain.PCIDevice) bool { return onHost(v.HostID) }),
		Addresses:      sortedValues(s.addresses, func(v *domain.Address) bool { return onHost(v.HostID) }),
		BootImages:     sortedValues(s.images, func(v *domain.BootImage) bool { return onHost(v.HostID) }),
	}

	for _, a := range s.assigned {
		if addr, ok := s.addresses[a.AddressID]; ok && onHost(addr.HostID) && addr.IsIPv4() {
			inv.AssignedIPv4++
		}
	}
	for _, vm := range s.vms {
		if onHost(vm.HostID) && vm.DisplayState == domain.VMDisplayStateCreating {
			inv.ProvisioningCount++
		}
	}
	return inv
}

// InTx runs fn against a copy of the inventory and keeps the copy only if fn
// succeeds.
func (r *InventoryRepository) InTx(ctx context.Context, fn func(tx scheduler.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &inventoryTx{state: r.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}
