package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

// Ensure InventoryRepository implements scheduler.Store
var _ scheduler.Store = (*InventoryRepository)(nil)

// InventoryRepository implements scheduler.Store using PostgreSQL.
type InventoryRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInventoryRepository creates a new PostgreSQL inventory repository.
func NewInventoryRepository(db *DB, logger *zap.Logger) *InventoryRepository {
	return &InventoryRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "inventory")),
	}
}

// CandidateHosts runs the aggregated candidate query and, for slice
// placement, loads the slices and CPUs of the returned hosts.
func (r *InventoryRepository) CandidateHosts(ctx context.Context, req *scheduler.Request) ([]*scheduler.HostCandidate, error) {
	query, args := candidateQuery(req)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query candidate hosts", zap.Error(err), zap.String("vm_id", req.VM.ID))
		return nil, fmt.Errorf("failed to query candidate hosts: %w", err)
	}
	defer rows.Close()

	var (
		candidates []*scheduler.HostCandidate
		hostIDs    []string
	)
	for rows.Next() {
		var (
			c       scheduler.HostCandidate
			devices []byte
			groups  []int32
		)
		err := rows.Scan(
			&c.HostID, &c.Location, &c.Net6, &c.ManagementIP,
			&c.TotalCPUs, &c.TotalCores, &c.UsedCores, &c.TotalHugepages1G, &c.UsedHugepages1G,
			&devices, &c.AvailableStorageGiB, &c.TotalStorageGiB,
			&c.TotalIPv4, &c.UsedIPv4,
			&c.NumGPUs, &c.AvailableGPUs, &groups,
			&c.ProvisioningCount,
			&c.SliceCPUAvailable, &c.SliceMemoryAvailable,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate host: %w", err)
		}
		if err := json.Unmarshal(devices, &c.StorageDevices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal storage devices of host %s: %w", c.HostID, err)
		}
		for _, g := range groups {
			c.AvailableIOMMUGroups = append(c.AvailableIOMMUGroups, int(g))
		}
		candidates = append(candidates, &c)
		hostIDs = append(hostIDs, c.HostID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate hosts: %w", err)
	}

	if req.UseSlices && len(candidates) > 0 {
		if err := r.loadSliceInventory(ctx, hostIDs, candidates); err != nil {
			return nil, err
		}
	}

	r.logger.Debug("Listed candidate hosts", zap.String("vm_id", req.VM.ID), zap.Int("count", len(candidates)))
	return candidates, nil
}

func (r *InventoryRepository) loadSliceInventory(ctx context.Context, hostIDs []string, candidates []*scheduler.HostCandidate) error {
	byHost := make(map[string]*scheduler.HostCandidate, len(candidates))
	for _, c := range candidates {
		byHost[c.HostID] = c
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, vm_host_id, family, type, enabled, allowed_cpus, cores,
		       total_cpu_percent, used_cpu_percent, total_memory_gib, used_memory_gib, created_at
		FROM vm_host_slice
		WHERE vm_host_id::text = ANY($1)
		ORDER BY vm_host_id, id
	`, hostIDs)
	if err != nil {
		return fmt.Errorf("failed to query slices: %w", err)
	}
	slices, err := pgx.CollectRows(rows, scanSlice)
	if err != nil {
		return fmt.Errorf("failed to scan slices: %w", err)
	}
	for _, s := range slices {
		byHost[s.HostID].Slices = append(byHost[s.HostID].Slices, s)
	}

	rows, err = r.db.pool.Query(ctx, `
		SELECT vm_host_id, cpu_number, available, coalesce(vm_host_slice_id::text, '')
		FROM vm_host_cpu
		WHERE vm_host_id::text = ANY($1)
		ORDER BY vm_host_id, cpu_number
	`, hostIDs)
	if err != nil {
		return fmt.Errorf("failed to query host cpus: %w", err)
	}
	cpus, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.HostCPU, error) {
		var c domain.HostCPU
		err := row.Scan(&c.HostID, &c.CPUNumber, &c.Available, &c.SliceID)
		return &c, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan host cpus: %w", err)
	}
	for _, c := range cpus {
		byHost[c.HostID].CPUs = append(byHost[c.HostID].CPUs, c)
	}
	return nil
}

func scanSlice(row pgx.CollectableRow) (*domain.Slice, error) {
	var (
		s         domain.Slice
		sliceType string
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.HostID, &s.Family, &sliceType, &s.Enabled, &s.AllowedCPUs, &s.Cores,
		&s.TotalCPUPercent, &s.UsedCPUPercent, &s.TotalMemoryGiB, &s.UsedMemoryGiB, &s.CreatedAt,
	)
	s.Type = domain.SliceType(sliceType)
	return &s, err
}

// InTx runs fn in a PostgreSQL transaction.
func (r *InventoryRepository) InTx(ctx context.Context, fn func(tx scheduler.Tx) error) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&inventoryTx{tx: tx})
	})
}

// GetVM retrieves a VM by ID.
func (r *InventoryRepository) GetVM(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	query := `
		SELECT id, name, family, arch, boot_image, display_state,
		       cores, cpu_percent_limit, memory_gib, memory_gib_ratio,
		       ip4_enabled, use_slices, can_share_slice,
		       coalesce(vm_host_id::text, ''), coalesce(vm_host_slice_id::text, ''),
		       coalesce(ephemeral_net6::text, ''), coalesce(local_vetho_ip, ''), allocated_at, created_at
		FROM vm
		WHERE id = $1
	`

	var (
		vm           domain.VirtualMachine
		displayState string
	)
	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&vm.ID, &vm.Name, &vm.Family, &vm.Arch, &vm.BootImage, &displayState,
		&vm.Cores, &vm.CPUPercentLimit, &vm.MemoryGiB, &vm.MemoryGiBRatio,
		&vm.IPv4Enabled, &vm.UseSlices, &vm.CanShareSlice,
		&vm.HostID, &vm.SliceID,
		&vm.EphemeralNet6, &vm.LocalVethoIP, &vm.AllocatedAt, &vm.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vm: %w", err)
	}
	vm.DisplayState = domain.VMDisplayState(displayState)
	return &vm, nil
}
