package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

var _ scheduler.Tx = (*inventoryTx)(nil)

// inventoryTx implements scheduler.Tx. Every capacity update carries its
// bound in the WHERE clause, so a row changed by a concurrent transaction
// since the candidate snapshot is simply not updated.
type inventoryTx struct {
	tx pgx.Tx
}

func (t *inventoryTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (t *inventoryTx) IncrementHostUsage(ctx context.Context, hostID string, cores, hugepages1G int) (int64, error) {
	return t.exec(ctx, `
		UPDATE vm_host
		SET used_cores = used_cores + $2, used_hugepages_1g = used_hugepages_1g + $3
		WHERE id = $1
		  AND used_cores + $2 <= total_cores
		  AND used_hugepages_1g + $3 <= total_hugepages_1g
	`, hostID, cores, hugepages1G)
}

func (t *inventoryTx) ClaimCPUs(ctx context.Context, hostID, sliceID string, cpus []int) (int64, error) {
	return t.exec(ctx, `
		UPDATE vm_host_cpu
		SET vm_host_slice_id = $3
		WHERE vm_host_id = $1
		  AND cpu_number = ANY($2)
		  AND available
		  AND vm_host_slice_id IS NULL
	`, hostID, cpus, sliceID)
}

func (t *inventoryTx) CreateSlice(ctx context.Context, s *domain.Slice) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO vm_host_slice (
			id, name, vm_host_id, family, type, enabled, allowed_cpus, cores,
			total_cpu_percent, used_cpu_percent, total_memory_gib, used_memory_gib, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.Name, s.HostID, s.Family, string(s.Type), s.Enabled, s.AllowedCPUs, s.Cores,
		s.TotalCPUPercent, s.UsedCPUPercent, s.TotalMemoryGiB, s.UsedMemoryGiB, s.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (t *inventoryTx) ChargeSlice(ctx context.Context, sliceID string, cpuPercent, memoryGiB int) (int64, error) {
	return t.exec(ctx, `
		UPDATE vm_host_slice
		SET used_cpu_percent = used_cpu_percent + $2, used_memory_gib = used_memory_gib + $3
		WHERE id = $1
		  AND used_cpu_percent + $2 <= total_cpu_percent
		  AND used_memory_gib + $3 <= total_memory_gib
	`, sliceID, cpuPercent, memoryGiB)
}

func (t *inventoryTx) AssignGPUs(ctx context.Context, hostID, vmID string, iommuGroups []int) (int64, error) {
	return t.exec(ctx, `
		UPDATE pci_device
		SET vm_id = $3
		WHERE vm_host_id = $1
		  AND iommu_group = ANY($2)
		  AND vm_id IS NULL
	`, hostID, iommuGroups, vmID)
}

func (t *inventoryTx) ConsumeStorage(ctx context.Context, deviceID string, gib int) (int64, error) {
	return t.exec(ctx, `
		UPDATE storage_device
		SET available_storage_gib = available_storage_gib - $2
		WHERE id = $1
		  AND enabled
		  AND available_storage_gib >= $2
	`, deviceID, gib)
}

func (t *inventoryTx) StorageEngines(ctx context.Context, hostID string) ([]*domain.StorageEngine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, vm_host_id, version, allocation_weight, supports_bdev_ubi
		FROM storage_engine
		WHERE vm_host_id = $1
		ORDER BY id
	`, hostID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.StorageEngine, error) {
		var e domain.StorageEngine
		err := row.Scan(&e.ID, &e.HostID, &e.Version, &e.AllocationWeight, &e.SupportsBdevUbi)
		return &e, err
	})
}

func (t *inventoryTx) ActiveBootImage(ctx context.Context, hostID, name string) (*domain.BootImage, error) {
	var img domain.BootImage
	err := t.tx.QueryRow(ctx, `
		SELECT id, vm_host_id, name, version, activated_at
		FROM boot_image
		WHERE vm_host_id = $1 AND name = $2 AND activated_at IS NOT NULL
		ORDER BY version DESC
		LIMIT 1
	`, hostID, name).Scan(&img.ID, &img.HostID, &img.Name, &img.Version, &img.ActivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (t *inventoryTx) CreateKeyEncryptionKey(ctx context.Context, key *domain.KeyEncryptionKey) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO key_encryption_key (id, algorithm, key, init_vector, auth_data)
		VALUES ($1, $2, $3, $4, $5)
	`, key.ID, key.Algorithm, key.Key, key.InitVector, key.AuthData)
	return err
}

func (t *inventoryTx) CreateStorageVolume(ctx context.Context, v *domain.StorageVolume) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO vm_storage_volume (
			id, vm_id, disk_index, boot, size_gib, use_bdev_ubi, skip_sync,
			boot_image_id, key_encryption_key_id, storage_engine_id, storage_device_id,
			max_ios_per_sec, max_read_mbytes_per_sec, max_write_mbytes_per_sec
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, v.ID, v.VMID, v.DiskIndex, v.Boot, v.SizeGiB, v.UseBdevUbi, v.SkipSync,
		nullString(v.BootImageID), nullString(v.KeyEncryptionKeyID), v.StorageEngineID, v.StorageDeviceID,
		v.MaxIOPS, v.MaxReadMBytesPerSec, v.MaxWriteMBytesPerSec)
	if isUniqueViolation(err) {
		return fmt.Errorf("volume %d of vm %s: %w", v.DiskIndex, v.VMID, domain.ErrAlreadyExists)
	}
	return err
}

func (t *inventoryTx) IPv4Addresses(ctx context.Context, hostID string) ([]*domain.Address, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, vm_host_id, cidr::text
		FROM address
		WHERE vm_host_id = $1 AND family(cidr) = 4
		ORDER BY cidr
	`, hostID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Address, error) {
		var a domain.Address
		err := row.Scan(&a.ID, &a.HostID, &a.CIDR)
		return &a, err
	})
}

func (t *inventoryTx) AssignedIPv4s(ctx context.Context, hostID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT host(av.ip)
		FROM assigned_vm_address av
		JOIN address a ON a.id = av.address_id
		WHERE a.vm_host_id = $1
	`, hostID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *inventoryTx) CreateAssignedAddress(ctx context.Context, a *domain.AssignedAddress) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assigned_vm_address (id, vm_id, address_id, ip)
		VALUES ($1, $2, $3, $4::inet)
	`, a.ID, a.VMID, a.AddressID, a.IP)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (t *inventoryTx) UpdateVMPlacement(ctx context.Context, vm *domain.VirtualMachine) error {
	n, err := t.exec(ctx, `
		UPDATE vm
		SET vm_host_id = $2, vm_host_slice_id = $3, ephemeral_net6 = $4, local_vetho_ip = $5, allocated_at = $6
		WHERE id = $1
	`, vm.ID, vm.HostID, nullString(vm.SliceID), nullString(vm.EphemeralNet6), vm.LocalVethoIP, vm.AllocatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
