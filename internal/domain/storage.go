// Package domain contains core business entities for the allocator.
// This file defines storage-related domain models: devices, engines, images and volumes.
package domain

import "time"

// StorageDevice is a physical storage device of a host.
type StorageDevice struct {
	ID                  string `json:"id"`
	HostID              string `json:"host_id"`
	Name                string `json:"name"`
	Enabled             bool   `json:"enabled"`
	TotalStorageGiB     int    `json:"total_storage_gib"`
	AvailableStorageGiB int    `json:"available_storage_gib"`
}

// StorageEngine is an installation of the block storage engine on a host.
// Volumes are spread over the installations of a host proportionally to
// their AllocationWeight.
type StorageEngine struct {
	ID               string `json:"id"`
	HostID           string `json:"host_id"`
	Version          string `json:"version"`
	AllocationWeight int    `json:"allocation_weight"`
	SupportsBdevUbi  bool   `json:"supports_bdev_ubi"`
}

// BootImage is an OS image downloaded to a host. Only activated images may
// back a volume.
type BootImage struct {
	ID          string     `json:"id"`
	HostID      string     `json:"host_id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// IsActivated returns true once the image finished downloading and verification.
func (b *BootImage) IsActivated() bool {
	return b.ActivatedAt != nil
}

// KeyEncryptionKey wraps the data encryption key of an encrypted volume.
type KeyEncryptionKey struct {
	ID         string `json:"id"`
	Algorithm  string `json:"algorithm"`
	Key        string `json:"key"`
	InitVector string `json:"init_vector"`
	AuthData   string `json:"auth_data"`
}

// StorageVolume is a VM disk placed on a storage device.
type StorageVolume struct {
	ID                   string `json:"id"`
	VMID                 string `json:"vm_id"`
	DiskIndex            int    `json:"disk_index"`
	Boot                 bool   `json:"boot"`
	SizeGiB              int    `json:"size_gib"`
	UseBdevUbi           bool   `json:"use_bdev_ubi"`
	SkipSync             bool   `json:"skip_sync"`
	BootImageID          string `json:"boot_image_id,omitempty"`
	KeyEncryptionKeyID   string `json:"key_encryption_key_id,omitempty"`
	StorageEngineID      string `json:"storage_engine_id"`
	StorageDeviceID      string `json:"storage_device_id"`
	MaxIOPS              *int   `json:"max_ios_per_sec,omitempty"`
	MaxReadMBytesPerSec  *int   `json:"max_read_mbytes_per_sec,omitempty"`
	MaxWriteMBytesPerSec *int   `json:"max_write_mbytes_per_sec,omitempty"`
}
