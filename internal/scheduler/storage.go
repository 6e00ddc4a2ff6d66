package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/limiquantix/allocator/internal/domain"
)

// deviceAllocation tracks what one request takes from one storage device
// before anything is persisted.
type deviceAllocation struct {
	id        string
	available int
	allocated int
}

func (d *deviceAllocation) allocate(gib int) {
	d.available -= gib
	d.allocated += gib
}

// storageAllocation first-fit packs the volumes, largest first, onto the
// candidate's devices.
type storageAllocation struct {
	candidate *HostCandidate
	req       *Request

	devices        []*deviceAllocation
	volumeToDevice map[int]string
	valid          bool
}

func newStorageAllocation(c *HostCandidate, req *Request) *storageAllocation {
	a := &storageAllocation{candidate: c, req: req}
	a.valid = a.mapVolumesToDevices()
	return a
}

func (a *storageAllocation) Valid() bool {
	return a.valid
}

func (a *storageAllocation) Utilization() float64 {
	if a.candidate.TotalStorageGiB == 0 {
		return 1
	}
	free := a.candidate.AvailableStorageGiB - a.req.StorageGiB
	return 1 - float64(free)/float64(a.candidate.TotalStorageGiB)
}

func (a *storageAllocation) mapVolumesToDevices() bool {
	if a.candidate.AvailableStorageGiB < a.req.StorageGiB {
		return false
	}

	a.devices = make([]*deviceAllocation, len(a.candidate.StorageDevices))
	for i, d := range a.candidate.StorageDevices {
		a.devices[i] = &deviceAllocation{id: d.ID, available: d.AvailableStorageGiB}
	}

	a.volumeToDevice = make(map[int]string, len(a.req.Volumes))
	for _, vol := range a.req.Volumes {
		dev := a.firstFit(vol.SizeGiB)
		if dev == nil {
			return false
		}
		a.volumeToDevice[vol.DiskIndex] = dev.id
		dev.allocate(vol.SizeGiB)
	}
	return true
}

func (a *storageAllocation) firstFit(size int) *deviceAllocation {
	for _, dev := range a.devices {
		if dev.available < size {
			continue
		}
		if a.req.DistinctStorageDevices && dev.allocated > 0 {
			continue
		}
		return dev
	}
	return nil
}

// DeviceFor returns the device the volume with the given disk index was mapped to.
func (a *storageAllocation) DeviceFor(diskIndex int) string {
	return a.volumeToDevice[diskIndex]
}

// commit persists one capacity decrement per touched device, then creates
// the volume records.
func (a *storageAllocation) commit(ctx context.Context, tx Tx, keys keyGenerator, rnd Rand) ([]*domain.StorageVolume, error) {
	for _, dev := range a.devices {
		if dev.allocated == 0 {
			continue
		}
		n, err := tx.ConsumeStorage(ctx, dev.id, dev.allocated)
		if err != nil {
			return nil, fmt.Errorf("failed to update storage device %s: %w", dev.id, err)
		}
		if n != 1 {
			return nil, fmt.Errorf("%w: storage device %s no longer has %d GiB free",
				domain.ErrConcurrentRace, dev.id, dev.allocated)
		}
	}

	engines, err := tx.StorageEngines(ctx, a.candidate.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage engines: %w", err)
	}

	vm := a.req.VM
	volumes := make([]*domain.StorageVolume, 0, len(a.req.Volumes))
	for _, vol := range a.req.Volumes {
		engine, err := ChooseStorageEngine(engines, rnd)
		if err != nil {
			return nil, err
		}

		v := &domain.StorageVolume{
			ID:                   uuid.New().String(),
			VMID:                 vm.ID,
			DiskIndex:            vol.DiskIndex,
			Boot:                 vol.Boot,
			SizeGiB:              vol.SizeGiB,
			UseBdevUbi:           engine.SupportsBdevUbi && vol.Boot,
			SkipSync:             vol.SkipSync,
			StorageEngineID:      engine.ID,
			StorageDeviceID:      a.volumeToDevice[vol.DiskIndex],
			MaxIOPS:              vol.MaxIOPS,
			MaxReadMBytesPerSec:  vol.MaxReadMBytesPerSec,
			MaxWriteMBytesPerSec: vol.MaxWriteMBytesPerSec,
		}

		if vol.Encrypted {
			key, err := keys.generate(fmt.Sprintf("%s_%d", vm.InhostName(), vol.DiskIndex))
			if err != nil {
				return nil, fmt.Errorf("failed to generate key encryption key: %w", err)
			}
			if err := tx.CreateKeyEncryptionKey(ctx, key); err != nil {
				return nil, fmt.Errorf("failed to store key encryption key: %w", err)
			}
			v.KeyEncryptionKeyID = key.ID
		}

		var imageName string
		switch {
		case vol.Boot:
			imageName = vm.BootImage
		case vol.ReadOnly:
			imageName = vol.Image
		}
		if imageName != "" {
			img, err := tx.ActiveBootImage(ctx, a.candidate.HostID, imageName)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve boot image %q: %w", imageName, err)
			}
			v.BootImageID = img.ID
		}

		if err := tx.CreateStorageVolume(ctx, v); err != nil {
			return nil, fmt.Errorf("failed to create storage volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}

// ChooseStorageEngine picks an engine at random, proportionally to its
// allocation weight.
func ChooseStorageEngine(engines []*domain.StorageEngine, rnd Rand) (*domain.StorageEngine, error) {
	total := 0
	for _, e := range engines {
		total += e.AllocationWeight
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total weight of all eligible storage engines is zero",
			domain.ErrInsufficientWeight)
	}

	point := rnd.IntN(total)
	sum := 0
	for _, e := range engines {
		sum += e.AllocationWeight
		if sum > point {
			return e, nil
		}
	}
	return engines[len(engines)-1], nil
}
