package domain

// PCI device classes the allocator treats as GPUs (VGA and 3D controllers).
const (
	DeviceClassVGA = "0300"
	DeviceClass3D  = "0302"
)

// PCIDevice is a PCI device that can be passed through to a VM.
type PCIDevice struct {
	ID          string `json:"id"`
	HostID      string `json:"host_id"`
	Slot        string `json:"slot"`
	DeviceClass string `json:"device_class"`
	Vendor      string `json:"vendor"`
	Device      string `json:"device"`
	IOMMUGroup  int    `json:"iommu_group"`
	VMID        string `json:"vm_id,omitempty"`
}

// IsGPU returns true for display controllers.
func (d *PCIDevice) IsGPU() bool {
	return d.DeviceClass == DeviceClassVGA || d.DeviceClass == DeviceClass3D
}

// IsAssigned returns true if the device is passed through to a VM.
func (d *PCIDevice) IsAssigned() bool {
	return d.VMID != ""
}
