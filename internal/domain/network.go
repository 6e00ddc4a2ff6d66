package domain

import (
	"net/netip"
)

// Address is a subnet routed to a host. IPv4 subnets are handed out to VMs
// one address at a time.
type Address struct {
	ID     string `json:"id"`
	HostID string `json:"host_id"`
	CIDR   string `json:"cidr"`
}

// IsIPv4 returns true for IPv4 subnets.
func (a *Address) IsIPv4() bool {
	p, err := netip.ParsePrefix(a.CIDR)
	if err != nil {
		return false
	}
	return p.Addr().Is4()
}

// Size returns the number of addresses in the subnet.
func (a *Address) Size() int {
	p, err := netip.ParsePrefix(a.CIDR)
	if err != nil || !p.Addr().Is4() {
		return 0
	}
	return 1 << (32 - p.Bits())
}

// UsableSize returns the number of addresses a VM can get from the subnet.
// Network and broadcast addresses are excluded below /31.
func (a *Address) UsableSize() int {
	p, err := netip.ParsePrefix(a.CIDR)
	if err != nil || !p.Addr().Is4() {
		return 0
	}
	if p.Bits() < 31 {
		return 1<<(32-p.Bits()) - 2
	}
	return 1 << (32 - p.Bits())
}

// AssignedAddress records an address of a subnet given to a VM.
type AssignedAddress struct {
	ID        string `json:"id"`
	VMID      string `json:"vm_id"`
	AddressID string `json:"address_id"`
	IP        string `json:"ip"`
}
