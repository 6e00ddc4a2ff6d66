package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/limiquantix/allocator/internal/domain"
)

// vmNetwork is the addressing given to a VM when it is placed.
type vmNetwork struct {
	IPv4          string
	EphemeralNet6 string
	LocalVethoIP  string
}

var vethPrefix = netip.MustParsePrefix("169.254.0.0/16")

// assignNetwork picks the VM's addresses on the chosen host and records the
// IPv4 assignment.
func assignNetwork(ctx context.Context, tx Tx, c *HostCandidate, req *Request, rnd Rand) (*vmNetwork, error) {
	net6, err := randomNet6(c.Net6, rnd)
	if err != nil {
		return nil, err
	}
	out := &vmNetwork{
		EphemeralNet6: net6,
		LocalVethoIP:  randomVethIP(rnd),
	}

	if !req.IPv4Enabled {
		return out, nil
	}

	subnets, err := tx.IPv4Addresses(ctx, c.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ipv4 addresses: %w", err)
	}
	assigned, err := tx.AssignedIPv4s(ctx, c.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned ipv4 addresses: %w", err)
	}

	taken := make(map[netip.Addr]struct{}, len(assigned)+1)
	for _, ip := range assigned {
		if addr, err := netip.ParseAddr(ip); err == nil {
			taken[addr] = struct{}{}
		}
	}
	if addr, err := netip.ParseAddr(c.ManagementIP); err == nil {
		taken[addr] = struct{}{}
	}

	address, ip, ok := randomFreeIPv4(subnets, taken, rnd)
	if !ok {
		return nil, fmt.Errorf("%w: no usable ipv4 address left on host %s", domain.ErrNoEligibleHost, c.HostID)
	}

	err = tx.CreateAssignedAddress(ctx, &domain.AssignedAddress{
		ID:        uuid.New().String(),
		VMID:      req.VM.ID,
		AddressID: address.ID,
		IP:        ip.String(),
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("%w: ipv4 address %s was assigned concurrently", domain.ErrConcurrentRace, ip)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign ipv4 address: %w", err)
	}
	out.IPv4 = ip.String()
	return out, nil
}

// randomFreeIPv4 walks every usable address of the subnets, starting at a
// random offset, and returns the first one not taken.
func randomFreeIPv4(subnets []*domain.Address, taken map[netip.Addr]struct{}, rnd Rand) (*domain.Address, netip.Addr, bool) {
	type block struct {
		address *domain.Address
		first   netip.Addr
		size    int
	}

	var blocks []block
	total := 0
	for _, a := range subnets {
		prefix, err := netip.ParsePrefix(a.CIDR)
		if err != nil || !prefix.Addr().Is4() {
			continue
		}
		prefix = prefix.Masked()
		first, size := prefix.Addr(), a.Size()
		// network and broadcast addresses are unusable in regular subnets
		if prefix.Bits() < 31 {
			first, size = first.Next(), size-2
		}
		if size <= 0 {
			continue
		}
		blocks = append(blocks, block{address: a, first: first, size: size})
		total += size
	}
	if total == 0 {
		return nil, netip.Addr{}, false
	}

	start := rnd.IntN(total)
	for i := 0; i < total; i++ {
		offset := (start + i) % total
		for _, b := range blocks {
			if offset >= b.size {
				offset -= b.size
				continue
			}
			ip := addIPv4(b.first, uint32(offset))
			if _, ok := taken[ip]; !ok {
				return b.address, ip, true
			}
			break
		}
	}
	return nil, netip.Addr{}, false
}

func addIPv4(addr netip.Addr, n uint32) netip.Addr {
	b := addr.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v += n
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// randomNet6 returns a random /79 inside the host's /64. Subnet 0 is kept
// for the host itself.
func randomNet6(hostNet6 string, rnd Rand) (string, error) {
	if hostNet6 == "" {
		return "", nil
	}
	prefix, err := netip.ParsePrefix(hostNet6)
	if err != nil {
		return "", fmt.Errorf("%w: host net6 %q: %v", domain.ErrInvalidArgument, hostNet6, err)
	}
	if !prefix.Addr().Is6() || prefix.Bits() > 64 {
		return "", fmt.Errorf("%w: host net6 %q is not an ipv6 /64", domain.ErrInvalidArgument, hostNet6)
	}

	b := prefix.Masked().Addr().As16()
	subnet := uint16(1+rnd.IntN(1<<15-1)) << 1
	b[8] = byte(subnet >> 8)
	b[9] = byte(subnet)
	return netip.PrefixFrom(netip.AddrFrom16(b), 79).String(), nil
}

func randomVethIP(rnd Rand) string {
	b := vethPrefix.Addr().As4()
	b[2] = byte(rnd.IntN(256))
	b[3] = byte(rnd.IntN(256))
	return netip.AddrFrom4(b).String()
}
