// Package cpuset converts between cgroup cpuset lists ("0-1,6-7") and CPU bitmasks.
//
// Bit i of a bitmask is set when CPU i is in the set. Bitmasks are big.Int
// values so hosts with more than 64 CPUs are handled without special cases.
package cpuset

import (
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
	"strings"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/limiquantix/allocator/internal/domain"
)

// MaxCPU is the highest CPU number accepted in a cpuset list.
const MaxCPU = 1<<16 - 1

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedCPUSet, reason)
}

// ToBitmask parses a cgroup cpuset list into a bitmask.
func ToBitmask(s string) (*big.Int, error) {
	if s == "" {
		return nil, malformed("cpuset cannot be empty")
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '-' {
			return nil, malformed("cpuset can only contain numbers, comma (,) and hyphen (-)")
		}
	}

	mask := new(big.Int)
	for _, item := range strings.Split(s, ",") {
		bounds := strings.Split(item, "-")
		if len(bounds) > 2 {
			return nil, malformed("unexpected list of cpus in the cpuset")
		}

		first, err := parseCPU(bounds[0])
		if err != nil {
			return nil, err
		}
		last := first
		if len(bounds) == 2 {
			if last, err = parseCPU(bounds[1]); err != nil {
				return nil, err
			}
		}
		if first > last {
			return nil, malformed("invalid list of cpus in the cpuset")
		}

		for cpu := first; cpu <= last; cpu++ {
			mask.SetBit(mask, cpu, 1)
		}
	}
	return mask, nil
}

func parseCPU(s string) (int, error) {
	cpu, err := strconv.Atoi(s)
	if err != nil || cpu > MaxCPU {
		return 0, malformed("invalid list of cpus in the cpuset")
	}
	return cpu, nil
}

// FromBitmask renders a bitmask as a cgroup cpuset list. Ranges come out low
// to high, single CPUs have no dash and an empty mask renders as "".
func FromBitmask(mask *big.Int) string {
	if mask == nil {
		return ""
	}

	var b strings.Builder
	n := mask.BitLen()
	for cpu := 0; cpu < n; cpu++ {
		if mask.Bit(cpu) == 0 {
			continue
		}
		last := cpu
		for last+1 < n && mask.Bit(last+1) == 1 {
			last++
		}

		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(cpu))
		if last > cpu {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(last))
		}
		cpu = last
	}
	return b.String()
}

// CountBits returns the number of CPUs in the mask.
func CountBits(mask *big.Int) int {
	if mask == nil {
		return 0
	}
	count := 0
	for _, word := range mask.Bits() {
		count += bits.OnesCount(uint(word))
	}
	return count
}

// Or returns the union of two masks. Nil masks are treated as empty.
func Or(a, b *big.Int) *big.Int {
	out := new(big.Int)
	if a != nil {
		out.Or(out, a)
	}
	if b != nil {
		out.Or(out, b)
	}
	return out
}

// FromCPUs builds a mask from a list of CPU numbers.
func FromCPUs(cpus ...int) *big.Int {
	mask := new(big.Int)
	for _, cpu := range cpus {
		mask.SetBit(mask, cpu, 1)
	}
	return mask
}

// ToSet converts a mask into a CPUSet.
func ToSet(mask *big.Int) k8scpuset.CPUSet {
	if mask == nil {
		return k8scpuset.New()
	}
	cpus := make([]int, 0, CountBits(mask))
	for cpu := 0; cpu < mask.BitLen(); cpu++ {
		if mask.Bit(cpu) == 1 {
			cpus = append(cpus, cpu)
		}
	}
	return k8scpuset.New(cpus...)
}

// FromSet converts a CPUSet into a mask.
func FromSet(set k8scpuset.CPUSet) *big.Int {
	return FromCPUs(set.List()...)
}
