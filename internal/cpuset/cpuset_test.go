package cpuset

import (
	"errors"
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/limiquantix/allocator/internal/domain"
)

func TestCPUSet_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"disjoint ranges", "2-3,6-7", "2-3,6-7"},
		{"range and single cpu", "2-3,7", "2-3,7"},
		{"single cpu", "7", "7"},
		{"degenerate range", "7-7", "7"},
		{"inverted order", "6-7,2-3", "2-3,6-7"},
		{"adjacent ranges merge", "0-1,2-3", "0-3"},
		{"large cpu numbers", "0-1,1022-1023", "0-1,1022-1023"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := ToBitmask(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FromBitmask(mask))
		})
	}
}

func TestCPUSet_Malformed(t *testing.T) {
	tests := []struct {
		in      string
		message string
	}{
		{"", "empty"},
		{"1234 abcd", "can only contain numbers"},
		{"1234-234%", "can only contain numbers"},
		{"1234-234-456", "unexpected list"},
		{"7-4", "invalid list"},
		{"-", "invalid list"},
		{"1,,2", "invalid list"},
		{"99999999", "invalid list"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ToBitmask(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedCPUSet))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestFromBitmask_Empty(t *testing.T) {
	assert.Equal(t, "", FromBitmask(big.NewInt(0)))
	assert.Equal(t, "", FromBitmask(nil))
}

func TestToBitmask_Bits(t *testing.T) {
	mask, err := ToBitmask("2-3")
	require.NoError(t, err)
	assert.Equal(t, "1100", mask.Text(2))
}

func TestCountBits(t *testing.T) {
	mask, err := ToBitmask("2-3")
	require.NoError(t, err)
	assert.Equal(t, 2, CountBits(mask))

	mask, err = ToBitmask("2-3,6-7")
	require.NoError(t, err)
	assert.Equal(t, 4, CountBits(mask))

	mask, err = ToBitmask("0-1,1022-1023")
	require.NoError(t, err)
	assert.Equal(t, 4, CountBits(mask))

	assert.Equal(t, 0, CountBits(nil))
}

func TestOr(t *testing.T) {
	a := FromCPUs(0, 1)
	b := FromCPUs(1, 6, 7)
	assert.Equal(t, "0-1,6-7", FromBitmask(Or(a, b)))
	assert.Equal(t, "0-1", FromBitmask(Or(a, nil)))
	// inputs stay untouched
	assert.Equal(t, "0-1", FromBitmask(a))
}

func TestSetConversion(t *testing.T) {
	mask := FromCPUs(3, 1, 2, 9)
	set := ToSet(mask)
	assert.Equal(t, []int{1, 2, 3, 9}, set.List())
	assert.Equal(t, "1-3,9", set.String())
	assert.Equal(t, 0, FromSet(set).Cmp(mask))
}

func TestCPUSet_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cpus := rapid.SliceOfDistinct(rapid.IntRange(0, 2047), rapid.ID[int]).Draw(t, "cpus")
		if len(cpus) == 0 {
			return
		}
		sort.Ints(cpus)

		list := FromBitmask(FromCPUs(cpus...))
		mask, err := ToBitmask(list)
		if err != nil {
			t.Fatalf("rendered list %q does not parse: %v", list, err)
		}
		if got := FromBitmask(mask); got != list {
			t.Fatalf("round trip changed %q into %q", list, got)
		}
		if CountBits(mask) != len(cpus) {
			t.Fatalf("expected %d cpus in %q, got %d", len(cpus), list, CountBits(mask))
		}
		// the rendered list agrees with the cpuset library
		if got := ToSet(mask).String(); got != list {
			t.Fatalf("cpuset library renders %q, codec renders %q", got, list)
		}
	})
}
