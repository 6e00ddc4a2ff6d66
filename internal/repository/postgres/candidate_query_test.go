package postgres

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

func testRequest(t *testing.T, mutate func(vm *domain.VirtualMachine), opts ...scheduler.RequestOption) *scheduler.Request {
	t.Helper()
	vm := &domain.VirtualMachine{
		ID: "vm-1", Family: "standard", Arch: "x64", BootImage: "ubuntu-jammy",
		Cores: 2, CPUPercentLimit: 200, MemoryGiB: 8,
	}
	if mutate != nil {
		mutate(vm)
	}
	req, err := scheduler.NewRequest(vm, []scheduler.VolumeSpec{
		{SizeGiB: 20, Boot: true},
		{SizeGiB: 1, ReadOnly: true, Image: "github-actions-cache"},
	}, opts...)
	require.NoError(t, err)
	return req
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// assertPlaceholders checks every argument is referenced and no placeholder
// is out of range.
func assertPlaceholders(t *testing.T, query string, args []any) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(query, -1) {
		seen[m[1]] = true
	}
	assert.Len(t, seen, len(args))
}

func TestCandidateQuery_Basic(t *testing.T) {
	query, args := candidateQuery(testRequest(t, nil))
	assertPlaceholders(t, query, args)

	assert.Equal(t, []any{
		"x64", 21, 1,
		[]string{"ubuntu-jammy", "github-actions-cache"}, 2,
		[]string{"accepting"},
		8, 2,
	}, args)

	assert.Contains(t, query, "JOIN storage s ON s.vm_host_id = h.id")
	assert.Contains(t, query, "JOIN ipv4 ip ON ip.vm_host_id = h.id")
	assert.Contains(t, query, "device_class IN ('0300', '0302')")
	assert.Contains(t, query, "display_state = 'creating'")
	assert.NotContains(t, query, "slices AS")
	assert.NotContains(t, query, "available_gpus, 0) >=")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(query), "ORDER BY h.id"))
}

func TestCandidateQuery_Filters(t *testing.T) {
	req := testRequest(t, func(vm *domain.VirtualMachine) { vm.IPv4Enabled = true },
		scheduler.WithGPUCount(1),
		scheduler.WithDistinctStorageDevices(),
		scheduler.WithHostFilter("h1", "h2"),
		scheduler.WithHostExclusionFilter("h3"),
		scheduler.WithLocationFilter("hetzner-fsn1"),
		scheduler.WithAllocationStateFilter(domain.AllocationStateAccepting, domain.AllocationStateDraining),
	)

	query, args := candidateQuery(req)
	assertPlaceholders(t, query, args)

	assert.Contains(t, query, "coalesce(asg.assigned_ipv4, 0) + 1 < ip.total_ipv4")
	assert.Contains(t, query, "WHEN masklen(cidr) < 31 THEN power(2, 32 - masklen(cidr)) - 2")
	assert.Contains(t, query, "h.id::text = ANY(")
	assert.Contains(t, query, "NOT (h.id::text = ANY(")
	assert.Contains(t, query, "h.location = ANY(")
	assert.Contains(t, query, "coalesce(g.available_gpus, 0) >= ")
	assert.Contains(t, args, []string{"h1", "h2"})
	assert.Contains(t, args, []string{"h3"})
	assert.Contains(t, args, []string{"accepting", "draining"})
	assert.Equal(t, 2, args[2], "distinct volumes need one device each")
}

func TestCandidateQuery_SharedSlices(t *testing.T) {
	req := testRequest(t, func(vm *domain.VirtualMachine) {
		vm.UseSlices = true
		vm.CanShareSlice = true
	})

	query, args := candidateQuery(req)
	assertPlaceholders(t, query, args)

	assert.Equal(t, []any{200, 8, "standard", 2}, args[:4])
	assert.Contains(t, query, "slices AS")
	assert.Contains(t, query, "type = 'shared'")
	assert.Contains(t, query, "LEFT JOIN slices sl ON sl.vm_host_id = h.id")
	assert.Contains(t, query, "OR (coalesce(sl.cpu_available, 0) > 0 AND coalesce(sl.memory_available, 0) > 0)")
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))
}
