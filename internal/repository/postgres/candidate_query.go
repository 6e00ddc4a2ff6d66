package postgres

import (
	"fmt"
	"strings"

	"github.com/limiquantix/allocator/internal/domain"
	"github.com/limiquantix/allocator/internal/scheduler"
)

// queryBuilder collects positional arguments for a statement.
type queryBuilder struct {
	args []any
}

// arg registers v and returns its placeholder.
func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// candidateQuery builds the statement selecting one aggregated row per host
// passing the request's filters, ordered by host id.
//
// Hosts without an enabled storage device or without an IPv4 subnet have no
// row in the storage or ipv4 aggregates and are excluded by the inner joins.
func candidateQuery(req *scheduler.Request) (string, []any) {
	b := &queryBuilder{}

	ctes := []string{
		`storage AS (
		SELECT vm_host_id,
		       count(*)::int AS num_devices,
		       sum(available_storage_gib)::int AS available_storage_gib,
		       sum(total_storage_gib)::int AS total_storage_gib,
		       jsonb_agg(jsonb_build_object(
		           'id', id,
		           'total_storage_gib', total_storage_gib,
		           'available_storage_gib', available_storage_gib
		       ) ORDER BY available_storage_gib, id) AS devices
		FROM storage_device
		WHERE enabled
		GROUP BY vm_host_id
	)`,
		`ipv4 AS (
		SELECT vm_host_id,
		       sum(CASE WHEN masklen(cidr) < 31 THEN power(2, 32 - masklen(cidr)) - 2
		                ELSE power(2, 32 - masklen(cidr)) END)::int AS total_ipv4
		FROM address
		WHERE family(cidr) = 4
		GROUP BY vm_host_id
	)`,
		`assigned AS (
		SELECT a.vm_host_id, count(*)::int AS assigned_ipv4
		FROM assigned_vm_address av
		JOIN address a ON a.id = av.address_id
		WHERE family(a.cidr) = 4
		GROUP BY a.vm_host_id
	)`,
		fmt.Sprintf(`gpus AS (
		SELECT vm_host_id,
		       count(*)::int AS num_gpus,
		       (count(*) FILTER (WHERE vm_id IS NULL))::int AS available_gpus,
		       coalesce(array_agg(iommu_group ORDER BY iommu_group) FILTER (WHERE vm_id IS NULL), '{}') AS iommu_groups
		FROM pci_device
		WHERE device_class IN ('%s', '%s')
		GROUP BY vm_host_id
	)`, domain.DeviceClassVGA, domain.DeviceClass3D),
		fmt.Sprintf(`provisioning AS (
		SELECT vm_host_id, count(*)::int AS provisioning_count
		FROM vm
		WHERE vm_host_id IS NOT NULL AND display_state = '%s'
		GROUP BY vm_host_id
	)`, domain.VMDisplayStateCreating),
	}

	sliceColumns := "0, 0"
	sliceJoin := ""
	if req.CanShareSlice {
		cpu, mem := b.arg(req.CPUPercentLimit), b.arg(req.MemoryGiB)
		ctes = append(ctes, fmt.Sprintf(`slices AS (
		SELECT vm_host_id,
		       sum(total_cpu_percent - used_cpu_percent)::int AS cpu_available,
		       sum(total_memory_gib - used_memory_gib)::int AS memory_available
		FROM vm_host_slice
		WHERE enabled AND type = '%s' AND family = %s AND cores = %s
		  AND used_cpu_percent + %s <= total_cpu_percent
		  AND used_memory_gib + %s <= total_memory_gib
		GROUP BY vm_host_id
	)`, domain.SliceTypeShared, b.arg(req.Family), b.arg(req.Cores), cpu, mem))
		sliceColumns = "coalesce(sl.cpu_available, 0), coalesce(sl.memory_available, 0)"
		sliceJoin = "LEFT JOIN slices sl ON sl.vm_host_id = h.id"
	}

	images := req.ImageNames()
	where := []string{
		"h.arch = " + b.arg(req.Arch),
		"s.available_storage_gib >= " + b.arg(req.StorageGiB),
		"s.num_devices >= " + b.arg(req.MinStorageDevices()),
		fmt.Sprintf(`(SELECT count(DISTINCT bi.name) FROM boot_image bi
		  WHERE bi.vm_host_id = h.id AND bi.activated_at IS NOT NULL AND bi.name = ANY(%s)) = %s`,
			b.arg(images), b.arg(len(images))),
	}
	if len(req.AllocationStateFilter) > 0 {
		states := make([]string, len(req.AllocationStateFilter))
		for i, s := range req.AllocationStateFilter {
			states[i] = string(s)
		}
		where = append(where, "h.allocation_state = ANY("+b.arg(states)+")")
	}
	if len(req.HostFilter) > 0 {
		where = append(where, "h.id::text = ANY("+b.arg(req.HostFilter)+")")
	}
	if len(req.HostExclusionFilter) > 0 {
		where = append(where, "NOT (h.id::text = ANY("+b.arg(req.HostExclusionFilter)+"))")
	}
	if len(req.LocationFilter) > 0 {
		where = append(where, "h.location = ANY("+b.arg(req.LocationFilter)+")")
	}
	if req.IPv4Enabled {
		where = append(where, "coalesce(asg.assigned_ipv4, 0) + 1 < ip.total_ipv4")
	}
	if req.GPUCount > 0 {
		where = append(where, "coalesce(g.available_gpus, 0) >= "+b.arg(req.GPUCount))
	}

	rawFit := fmt.Sprintf("(h.total_hugepages_1g - h.used_hugepages_1g >= %s AND h.total_cores - h.used_cores >= %s)",
		b.arg(req.MemoryGiB), b.arg(req.Cores))
	if req.CanShareSlice {
		where = append(where, fmt.Sprintf(
			"(%s OR (coalesce(sl.cpu_available, 0) > 0 AND coalesce(sl.memory_available, 0) > 0))", rawFit))
	} else {
		where = append(where, rawFit)
	}

	query := fmt.Sprintf(`
	WITH %s
	SELECT h.id, h.location, coalesce(h.net6::text, ''), coalesce(host(h.management_ip), ''),
	       h.total_cpus, h.total_cores, h.used_cores, h.total_hugepages_1g, h.used_hugepages_1g,
	       s.devices, s.available_storage_gib, s.total_storage_gib,
	       ip.total_ipv4, coalesce(asg.assigned_ipv4, 0) + 1,
	       coalesce(g.num_gpus, 0), coalesce(g.available_gpus, 0), coalesce(g.iommu_groups, '{}'),
	       coalesce(p.provisioning_count, 0),
	       %s
	FROM vm_host h
	JOIN storage s ON s.vm_host_id = h.id
	JOIN ipv4 ip ON ip.vm_host_id = h.id
	LEFT JOIN assigned asg ON asg.vm_host_id = h.id
	LEFT JOIN gpus g ON g.vm_host_id = h.id
	LEFT JOIN provisioning p ON p.vm_host_id = h.id
	%s
	WHERE %s
	ORDER BY h.id
	`, strings.Join(ctes, ",\n\t"), sliceColumns, sliceJoin, strings.Join(where, "\n\t  AND "))

	return query, b.args
}
