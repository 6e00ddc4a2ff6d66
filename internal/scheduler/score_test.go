package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostScore_Utilization(t *testing.T) {
	req := testRequest(testVM(), []int{10})
	c := &HostCandidate{TotalCores: 48}

	tests := []struct {
		name  string
		utils []float64
		want  float64
	}{
		{name: "under target", utils: []float64{0.5, 0.5}, want: 0.05},
		{name: "at target", utils: []float64{0.55, 0.55}, want: 0},
		{name: "over target", utils: []float64{0.75, 0.75}, want: 1.2},
		{name: "imbalanced", utils: []float64{0.2, 0.6}, want: 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, hostScore(c, req, tt.utils, 0.55), 1e-9)
		})
	}
}

func TestHostScore_Penalties(t *testing.T) {
	utils := []float64{0.55, 0.55}

	tests := []struct {
		name      string
		candidate HostCandidate
		opts      []RequestOption
		share     bool
		want      float64
	}{
		{name: "provisioning vms", candidate: HostCandidate{ProvisioningCount: 2}, want: 1},
		{name: "legacy host", candidate: HostCandidate{TotalCores: 32}, want: 0.5},
		{name: "unused gpus", candidate: HostCandidate{NumGPUs: 2}, want: 5},
		{name: "gpus requested", candidate: HostCandidate{NumGPUs: 2}, opts: []RequestOption{WithGPUCount(1)}, want: 0},
		{name: "location missed", candidate: HostCandidate{Location: "fsn1"}, opts: []RequestOption{WithLocationPreference("hel1")}, want: 10},
		{name: "location preferred", candidate: HostCandidate{Location: "hel1"}, opts: []RequestOption{WithLocationPreference("hel1")}, want: 0},
		{name: "no slice headroom", candidate: HostCandidate{SliceCPUAvailable: 100}, share: true, want: 0.5},
		{name: "slice headroom", candidate: HostCandidate{SliceCPUAvailable: 100, SliceMemoryAvailable: 8}, share: true, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := testVM()
			vm.UseSlices = tt.share
			vm.CanShareSlice = tt.share
			req := testRequest(vm, []int{10}, tt.opts...)

			assert.InDelta(t, tt.want, hostScore(&tt.candidate, req, utils, 0.55), 1e-9)
		})
	}
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
	assert.InDelta(t, 0.5, mean([]float64{0.25, 0.75}), 1e-9)
}
