package scheduler

import (
	"math"
	"slices"
)

// Score penalties. Lower scores win.
const (
	provisioningPenalty   = 0.5
	fullSlicePenalty      = 0.5
	legacyHostPenalty     = 0.5
	unusedGPUPenalty      = 5
	locationMissedPenalty = 10

	// legacyHostCores identifies the older host generation that is only
	// used when newer hosts are full.
	legacyHostCores = 32
)

// hostScore rates a valid allocation against the target utilization.
//
// Hosts near the target utilization score best. Going over the target is
// penalized more than staying under it, and so is an uneven spread of
// utilization across resources.
func hostScore(c *HostCandidate, req *Request, utils []float64, target float64) float64 {
	score := target - mean(utils)
	if score < 0 {
		score = math.Abs(score) + 1
	}

	score += slices.Max(utils) - slices.Min(utils)

	score += float64(c.ProvisioningCount) * provisioningPenalty

	if req.CanShareSlice && (c.SliceCPUAvailable == 0 || c.SliceMemoryAvailable == 0) {
		score += fullSlicePenalty
	}

	if c.TotalCores == legacyHostCores {
		score += legacyHostPenalty
	}

	if c.NumGPUs > 0 && req.GPUCount == 0 {
		score += unusedGPUPenalty
	}

	if len(req.LocationPreference) > 0 && !slices.Contains(req.LocationPreference, c.Location) {
		score += locationMissedPenalty
	}

	return score
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
