package scheduler

import (
	"fmt"

	"github.com/limiquantix/allocator/internal/domain"
)

// Key wrapping algorithms for encrypted volumes.
const (
	KeyWrappingAES256GCM         = "aes-256-gcm"
	KeyWrappingXChaCha20Poly1305 = "xchacha20-poly1305"
)

// Config holds the allocator tunables. It is loaded once at startup and
// passed by value into New.
type Config struct {
	// TargetHostUtilization is the load the scorer steers hosts towards,
	// as a fraction in (0, 1].
	TargetHostUtilization float64 `mapstructure:"target_host_utilization" json:"target_host_utilization"`

	// MaxRandomScore bounds the jitter added to each candidate's score.
	MaxRandomScore float64 `mapstructure:"max_random_score" json:"max_random_score"`

	// KeyWrappingAlgorithm is used for the key encryption keys of encrypted volumes.
	KeyWrappingAlgorithm string `mapstructure:"key_wrapping_algorithm" json:"key_wrapping_algorithm"`

	// SliceOvercommit maps a VM family to the CPU overcommit factor of its slices.
	// Families without an entry get 1.
	SliceOvercommit map[string]float64 `mapstructure:"slice_overcommit" json:"slice_overcommit"`
}

// DefaultConfig returns the default allocator configuration.
func DefaultConfig() Config {
	return Config{
		TargetHostUtilization: 0.55,
		MaxRandomScore:        0.1,
		KeyWrappingAlgorithm:  KeyWrappingAES256GCM,
	}
}

// Validate checks the tunables are usable.
func (c Config) Validate() error {
	if c.TargetHostUtilization <= 0 || c.TargetHostUtilization > 1 {
		return fmt.Errorf("%w: target_host_utilization must be in (0, 1], got %v",
			domain.ErrInvalidArgument, c.TargetHostUtilization)
	}
	if c.MaxRandomScore < 0 {
		return fmt.Errorf("%w: max_random_score must not be negative, got %v",
			domain.ErrInvalidArgument, c.MaxRandomScore)
	}
	switch c.KeyWrappingAlgorithm {
	case KeyWrappingAES256GCM, KeyWrappingXChaCha20Poly1305:
	default:
		return fmt.Errorf("%w: unsupported key_wrapping_algorithm %q",
			domain.ErrInvalidArgument, c.KeyWrappingAlgorithm)
	}
	for family, factor := range c.SliceOvercommit {
		if factor < 1 {
			return fmt.Errorf("%w: slice overcommit for family %q must be at least 1, got %v",
				domain.ErrInvalidArgument, family, factor)
		}
	}
	return nil
}

// sliceOvercommit returns the CPU overcommit factor for a family.
func (c Config) sliceOvercommit(family string) float64 {
	if factor, ok := c.SliceOvercommit[family]; ok {
		return factor
	}
	return 1
}

// Tunables is an operator-published partial override of Config.
// Nil fields keep the configured value.
type Tunables struct {
	TargetHostUtilization *float64           `json:"target_host_utilization,omitempty"`
	MaxRandomScore        *float64           `json:"max_random_score,omitempty"`
	SliceOvercommit       map[string]float64 `json:"slice_overcommit,omitempty"`
}

// WithTunables returns a copy of c with the non-nil tunables applied.
func (c Config) WithTunables(t Tunables) Config {
	out := c
	if t.TargetHostUtilization != nil {
		out.TargetHostUtilization = *t.TargetHostUtilization
	}
	if t.MaxRandomScore != nil {
		out.MaxRandomScore = *t.MaxRandomScore
	}
	if len(t.SliceOvercommit) > 0 {
		merged := make(map[string]float64, len(c.SliceOvercommit)+len(t.SliceOvercommit))
		for k, v := range c.SliceOvercommit {
			merged[k] = v
		}
		for k, v := range t.SliceOvercommit {
			merged[k] = v
		}
		out.SliceOvercommit = merged
	}
	return out
}
