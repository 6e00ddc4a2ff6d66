package scheduler

import (
	"errors"

	"github.com/limiquantix/allocator/internal/domain"
)

// ErrorKind classifies allocation failures for callers deciding whether to retry.
type ErrorKind string

const (
	KindNoEligibleHost     ErrorKind = "no_eligible_host"
	KindConcurrentRace     ErrorKind = "concurrent_race"
	KindMalformedCPUSet    ErrorKind = "malformed_cpuset"
	KindInsufficientWeight ErrorKind = "insufficient_weight"
	KindResourceOveruse    ErrorKind = "resource_overuse"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindInternal           ErrorKind = "internal"
)

// AllocationError is returned by Allocate. It unwraps to both the domain
// sentinel of its kind and the underlying cause.
type AllocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *AllocationError) Error() string {
	return "allocation failed (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the same request again may succeed.
func (e *AllocationError) Retryable() bool {
	return e.Kind == KindConcurrentRace
}

// IsRetryable reports whether err is an allocation error worth retrying.
func IsRetryable(err error) bool {
	var ae *AllocationError
	return errors.As(err, &ae) && ae.Retryable()
}

var errorKinds = []struct {
	sentinel error
	kind     ErrorKind
}{
	{domain.ErrConcurrentRace, KindConcurrentRace},
	{domain.ErrNoEligibleHost, KindNoEligibleHost},
	{domain.ErrMalformedCPUSet, KindMalformedCPUSet},
	{domain.ErrInsufficientWeight, KindInsufficientWeight},
	{domain.ErrResourceOveruse, KindResourceOveruse},
	{domain.ErrInvalidArgument, KindInvalidRequest},
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var ae *AllocationError
	if errors.As(err, &ae) {
		return err
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return &AllocationError{Kind: k.kind, Err: err}
		}
	}
	return &AllocationError{Kind: KindInternal, Err: err}
}
