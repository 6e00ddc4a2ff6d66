// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")
)

// Allocation errors
var (
	// ErrNoEligibleHost is returned when no host can take a placement request.
	ErrNoEligibleHost = errors.New("no eligible host")

	// ErrConcurrentRace is returned when a conditional update affected fewer rows
	// than expected because a competing allocation consumed the capacity first.
	ErrConcurrentRace = errors.New("concurrent allocation detected")

	// ErrMalformedCPUSet is returned when a cpuset string does not follow the
	// cgroup list grammar.
	ErrMalformedCPUSet = errors.New("malformed cpuset")

	// ErrInsufficientWeight is returned when a weighted choice is made over
	// candidates whose weights sum to zero.
	ErrInsufficientWeight = errors.New("insufficient allocation weight")

	// ErrResourceOveruse is returned when a stored counter already reports more
	// usage than capacity.
	ErrResourceOveruse = errors.New("resource uses more than is available")
)
