package shm

import "errors"

// Sentinel errors returned by page operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, shm.ErrBounds) {
//	    // index past the requested size
//	}
var (
	// ErrConfiguration indicates invalid construction arguments, an invalid
	// platform sizing, or initialization of a page that was already mapped.
	//
	// This is a programming error and is never retried.
	ErrConfiguration = errors.New("shm: invalid configuration")

	// ErrAllocation indicates the OS refused the mapping. Resource exhaustion
	// has already been retried once after returning memory to the OS.
	ErrAllocation = errors.New("shm: allocation failed")

	// ErrBounds indicates a slot index at or beyond the requested size. The
	// padding between size and capacity is never addressable.
	ErrBounds = errors.New("shm: slot index out of bounds")

	// ErrUseAfterFree indicates an access to a page after Close.
	//
	// This is a programming error.
	ErrUseAfterFree = errors.New("shm: invalid or freed page")

	// ErrRange indicates a value that does not fit the counter encoding used
	// by the caller.
	ErrRange = errors.New("shm: value out of range")
)
