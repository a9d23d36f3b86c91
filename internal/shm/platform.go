//go:build unix

// Package shm contains platform-specific helpers for the shared counter page.
package shm

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrSizeMismatch is returned by AttachRegion when the backing object does not
// have the expected length.
var ErrSizeMismatch = errors.New("shm: region size mismatch")

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	// Fd backs Addr; -1 for a plain anonymous mapping that can only be
	// inherited, never handed over.
	Fd int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	Size int
}

// IsTransient reports whether err is a resource exhaustion failure that may
// succeed once the runtime returns memory to the OS.
func IsTransient(err error) bool {
	return errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN)
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
