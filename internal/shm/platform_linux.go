//go:build linux

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// MapRegion creates a zero-filled shared region backed by an anonymous memfd
// so that it can be handed to exec'd children. Kernels without memfd_create
// fall back to a plain anonymous mapping.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	fd, err := unix.MemfdCreate(opts.Name, unix.MFD_CLOEXEC)
	if errors.Is(err, unix.ENOSYS) {
		return mapAnonymous(opts.Size)
	}
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, prot, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	clear(addr)
	return &MappedRegion{Addr: addr, Fd: fd}, nil
}
