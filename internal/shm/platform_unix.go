//go:build unix

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const prot = unix.PROT_READ | unix.PROT_WRITE

func mapAnonymous(size int) (*MappedRegion, error) {
	addr, err := unix.Mmap(-1, 0, size, prot, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	clear(addr)
	return &MappedRegion{Addr: addr, Fd: -1}, nil
}

// AttachRegion maps an existing shared object of exactly size bytes. fd stays
// owned by the caller; the region keeps its own duplicate.
func AttachRegion(fd int, size int) (*MappedRegion, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size != int64(size) {
		return nil, fmt.Errorf("%w: object is %d bytes, want %d", ErrSizeMismatch, st.Size, size)
	}
	own, err := DupFd(fd)
	if err != nil {
		return nil, err
	}
	addr, err := unix.Mmap(own, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(own)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: addr, Fd: own}, nil
}

// DupFd duplicates fd with close-on-exec set.
func DupFd(fd int) (int, error) {
	if fd < 0 {
		return -1, errors.ErrUnsupported
	}
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("dup: %w", err)
	}
	return nfd, nil
}

// UnmapRegion unmaps the region and closes its descriptor, if any.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if region.Fd >= 0 {
		fd := region.Fd
		region.Fd = -1
		if err := unix.Close(fd); err != nil {
			return fmt.Errorf("close fd %d: %w", fd, err)
		}
	}
	return nil
}
