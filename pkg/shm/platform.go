//go:build unix

package shm

import (
	"fmt"
	"math"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"

	internalshm "github.com/srediag/counterpage/internal/shm"
)

const (
	// SlotMax is the maximum value a slot counter can hold.
	SlotMax uint64 = math.MaxUint64

	counterSize     = 8
	defaultSlotSize = 128
)

// PlatformConfig holds the page and slot sizes every Page of a process is
// laid out with. The zero value is invalid.
type PlatformConfig struct {
	pageSize int
	slotSize int
}

// NewPlatformConfig validates an explicit sizing. The page size must be a
// power of two and a multiple of the slot size, and a slot must hold a counter.
func NewPlatformConfig(pageSize, slotSize int) (PlatformConfig, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return PlatformConfig{}, fmt.Errorf("%w: system page size invalid: %d", ErrConfiguration, pageSize)
	}
	if slotSize < counterSize || slotSize%counterSize != 0 {
		return PlatformConfig{}, fmt.Errorf("%w: slot size %d cannot hold a %d byte counter", ErrConfiguration, slotSize, counterSize)
	}
	if pageSize < slotSize || pageSize%slotSize != 0 {
		return PlatformConfig{}, fmt.Errorf("%w: page size %d not a multiple of slot size %d", ErrConfiguration, pageSize, slotSize)
	}
	return PlatformConfig{pageSize: pageSize, slotSize: slotSize}, nil
}

var platform = sync.OnceValues(DetectPlatform)

// Platform returns the sizing of the running system, detected on first call
// and fixed for the rest of the process. Callers should treat an error as
// fatal at startup.
func Platform() (PlatformConfig, error) {
	return platform()
}

// DetectPlatform derives the sizing from the OS. Slots are padded to the L1
// data cache line on multi-core systems (128 bytes when undetectable) and
// packed to the counter width on single-core systems.
func DetectPlatform() (PlatformConfig, error) {
	ncpu, err := cpu.Counts(true)
	if err != nil || ncpu < 1 {
		ncpu = 2
	}
	return NewPlatformConfig(unix.Getpagesize(), slotSizeFor(ncpu, internalshm.CacheLineSize()))
}

func slotSizeFor(ncpu, lineSize int) int {
	if ncpu == 1 {
		return counterSize
	}
	if lineSize > 0 {
		return lineSize
	}
	return defaultSlotSize
}

// PageSize is the size in bytes of one OS page.
func (c PlatformConfig) PageSize() int { return c.pageSize }

// SlotSize is the size in bytes of one counter slot.
func (c PlatformConfig) SlotSize() int { return c.slotSize }

// Slots is the number of slots that fit in one OS page.
func (c PlatformConfig) Slots() int {
	if c.slotSize == 0 {
		return 0
	}
	return c.pageSize / c.slotSize
}

// Capacity is the number of slots backing a page of n requested slots once
// the mapping is rounded up to whole OS pages.
func (c PlatformConfig) Capacity(n int) int {
	if c.slotSize == 0 || n < 1 {
		return 0
	}
	bytes := (n*c.slotSize + c.pageSize - 1) &^ (c.pageSize - 1)
	return bytes / c.slotSize
}

func (c PlatformConfig) checkSize(size int) error {
	if c.pageSize == 0 {
		return fmt.Errorf("%w: zero PlatformConfig", ErrConfiguration)
	}
	if size < 1 {
		return fmt.Errorf("%w: size must be >= 1, got %d", ErrConfiguration, size)
	}
	if size > (math.MaxInt-c.pageSize)/c.slotSize {
		return fmt.Errorf("%w: size %d too large", ErrConfiguration, size)
	}
	return nil
}
