//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"

	internalshm "github.com/srediag/counterpage/internal/shm"
)

type pageState uint8

const (
	stateUnmapped pageState = iota
	stateMapped
	stateReleased
)

var (
	mapRegion = internalshm.MapRegion
	reclaim   = debug.FreeOSMemory
)

// Page is a shared memory region divided into counter slots. Only the first
// Size slots are addressable even though Capacity slots back the mapping.
//
// A Page owns its handle on the region: Close releases it exactly once. Other
// processes holding the same region keep their own handles.
type Page struct {
	mu      sync.RWMutex
	state   pageState
	cfg     PlatformConfig
	size    int
	capa    int
	region  *internalshm.MappedRegion
	cleanup runtime.Cleanup
}

// NewPage maps a zero-filled page able to address size slots.
func NewPage(cfg PlatformConfig, size int) (*Page, error) {
	p := &Page{}
	if err := p.Init(cfg, size); err != nil {
		return nil, err
	}
	return p, nil
}

// Init maps the region of a zero Page. A Page is initialized at most once.
func (p *Page) Init(cfg PlatformConfig, size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateMapped:
		return fmt.Errorf("%w: already initialized", ErrConfiguration)
	case stateReleased:
		return fmt.Errorf("%w: page was released", ErrConfiguration)
	}
	if err := cfg.checkSize(size); err != nil {
		return err
	}
	capa := cfg.Capacity(size)
	region, err := allocate(capa * cfg.slotSize)
	if err != nil {
		return err
	}
	p.adopt(cfg, size, capa, region)
	return nil
}

// Attach maps a region received from a parent, typically through
// exec.Cmd.ExtraFiles. size must match what the parent requested.
func Attach(cfg PlatformConfig, f *os.File, size int) (*Page, error) {
	if err := cfg.checkSize(size); err != nil {
		return nil, err
	}
	capa := cfg.Capacity(size)
	region, err := internalshm.AttachRegion(int(f.Fd()), capa*cfg.slotSize)
	runtime.KeepAlive(f)
	if errors.Is(err, internalshm.ErrSizeMismatch) {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	p := &Page{}
	p.adopt(cfg, size, capa, region)
	return p, nil
}

func (p *Page) adopt(cfg PlatformConfig, size, capa int, region *internalshm.MappedRegion) {
	p.cfg = cfg
	p.size = size
	p.capa = capa
	p.region = region
	p.state = stateMapped
	p.cleanup = runtime.AddCleanup(p, releaseRegion, region)
}

// allocate retries a transient failure once, after asking the runtime to
// return unused memory to the OS.
func allocate(size int) (*internalshm.MappedRegion, error) {
	region, err := backoff.RetryNotifyWithData(
		func() (*internalshm.MappedRegion, error) {
			r, err := mapRegion(internalshm.MapOptions{Name: "counterpage", Size: size})
			if err != nil && !internalshm.IsTransient(err) {
				return nil, backoff.Permanent(err)
			}
			return r, err
		},
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1),
		func(error, time.Duration) { reclaim() },
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	return region, nil
}

func releaseRegion(region *internalshm.MappedRegion) {
	if err := internalshm.UnmapRegion(region); err != nil {
		panic(fmt.Sprintf("shm: releasing counter page: %v", err))
	}
}

// Close unmaps the page. Closing twice returns ErrUseAfterFree. A failing
// munmap means the address space is corrupt and panics.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateUnmapped:
		return nil
	case stateReleased:
		return fmt.Errorf("%w: page already released", ErrUseAfterFree)
	}
	p.cleanup.Stop()
	region := p.region
	p.region = nil
	p.state = stateReleased
	releaseRegion(region)
	return nil
}

// Get returns the counter stored in slot index.
func (p *Page) Get(index int) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	addr, err := p.slot(index)
	if err != nil {
		return 0, err
	}
	return internalshm.AtomicLoadUint64(addr), nil
}

// Set stores value in slot index and returns it. Each slot must have a single
// writer at a time; Set is not a read-modify-write.
func (p *Page) Set(index int, value uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	addr, err := p.slot(index)
	if err != nil {
		return 0, err
	}
	internalshm.AtomicStoreUint64(addr, value)
	return value, nil
}

func (p *Page) slot(index int) (unsafe.Pointer, error) {
	if p.state != stateMapped {
		return nil, ErrUseAfterFree
	}
	if index < 0 || index >= p.size {
		return nil, fmt.Errorf("%w: index %d, size %d", ErrBounds, index, p.size)
	}
	return unsafe.Pointer(&p.region.Addr[index*p.cfg.slotSize]), nil
}

// File returns a new descriptor for the region, suitable for
// exec.Cmd.ExtraFiles. The caller owns the returned file. It fails with
// errors.ErrUnsupported when the region can only be inherited by fork.
func (p *Page) File() (*os.File, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != stateMapped {
		return nil, ErrUseAfterFree
	}
	fd, err := internalshm.DupFd(p.region.Fd)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "counterpage"), nil
}

// Size is the number of addressable slots.
func (p *Page) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Capacity is the number of slots backing the mapping.
func (p *Page) Capacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capa
}

// Mapped reports whether the page can be accessed.
func (p *Page) Mapped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == stateMapped
}

// Config returns the sizing the page was laid out with.
func (p *Page) Config() PlatformConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}
