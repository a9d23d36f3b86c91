//go:build unix

// Package state lays the server's shared counters out over counter pages.
//
// Slot offsets are global: offset / Slots selects the page and
// offset % Slots the slot within it. Pages must exist before workers are
// started, since a child cannot see pages its parent maps later.
package state

import (
	"errors"
	"fmt"
	"os"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/counterpage/pkg/shm"
)

// Fixed slot offsets.
const (
	CurrentGenerationOffset = iota
	ShutdownOffset
	MoldTickOffset
	MoldPromotionTickOffset
	ServiceTickOffset
	WorkerTickOffset
)

var (
	// ErrNotAllocated indicates an offset on a page that was never
	// preallocated.
	ErrNotAllocated = errors.New("state: page not allocated")
	// ErrInvalidWorker indicates a negative worker number or count.
	ErrInvalidWorker = errors.New("state: invalid worker number")
)

// Memory is the set of counter pages shared by a supervisor and its workers.
type Memory struct {
	cfg   shm.PlatformConfig
	mu    sync.Mutex // serializes allocation
	pages cmap.ConcurrentMap[int, *shm.Page]
}

func newRegistry() cmap.ConcurrentMap[int, *shm.Page] {
	return cmap.NewWithCustomShardingFunction[int, *shm.Page](func(key int) uint32 {
		return uint32(key)
	})
}

// New maps the first page.
func New(cfg shm.PlatformConfig) (*Memory, error) {
	if cfg.Slots() == 0 {
		return nil, fmt.Errorf("%w: zero PlatformConfig", shm.ErrConfiguration)
	}
	m := &Memory{cfg: cfg, pages: newRegistry()}
	if err := m.Preallocate(0); err != nil {
		return nil, err
	}
	return m, nil
}

// Attach rebuilds the page set from files handed over by the supervisor, in
// page order.
func Attach(cfg shm.PlatformConfig, files []*os.File) (*Memory, error) {
	if cfg.Slots() == 0 {
		return nil, fmt.Errorf("%w: zero PlatformConfig", shm.ErrConfiguration)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no pages to attach", ErrNotAllocated)
	}
	m := &Memory{cfg: cfg, pages: newRegistry()}
	for i, f := range files {
		p, err := shm.Attach(cfg, f, cfg.Slots())
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("state: attaching page %d: %w", i, err)
		}
		m.pages.Set(i, p)
	}
	return m, nil
}

// PagesFor returns how many pages hold the fixed slots plus workers worker
// slots.
func PagesFor(cfg shm.PlatformConfig, workers int) int {
	slots := cfg.Slots()
	return (WorkerTickOffset + workers + slots - 1) / slots
}

// Preallocate maps every page needed by workers worker slots. Pages that
// already exist are kept.
func (m *Memory) Preallocate(workers int) error {
	if workers < 0 {
		return fmt.Errorf("%w: %d workers", ErrInvalidWorker, workers)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < PagesFor(m.cfg, workers); i++ {
		if m.pages.Has(i) {
			continue
		}
		p, err := shm.NewPage(m.cfg, m.cfg.Slots())
		if err != nil {
			return fmt.Errorf("state: allocating page %d: %w", i, err)
		}
		m.pages.Set(i, p)
	}
	return nil
}

// Pages returns the number of mapped pages.
func (m *Memory) Pages() int {
	return m.pages.Count()
}

// Config returns the sizing of the pages.
func (m *Memory) Config() shm.PlatformConfig {
	return m.cfg
}

// Field returns the slot at a global offset.
func (m *Memory) Field(offset int) (Field, error) {
	if offset < 0 {
		return Field{}, fmt.Errorf("%w: offset %d", shm.ErrBounds, offset)
	}
	slots := m.cfg.Slots()
	page, ok := m.pages.Get(offset / slots)
	if !ok {
		return Field{}, fmt.Errorf("%w: offset %d is on page %d", ErrNotAllocated, offset, offset/slots)
	}
	return NewField(page, offset%slots), nil
}

func (m *Memory) state(offset int) (WorkerState, error) {
	f, err := m.Field(offset)
	if err != nil {
		return WorkerState{}, err
	}
	return NewWorkerState(f), nil
}

// CurrentGeneration returns the generation most recently promoted.
func (m *Memory) CurrentGeneration() (uint64, error) {
	f, err := m.Field(CurrentGenerationOffset)
	if err != nil {
		return 0, err
	}
	return f.Value()
}

// SetCurrentGeneration publishes a new generation. Only the supervisor or
// the promoted mold writes it.
func (m *Memory) SetCurrentGeneration(gen uint64) error {
	f, err := m.Field(CurrentGenerationOffset)
	if err != nil {
		return err
	}
	return f.SetValue(gen)
}

// ShutDown flags the server as shutting down.
func (m *Memory) ShutDown() error {
	f, err := m.Field(ShutdownOffset)
	if err != nil {
		return err
	}
	return f.SetValue(1)
}

// ShuttingDown reports whether ShutDown was called by any process.
func (m *Memory) ShuttingDown() (bool, error) {
	f, err := m.Field(ShutdownOffset)
	if err != nil {
		return false, err
	}
	v, err := f.Value()
	return v > 0, err
}

// MoldState is the state slot of the current mold.
func (m *Memory) MoldState() (WorkerState, error) { return m.state(MoldTickOffset) }

// MoldPromotionState is the state slot of a worker being promoted to mold.
func (m *Memory) MoldPromotionState() (WorkerState, error) {
	return m.state(MoldPromotionTickOffset)
}

// ServiceState is the state slot of the service process.
func (m *Memory) ServiceState() (WorkerState, error) { return m.state(ServiceTickOffset) }

// WorkerState is the state slot of worker nr.
func (m *Memory) WorkerState(nr int) (WorkerState, error) {
	if nr < 0 {
		return WorkerState{}, fmt.Errorf("%w: %d", ErrInvalidWorker, nr)
	}
	return m.state(WorkerTickOffset + nr)
}

// LiveWorkers counts the workers among the first count whose deadline lies
// after now.
func (m *Memory) LiveWorkers(count int, now uint64) (int, error) {
	live := 0
	err := m.eachWorker(count, func(ws WorkerState) error {
		d, err := ws.Deadline()
		if err == nil && d > now {
			live++
		}
		return err
	})
	return live, err
}

// ReadyWorkers counts the workers among the first count that reported ready.
func (m *Memory) ReadyWorkers(count int) (int, error) {
	ready := 0
	err := m.eachWorker(count, func(ws WorkerState) error {
		ok, err := ws.Ready()
		if ok {
			ready++
		}
		return err
	})
	return ready, err
}

func (m *Memory) eachWorker(count int, fn func(WorkerState) error) error {
	if count < 0 {
		return fmt.Errorf("%w: %d workers", ErrInvalidWorker, count)
	}
	for nr := 0; nr < count; nr++ {
		ws, err := m.WorkerState(nr)
		if err != nil {
			return err
		}
		if err := fn(ws); err != nil {
			return err
		}
	}
	return nil
}

// Files returns a descriptor per page, in page order, for handing to a child
// through exec.Cmd.ExtraFiles. The caller closes them.
func (m *Memory) Files() ([]*os.File, error) {
	files := make([]*os.File, 0, m.pages.Count())
	for i := 0; i < m.pages.Count(); i++ {
		p, ok := m.pages.Get(i)
		if !ok {
			closeAll(files)
			return nil, fmt.Errorf("%w: page %d", ErrNotAllocated, i)
		}
		f, err := p.File()
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("state: sharing page %d: %w", i, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Close releases this process's handle on every page. Pages stay registered,
// so later accesses fail with shm.ErrUseAfterFree.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for item := range m.pages.IterBuffered() {
		if err := item.Val.Close(); err != nil {
			errs = append(errs, fmt.Errorf("page %d: %w", item.Key, err))
		}
	}
	return errors.Join(errs...)
}
