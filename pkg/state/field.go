//go:build unix

package state

import (
	"fmt"

	"github.com/srediag/counterpage/api"
	"github.com/srediag/counterpage/pkg/shm"
)

// MaxDeadline is the largest deadline a WorkerState can encode.
const MaxDeadline = shm.SlotMax >> 1

// Field is one slot of the shared state.
type Field struct {
	counters api.Counters
	index    int
}

// NewField binds slot index of counters.
func NewField(counters api.Counters, index int) Field {
	return Field{counters: counters, index: index}
}

// Value reads the slot.
func (f Field) Value() (uint64, error) {
	return f.counters.Get(f.index)
}

// SetValue writes the slot.
func (f Field) SetValue(v uint64) error {
	_, err := f.counters.Set(f.index, v)
	return err
}

// WorkerState packs a ready flag in bit 0 and a deadline in the remaining
// bits of a single slot, so both are published by one store. Only the owning
// process may write it.
type WorkerState struct {
	field Field
}

// NewWorkerState wraps a field.
func NewWorkerState(f Field) WorkerState {
	return WorkerState{field: f}
}

// Ready reports the ready flag.
func (w WorkerState) Ready() (bool, error) {
	v, err := w.field.Value()
	return v&1 == 1, err
}

// SetReady updates the ready flag and keeps the deadline.
func (w WorkerState) SetReady(ready bool) error {
	v, err := w.field.Value()
	if err != nil {
		return err
	}
	if ready {
		v |= 1
	} else {
		v &^= 1
	}
	return w.field.SetValue(v)
}

// Deadline returns the deadline in seconds on the monotonic clock.
func (w WorkerState) Deadline() (uint64, error) {
	v, err := w.field.Value()
	return v >> 1, err
}

// SetDeadline updates the deadline and keeps the ready flag.
func (w WorkerState) SetDeadline(deadline uint64) error {
	if deadline > MaxDeadline {
		return fmt.Errorf("%w: deadline %d exceeds %d", shm.ErrRange, deadline, MaxDeadline)
	}
	v, err := w.field.Value()
	if err != nil {
		return err
	}
	return w.field.SetValue(deadline<<1 | v&1)
}
