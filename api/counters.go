// Package api defines public API contracts for counterpage.
package api

// Counters is a set of unsigned counters addressed by slot index.
type Counters interface {
	Get(index int) (uint64, error)
	Set(index int, value uint64) (uint64, error)
}
