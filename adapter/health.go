// Package adapter exposes the shared server state to external monitoring systems.
package adapter

import (
	"errors"
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/counterpage/api"
)

var (
	// ErrShuttingDown fails readiness once the supervisor starts draining.
	ErrShuttingDown = errors.New("server is shutting down")
	// ErrNoLiveWorkers fails readiness while no worker is within its deadline.
	ErrNoLiveWorkers = errors.New("no live workers")
)

// NewHealthHandler serves /live and /ready from the shared state. Readiness
// fails as soon as a shutdown is flagged, so load balancers stop routing
// before workers drain.
func NewHealthHandler(h api.Health, workers int, now func() uint64) healthcheck.Handler {
	handler := healthcheck.NewHandler()
	handler.AddLivenessCheck("state", func() error {
		_, err := h.CurrentGeneration()
		return err
	})
	handler.AddReadinessCheck("shutdown", func() error {
		down, err := h.ShuttingDown()
		if err != nil {
			return err
		}
		if down {
			return ErrShuttingDown
		}
		return nil
	})
	handler.AddReadinessCheck("workers", func() error {
		live, err := h.LiveWorkers(workers, now())
		if err != nil {
			return err
		}
		if live == 0 {
			return fmt.Errorf("%w: 0/%d", ErrNoLiveWorkers, workers)
		}
		return nil
	})
	return handler
}
