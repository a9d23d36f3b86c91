package adapter

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/counterpage/api"
)

// RegisterOTel exposes the shared state as OpenTelemetry observable gauges.
// Unregister the returned registration to stop observing.
func RegisterOTel(meter metric.Meter, h api.Health, workers int, now func() uint64) (metric.Registration, error) {
	gen, err := meter.Int64ObservableGauge("counterpage.generation",
		metric.WithDescription("Generation most recently promoted."))
	if err != nil {
		return nil, err
	}
	down, err := meter.Int64ObservableGauge("counterpage.shutting_down",
		metric.WithDescription("1 once the supervisor started a shutdown."))
	if err != nil {
		return nil, err
	}
	live, err := meter.Int64ObservableGauge("counterpage.workers.live",
		metric.WithDescription("Workers within their deadline."))
	if err != nil {
		return nil, err
	}
	ready, err := meter.Int64ObservableGauge("counterpage.workers.ready",
		metric.WithDescription("Workers that reported ready."))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		g, err := h.CurrentGeneration()
		if err != nil {
			return err
		}
		o.ObserveInt64(gen, clampInt64(g))

		d, err := h.ShuttingDown()
		if err != nil {
			return err
		}
		o.ObserveInt64(down, int64(boolToFloat(d)))

		l, err := h.LiveWorkers(workers, now())
		if err != nil {
			return err
		}
		o.ObserveInt64(live, int64(l))

		r, err := h.ReadyWorkers(workers)
		if err != nil {
			return err
		}
		o.ObserveInt64(ready, int64(r))
		return nil
	}, gen, down, live, ready)
}

// clampInt64 saturates v at math.MaxInt64, the largest value an Int64 gauge
// can carry.
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
