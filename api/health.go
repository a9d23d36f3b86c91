package api

// Health is the read side of the server state used by probes and exporters.
type Health interface {
	// ShuttingDown reports whether the supervisor started a shutdown.
	ShuttingDown() (bool, error)
	// LiveWorkers counts the workers among the first count whose deadline
	// lies after now.
	LiveWorkers(count int, now uint64) (int, error)
	// ReadyWorkers counts the workers among the first count that reported ready.
	ReadyWorkers(count int) (int, error)
	// CurrentGeneration returns the generation most recently promoted.
	CurrentGeneration() (uint64, error)
}
