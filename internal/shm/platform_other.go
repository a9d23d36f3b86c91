//go:build unix && !linux

package shm

// MapRegion creates a zero-filled anonymous shared region. It is visible to
// forked descendants only.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	return mapAnonymous(opts.Size)
}
