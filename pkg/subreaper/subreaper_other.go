//go:build !linux

package subreaper

// Available reports whether child subreaper support is compiled in.
const Available = false

// Enable is a no-op that reports false on platforms without subreapers.
func Enable() (bool, error) {
	return false, nil
}
