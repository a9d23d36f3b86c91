//go:build linux

package subreaper

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Available reports whether child subreaper support is compiled in.
const Available = true

// Enable sets PR_SET_CHILD_SUBREAPER on the calling process. It can be called
// any number of times. It returns false when the kernel predates the option.
func Enable() (bool, error) {
	err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
	if errors.Is(err, unix.EINVAL) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("prctl(2) PR_SET_CHILD_SUBREAPER: %w", err)
	}
	return true, nil
}
