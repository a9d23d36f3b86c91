//go:build unix

package state

import (
	"golang.org/x/sys/unix"
)

// Now returns the system-wide monotonic clock in whole seconds. Unlike
// time.Now it is comparable across processes, which deadlines require.
func Now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("state: clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return uint64(ts.Sec)
}
