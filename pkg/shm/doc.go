// Package shm provides a cross-process shared memory counter page.
//
// A [Page] is a region of anonymous shared memory divided into fixed-size
// slots, each holding a uint64 counter. It is created once by a parent process
// before workers start and read or written by any process holding a handle,
// with no locking and no system call per access.
//
// Sizing is detected once per process:
//
//	cfg, err := shm.Platform()
//	if err != nil {
//	    log.Fatal(err) // unusable page size
//	}
//	page, err := shm.NewPage(cfg, 10)
//	// ...
//	defer page.Close()
//	page.Set(0, 1)
//	v, _ := page.Get(0)
//
// On Linux the region is backed by a memfd. [Page.File] hands it to a child
// started with os/exec and [Attach] maps it on the other side.
//
// # Concurrency
//
// Each slot must have at most one writer process at a time; any process may
// read any slot. Loads and stores are single aligned words and never tear.
// There is no read-modify-write primitive.
package shm
