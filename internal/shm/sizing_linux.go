//go:build linux

package shm

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var cacheDir = "/sys/devices/system/cpu/cpu0/cache"

// CacheLineSize returns the L1 data cache line size in bytes, or 0 when the
// kernel does not expose it.
func CacheLineSize() int {
	dirs, err := filepath.Glob(filepath.Join(cacheDir, "index*"))
	if err != nil {
		return 0
	}
	for _, dir := range dirs {
		if readAttr(dir, "level") != "1" {
			continue
		}
		if t := readAttr(dir, "type"); t != "Data" && t != "Unified" {
			continue
		}
		n, err := strconv.Atoi(readAttr(dir, "coherency_line_size"))
		if err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
