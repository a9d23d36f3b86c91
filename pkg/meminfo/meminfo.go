// Package meminfo reports how much of a process's memory is shared with
// others, which tells how well copy-on-write pages survive in forked workers.
package meminfo

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Info is a memory summary of one process, in kB.
type Info struct {
	PID    int32
	RSS    uint64
	PSS    uint64
	Shared uint64
}

// Read sums the memory mappings of pid.
func Read(pid int32) (Info, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Info{}, fmt.Errorf("meminfo: process %d: %w", pid, err)
	}
	return read(p)
}

func read(p *process.Process) (Info, error) {
	maps, err := p.MemoryMaps(true)
	if err != nil {
		return Info{}, fmt.Errorf("meminfo: maps of %d: %w", p.Pid, err)
	}
	info := Info{PID: p.Pid}
	for _, m := range *maps {
		info.RSS += m.Rss
		info.PSS += m.Pss
		info.Shared += m.SharedClean + m.SharedDirty
	}
	return info, nil
}

// Children reads every direct child of pid.
func Children(pid int32) ([]Info, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("meminfo: process %d: %w", pid, err)
	}
	children, err := p.Children()
	if errors.Is(err, process.ErrorNoChildren) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("meminfo: children of %d: %w", pid, err)
	}
	infos := make([]Info, 0, len(children))
	for _, c := range children {
		info, err := read(c)
		if err != nil {
			// the child may have exited in between
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// CoWEfficiency is the share of the parent's resident memory that i still
// shares, in percent.
func (i Info) CoWEfficiency(parent Info) float64 {
	if parent.RSS == 0 {
		return 0
	}
	return float64(i.Shared) / float64(parent.RSS) * 100
}
