// Package sysmon samples host-wide load for the server's progress notices.
package sysmon

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Stats holds a single snapshot of system-wide resource usage.
type Stats struct {
	CPUPercent float64 // 0.0 .. 100.0, since the previous sample
	MemPercent float64 // 0.0 .. 100.0
	Load1      float64 // one-minute load average
}

// Sample collects a host-wide snapshot. CPU uses interval=0 (delta since
// the last call). Fields that cannot be read are left at zero.
func Sample() Stats {
	var s Stats
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil && vmem != nil {
		s.MemPercent = vmem.UsedPercent
	}
	if avg, err := load.Avg(); err == nil && avg != nil {
		s.Load1 = avg.Load1
	}
	return s
}

// ThreadCount returns the number of OS threads of the process pid. Workers
// are goroutines, so this shows how many threads the runtime is using to
// run them.
func ThreadCount(pid int32) (int32, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	return p.NumThreads()
}
