package otel

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time view of the client process.
type ProcessStats struct {
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

type processSampler interface {
	Sample() (ProcessStats, error)
}

// ProcessSampler reads resource usage of the current process.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler opens the current process for sampling.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", os.Getpid(), err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns current CPU and memory usage.
func (s *ProcessSampler) Sample() (ProcessStats, error) {
	var stats ProcessStats

	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return stats, fmt.Errorf("failed to read cpu: %w", err)
	}
	stats.CPUPercent = cpu

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read memory: %w", err)
	}
	if mem != nil {
		stats.RSSBytes = mem.RSS
	}

	if threads, err := s.proc.NumThreads(); err == nil {
		stats.NumThreads = threads
	}
	return stats, nil
}
