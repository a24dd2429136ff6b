package observability

import (
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time view of the server's own resource use
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// RSSMegabytes returns the resident set size in MB (10^6 bytes)
func (s ProcessStats) RSSMegabytes() float64 {
	return float64(s.RSSBytes) / 1e6
}

// ProcessMonitor samples the current process. The gopsutil handle is created lazily and
// reused so CPU percentages are computed against the previous sample.
type ProcessMonitor struct {
	mu   sync.Mutex
	pid  int32
	proc *process.Process
}

// NewProcessMonitor returns a monitor for the running process
func NewProcessMonitor() *ProcessMonitor {
	return &ProcessMonitor{pid: int32(os.Getpid())} //nolint:gosec // pids fit in int32
}

// Sample reads memory and CPU usage
func (m *ProcessMonitor) Sample() (ProcessStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		p, err := process.NewProcess(m.pid)
		if err != nil {
			return ProcessStats{}, fmt.Errorf("failed to get process instance: %w", err)
		}
		m.proc = p
	}

	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to get process memory info: %w", err)
	}
	cpu, err := m.proc.CPUPercent()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to get process cpu usage: %w", err)
	}
	return ProcessStats{RSSBytes: memInfo.RSS, CPUPercent: cpu}, nil
}
