// Package performance measures the process while columns are exercised:
// resource usage from the operating system and latency percentiles of
// individual operations.
package performance

import (
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceMonitor samples the resource usage of the current process.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

// NewResourceMonitor starts measuring from now. The monitor still works
// when the platform cannot describe the process; the affected fields stay
// zero.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm
}

// ResourceUsage is a point-in-time view of the process.
type ResourceUsage struct {
	CPUPercent            float64 `json:"cpu_percent"`
	MemoryRSS             uint64  `json:"memory_rss"`
	MemoryVMS             uint64  `json:"memory_vms"`
	HeapAlloc             uint64  `json:"heap_alloc"`
	GCCount               uint32  `json:"gc_count"`
	SystemMemoryPercent   float64 `json:"system_memory_percent"`
	SystemMemoryAvailable uint64  `json:"system_memory_available"`
	GoroutineCount        int     `json:"goroutines"`
	ThreadCount           int32   `json:"threads"`
	OpenFDs               int32   `json:"open_fds"`
}

// Usage returns the current resource usage.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	var usage ResourceUsage

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.HeapAlloc = ms.HeapAlloc
	usage.GCCount = ms.NumGC
	usage.GoroutineCount = runtime.NumGoroutine()

	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vm.UsedPercent
		usage.SystemMemoryAvailable = vm.Available
	}

	if rm.process == nil {
		return usage
	}
	if t, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
		}
	}
	if mi, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = mi.RSS
		usage.MemoryVMS = mi.VMS
	}
	usage.ThreadCount, _ = rm.process.NumThreads()
	usage.OpenFDs, _ = rm.process.NumFDs()
	return usage
}

// DefaultLatencyWindow is the number of samples a LatencyTracker keeps.
const DefaultLatencyWindow = 10000

// LatencyTracker keeps the most recent samples of an operation's latency.
// It is safe for concurrent use.
type LatencyTracker struct {
	mu      sync.Mutex
	window  int
	samples []time.Duration
	count   int64
}

// NewLatencyTracker keeps up to window samples; window <= 0 selects
// DefaultLatencyWindow.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &LatencyTracker{
		window:  window,
		samples: make([]time.Duration, 0, window),
	}
}

// Record adds a sample, dropping the oldest once the window is full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.count++
	if len(lt.samples) == lt.window {
		copy(lt.samples, lt.samples[1:])
		lt.samples = lt.samples[:lt.window-1]
	}
	lt.samples = append(lt.samples, d)
}

// Percentiles summarises the retained samples.
type Percentiles struct {
	Count int64         `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// Percentiles returns the percentiles of the retained samples. Count is
// the number of samples ever recorded.
func (lt *LatencyTracker) Percentiles() Percentiles {
	lt.mu.Lock()
	sorted := slices.Clone(lt.samples)
	count := lt.count
	lt.mu.Unlock()

	p := Percentiles{Count: count}
	if len(sorted) == 0 {
		return p
	}
	slices.Sort(sorted)
	at := func(pct int) time.Duration { return sorted[(len(sorted)-1)*pct/100] }
	p.P50, p.P95, p.P99 = at(50), at(95), at(99)
	p.Max = sorted[len(sorted)-1]
	return p
}
