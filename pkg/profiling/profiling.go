// Package profiling measures pipeline stages and writes CPU profiles.
package profiling

import (
	"fmt"
	"log"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/afero"
)

// Metrics is what one profiled stage cost.
type Metrics struct {
	Name            string
	Duration        time.Duration
	MemoryAllocated int64
	Goroutines      int
}

// StageProfiler profiles one pipeline stage from creation to Finish.
type StageProfiler struct {
	name        string
	startTime   time.Time
	startMemory uint64
}

// NewStageProfiler starts profiling the named stage.
func NewStageProfiler(name string) *StageProfiler {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &StageProfiler{
		name:        name,
		startTime:   time.Now(),
		startMemory: m.TotalAlloc,
	}
}

// Finish returns the stage metrics. Memory is counted as bytes allocated
// since the start, so it does not go negative after a GC.
func (sp *StageProfiler) Finish() Metrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Metrics{
		Name:            sp.name,
		Duration:        time.Since(sp.startTime),
		MemoryAllocated: int64(m.TotalAlloc - sp.startMemory),
		Goroutines:      runtime.NumGoroutine(),
	}
}

// Log prints the metrics in one line.
func (m Metrics) Log() {
	log.Printf("⚡ %s: %.3fms, memory: +%d bytes, goroutines: %d",
		m.Name,
		float64(m.Duration.Nanoseconds())/1000000.0,
		m.MemoryAllocated,
		m.Goroutines)
}

// ProfileFunc runs fn and returns its stage metrics.
func ProfileFunc(name string, fn func()) Metrics {
	profiler := NewStageProfiler(name)
	fn()
	return profiler.Finish()
}

// StartCPUProfile writes a pprof CPU profile to path on fs until the
// returned stop function is called.
func StartCPUProfile(fs afero.Fs, path string) (stop func() error, err error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}
	log.Printf("📊 Writing CPU profile to %s", path)
	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}
