package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/equitra/swingscan-go/internal/telemetry"
)

// ResourceAdvisor sizes the scan worker pool from the host's CPU and memory
// and keeps a short history of finished runs for the health surface. A
// configured worker count always wins; the advisor only fills in the auto
// value.
type ResourceAdvisor struct {
	mu                 sync.RWMutex
	cpuCores           int
	memoryGB           float64
	currentCPUUsage    float64
	currentMemoryUsage float64
	recentRuns         []RunSnapshot
	maxHistorySize     int
	logger             *slog.Logger

	minWorkers      int
	maxWorkers      int
	cpuThreshold    float64
	memoryThreshold float64
}

// ScanConcurrency holds the advised limits for one scan run.
type ScanConcurrency struct {
	Workers        int `json:"workers"`
	PersistWorkers int `json:"persist_workers"`
}

// RunSnapshot captures the shape of one finished scan for the health
// endpoint's recent-runs view.
type RunSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	Goroutines  int       `json:"goroutines"`
	Scored      int       `json:"scored"`
	Failed      int       `json:"failed"`
	DurationMS  int64     `json:"duration_ms"`
}

// AdvisorConfig bounds the advised pool size.
type AdvisorConfig struct {
	MinWorkers      int     `yaml:"min_workers" default:"2"`
	MaxWorkers      int     `yaml:"max_workers" default:"20"`
	CPUThreshold    float64 `yaml:"cpu_threshold" default:"80.0"`
	MemoryThreshold float64 `yaml:"memory_threshold" default:"85.0"`
	MaxHistorySize  int     `yaml:"max_history_size" default:"50"`
}

// NewResourceAdvisor creates an advisor for the current host.
func NewResourceAdvisor(config AdvisorConfig) *ResourceAdvisor {
	if config.MinWorkers == 0 {
		config.MinWorkers = 2
	}
	if config.MaxWorkers == 0 {
		config.MaxWorkers = 20
	}
	if config.CPUThreshold == 0 {
		config.CPUThreshold = 80.0
	}
	if config.MemoryThreshold == 0 {
		config.MemoryThreshold = 85.0
	}
	if config.MaxHistorySize == 0 {
		config.MaxHistorySize = 50
	}

	var logger *slog.Logger
	if telemetryLogger := telemetry.GetLogger(); telemetryLogger != nil {
		logger = telemetryLogger
	} else {
		logger = slog.Default()
	}

	ra := &ResourceAdvisor{
		cpuCores:        runtime.NumCPU(),
		maxHistorySize:  config.MaxHistorySize,
		logger:          logger,
		minWorkers:      config.MinWorkers,
		maxWorkers:      config.MaxWorkers,
		cpuThreshold:    config.CPUThreshold,
		memoryThreshold: config.MemoryThreshold,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		ra.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		ra.logger.Warn("Could not read memory info, assuming 8GB", "error", err)
		ra.memoryGB = 8.0
	}

	ra.logger.Info("Resource advisor initialized",
		"cpu_cores", ra.cpuCores,
		"memory_gb", ra.memoryGB)

	return ra
}

// Advise returns the concurrency limits for the next scan. A positive
// configured count is used as-is; zero asks the advisor to derive one from
// cores, installed memory and current load.
func (ra *ResourceAdvisor) Advise(configured int) ScanConcurrency {
	workers := configured
	if workers <= 0 {
		workers = ra.autoWorkers()
	}

	persist := workers / 2
	if persist < 1 {
		persist = 1
	}
	if persist > 8 {
		persist = 8
	}

	return ScanConcurrency{Workers: workers, PersistWorkers: persist}
}

func (ra *ResourceAdvisor) autoWorkers() int {
	ra.mu.RLock()
	defer ra.mu.RUnlock()

	base := ra.cpuCores * 2
	if base < ra.minWorkers {
		base = ra.minWorkers
	}
	if base > ra.maxWorkers {
		base = ra.maxWorkers
	}

	memoryFactor := 1.0
	if ra.memoryGB < 4.0 {
		memoryFactor = 0.5
	} else if ra.memoryGB < 8.0 {
		memoryFactor = 0.75
	}

	loadFactor := 1.0
	if ra.currentCPUUsage > ra.cpuThreshold {
		loadFactor = 0.7
	} else if ra.currentMemoryUsage > ra.memoryThreshold {
		loadFactor = 0.8
	}

	workers := int(float64(base) * memoryFactor * loadFactor)
	if workers < ra.minWorkers {
		workers = ra.minWorkers
	}
	return workers
}

// UpdateSystemMetrics refreshes the load readings the auto sizing uses.
func (ra *ResourceAdvisor) UpdateSystemMetrics(ctx context.Context) error {
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		ra.mu.Lock()
		ra.currentCPUUsage = cpuPercent[0]
		ra.mu.Unlock()
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get memory usage: %w", err)
	}
	ra.mu.Lock()
	ra.currentMemoryUsage = memInfo.UsedPercent
	ra.mu.Unlock()

	return nil
}

// RecordRun appends one finished scan to the recent-runs history.
func (ra *ResourceAdvisor) RecordRun(scored, failed int, duration time.Duration) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	ra.recentRuns = append(ra.recentRuns, RunSnapshot{
		Timestamp:   time.Now(),
		CPUUsage:    ra.currentCPUUsage,
		MemoryUsage: ra.currentMemoryUsage,
		Goroutines:  runtime.NumGoroutine(),
		Scored:      scored,
		Failed:      failed,
		DurationMS:  duration.Milliseconds(),
	})

	if len(ra.recentRuns) > ra.maxHistorySize {
		ra.recentRuns = ra.recentRuns[1:]
	}
}

// RecentRuns returns up to limit of the latest run snapshots, oldest first.
func (ra *ResourceAdvisor) RecentRuns(limit int) []RunSnapshot {
	ra.mu.RLock()
	defer ra.mu.RUnlock()

	if limit <= 0 || limit > len(ra.recentRuns) {
		limit = len(ra.recentRuns)
	}

	start := len(ra.recentRuns) - limit
	out := make([]RunSnapshot, limit)
	copy(out, ra.recentRuns[start:])
	return out
}

// SystemInfo reports the host view for the detailed health endpoint.
func (ra *ResourceAdvisor) SystemInfo() map[string]interface{} {
	ra.mu.RLock()
	defer ra.mu.RUnlock()

	return map[string]interface{}{
		"cpu_cores":      ra.cpuCores,
		"memory_gb":      ra.memoryGB,
		"current_cpu":    ra.currentCPUUsage,
		"current_memory": ra.currentMemoryUsage,
		"goroutines":     runtime.NumGoroutine(),
		"recent_runs":    len(ra.recentRuns),
	}
}
