package memory

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/models"
)

// Pressure thresholds, in percent of system memory and MB of process RSS.
const (
	warningPercent  = 80.0
	criticalPercent = 90.0

	highTierPercent   = 85.0
	mediumTierPercent = 70.0

	mediumTierProcessMB = 1024
	cleanupProcessMB    = 800
	cleanupPercent      = 75.0

	cleanupInterval = 5 * time.Minute
)

// Snapshot is one reading of system and process memory.
type Snapshot struct {
	SystemUsedPercent float64
	SystemAvailableMB uint64
	ProcessRSSMB      uint64
}

// Sampler produces memory readings. Injectable so tests drive the tiers
// without touching real memory.
type Sampler func() (Snapshot, error)

// Manager is the backpressure controller: it maps memory pressure onto
// processing limits, triggers cleanup and decides whether a run may keep
// dispatching work.
type Manager struct {
	sample Sampler
	base   models.ProcessingLimits
	log    *zap.Logger

	mu          sync.Mutex
	lastCleanup time.Time
}

func NewManager(log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		base: models.ProcessingLimits{
			ChunkWordSize: 2000,
			OverlapWords:  200,
			MaxConcurrent: 3,
			BatchSize:     10,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sample == nil {
		m.sample = systemSampler()
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithSampler replaces the live memory sampler.
func WithSampler(s Sampler) Option {
	return func(m *Manager) { m.sample = s }
}

// WithBaseLimits sets the limits handed out while memory is healthy. The
// degraded tiers stay fixed; pressure overrides configuration.
func WithBaseLimits(l models.ProcessingLimits) Option {
	return func(m *Manager) { m.base = l }
}

// systemSampler reads system memory via gopsutil and this process's RSS.
func systemSampler() Sampler {
	proc, procErr := process.NewProcess(int32(os.Getpid()))
	return func() (Snapshot, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return Snapshot{}, err
		}
		snap := Snapshot{
			SystemUsedPercent: vm.UsedPercent,
			SystemAvailableMB: vm.Available / 1024 / 1024,
		}
		if procErr == nil {
			if info, err := proc.MemoryInfo(); err == nil {
				snap.ProcessRSSMB = info.RSS / 1024 / 1024
			}
		}
		return snap, nil
	}
}

// CurrentLimits maps the current memory pressure onto processing limits.
// Under high pressure chunks shrink, concurrency drops and batches get
// smaller; a sampling failure falls back to the most conservative tier.
func (m *Manager) CurrentLimits() models.ProcessingLimits {
	snap, err := m.sample()
	if err != nil {
		m.log.Warn("memory sample failed, using conservative limits", zap.Error(err))
		return models.ProcessingLimits{
			ChunkWordSize: 1000,
			OverlapWords:  100,
			MaxConcurrent: 1,
			BatchSize:     5,
			ForceGC:       true,
		}
	}

	switch {
	case snap.SystemUsedPercent > highTierPercent:
		return models.ProcessingLimits{
			ChunkWordSize: 1000,
			OverlapWords:  100,
			MaxConcurrent: 1,
			BatchSize:     5,
			ForceGC:       true,
		}
	case snap.SystemUsedPercent > mediumTierPercent || snap.ProcessRSSMB > mediumTierProcessMB:
		return models.ProcessingLimits{
			ChunkWordSize: 1500,
			OverlapWords:  150,
			MaxConcurrent: 2,
			BatchSize:     7,
			ForceGC:       true,
		}
	default:
		return m.base
	}
}

// CleanupIfNeeded runs a forced GC and returns memory to the OS when the
// system is above the cleanup threshold, the process has grown past its
// budget, or the interval since the last cleanup has elapsed. force skips
// the checks.
func (m *Manager) CleanupIfNeeded(ctx context.Context, force bool) bool {
	m.mu.Lock()
	elapsed := time.Since(m.lastCleanup)
	m.mu.Unlock()

	if !force {
		snap, err := m.sample()
		if err != nil {
			return false
		}
		if snap.SystemUsedPercent <= cleanupPercent &&
			snap.ProcessRSSMB <= cleanupProcessMB &&
			elapsed < cleanupInterval {
			return false
		}
	}

	runtime.GC()
	debug.FreeOSMemory()

	m.mu.Lock()
	m.lastCleanup = time.Now()
	m.mu.Unlock()

	m.log.Debug("memory cleanup performed")
	return true
}

// ContinueProcessing reports whether a run may keep dispatching work. At
// critical pressure it forces a cleanup and re-samples; only if pressure
// stays critical does it halt the run. Warning pressure logs and continues.
func (m *Manager) ContinueProcessing(ctx context.Context, taskID string) bool {
	snap, err := m.sample()
	if err != nil {
		m.log.Warn("memory sample failed, continuing", zap.Error(err))
		return true
	}

	if snap.SystemUsedPercent >= criticalPercent {
		m.log.Warn("memory critical, forcing cleanup",
			zap.String("task_id", taskID),
			zap.Float64("used_percent", snap.SystemUsedPercent))
		m.CleanupIfNeeded(ctx, true)

		snap, err = m.sample()
		if err != nil {
			return true
		}
		if snap.SystemUsedPercent >= criticalPercent {
			m.log.Error("memory still critical after cleanup, halting task",
				zap.String("task_id", taskID),
				zap.Float64("used_percent", snap.SystemUsedPercent))
			return false
		}
		return true
	}

	if snap.SystemUsedPercent >= warningPercent {
		m.log.Warn("memory pressure high",
			zap.String("task_id", taskID),
			zap.Float64("used_percent", snap.SystemUsedPercent),
			zap.Uint64("process_rss_mb", snap.ProcessRSSMB))
	}
	return true
}
