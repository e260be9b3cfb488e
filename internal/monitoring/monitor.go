// Package monitoring samples CPU, memory and disk usage and reports
// pressure signals the banking stage uses to throttle ingress, ported
// from the original monitoring/resource_monitor.h.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "resource_monitor")

// Level is the severity of a resource-pressure signal.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// Usage is a single resource sample.
type Usage struct {
	MemoryRatio float64
	CPUPercent  float64
	DiskRatio   float64
	Timestamp   time.Time
}

// Config controls sampling thresholds and interval.
type Config struct {
	MemoryWarning, MemoryCritical float64
	CPUWarning, CPUCritical       float64
	DiskWarning, DiskCritical     float64
	CheckInterval                 time.Duration
	DiskPath                      string
}

// DefaultConfig matches the original's defaults.
func DefaultConfig() Config {
	return Config{
		MemoryWarning:  0.80,
		MemoryCritical: 0.95,
		CPUWarning:     80.0,
		CPUCritical:    95.0,
		DiskWarning:    0.85,
		DiskCritical:   0.95,
		CheckInterval:  30 * time.Second,
		DiskPath:       "/",
	}
}

// PressureCallback is invoked whenever sampled usage crosses a threshold.
type PressureCallback func(Usage, Level)

// Monitor periodically samples system resource usage on its own
// background goroutine, polling a stop flag at least every 100ms as every
// other component's background loop does.
type Monitor struct {
	cfg      Config
	onSignal PressureCallback

	mu      sync.Mutex
	last    Usage
	level   Level
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New constructs a Monitor that invokes onSignal whenever a sample crosses
// a warning or critical threshold.
func New(cfg Config, onSignal PressureCallback) *Monitor {
	return &Monitor{cfg: cfg, onSignal: onSignal}
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go m.run(ctx)
}

// Stop signals the sampling loop to exit and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.stopped
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		case <-poll.C:
			// keeps the cancellation-latency bound independent of
			// CheckInterval; no-op otherwise.
		}
	}
}

func (m *Monitor) sampleOnce() {
	usage, err := m.Sample()
	if err != nil {
		log.WithError(err).Warn("resource sample failed")
		return
	}

	level := m.classify(usage)

	m.mu.Lock()
	m.last = usage
	m.level = level
	m.mu.Unlock()

	if level != LevelNone && m.onSignal != nil {
		m.onSignal(usage, level)
	}
}

// Sample takes a single resource-usage reading.
func (m *Monitor) Sample() (Usage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Usage{}, err
	}
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return Usage{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}
	diskPath := m.cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	d, err := disk.Usage(diskPath)
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		MemoryRatio: vm.UsedPercent / 100.0,
		CPUPercent:  cpuPct,
		DiskRatio:   d.UsedPercent / 100.0,
		Timestamp:   time.Now(),
	}, nil
}

func (m *Monitor) classify(u Usage) Level {
	critical := u.MemoryRatio >= m.cfg.MemoryCritical ||
		u.CPUPercent >= m.cfg.CPUCritical ||
		u.DiskRatio >= m.cfg.DiskCritical
	if critical {
		return LevelCritical
	}
	warning := u.MemoryRatio >= m.cfg.MemoryWarning ||
		u.CPUPercent >= m.cfg.CPUWarning ||
		u.DiskRatio >= m.cfg.DiskWarning
	if warning {
		return LevelWarning
	}
	return LevelNone
}

// Last returns the most recent sample and its classified level.
func (m *Monitor) Last() (Usage, Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.level
}
