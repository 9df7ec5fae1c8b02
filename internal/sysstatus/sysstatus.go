// Package sysstatus collects periodic system metrics (CPU, memory, disk,
// load average) to back a /_status lambda_service — the Go-native
// equivalent of the teacher's agent health fields (server load, disk
// free), generalized from "agent health" to "server health".
package sysstatus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one collected sample, JSON-encodable for the /_status body.
type Snapshot struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	DiskUsagePercent float64   `json:"disk_usage_percent"`
	LoadAverage1m    float64   `json:"load_average_1m"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Monitor collects Snapshot periodically in the background and serves
// the latest one without blocking on gopsutil calls from the request
// path.
type Monitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	latest Snapshot
}

// NewMonitor builds a Monitor. Call Start to begin collection.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With("component", "sysstatus"),
		close:  make(chan struct{}),
	}
}

// Start begins collecting a Snapshot every interval, in the background.
func (m *Monitor) Start(interval time.Duration) {
	m.wg.Add(1)
	go m.run(interval)
}

// Stop halts collection and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Latest returns the most recently collected Snapshot.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// JSON marshals the latest Snapshot — the /_status response body.
func (m *Monitor) JSON() ([]byte, error) {
	return json.Marshal(m.Latest())
}

func (m *Monitor) run(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	snap := Snapshot{CollectedAt: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		snap.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1m = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()
}
