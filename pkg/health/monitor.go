// Package health provides diagnostics for the cache layer's backing
// store: liveness, latency, and memory introspection. It serves readiness
// probes and operational tooling, never the request hot path.
package health

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/replysage/replysage/pkg/observability"
	"github.com/replysage/replysage/pkg/redis"
)

// Status is the aggregate health of the cache layer
type Status string

// Health statuses
const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health is the result of a full health check
type Health struct {
	Status    Status        `json:"status"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Memory    *MemoryStats  `json:"memory,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// MemoryStats is backing-store memory introspection from INFO
type MemoryStats struct {
	UsedBytes          int64   `json:"used_bytes"`
	UsedHuman          string  `json:"used_human,omitempty"`
	FragmentationRatio float64 `json:"fragmentation_ratio,omitempty"`
}

// Conn is the slice of the connection manager the monitor needs
type Conn interface {
	IsConnected() bool
	Ping(ctx context.Context) (time.Duration, error)
	Info(ctx context.Context, section string) (string, error)
	DBSize(ctx context.Context) (int64, error)
	Stats() redis.Stats
}

// Config holds the thresholds that downgrade a healthy check
type Config struct {
	// LatencyThreshold marks the check degraded when a ping exceeds it
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
	// FragmentationThreshold marks the check degraded above this ratio
	FragmentationThreshold float64 `mapstructure:"fragmentation_threshold"`
	// CheckInterval drives the optional background loop
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// DefaultConfig returns default monitor thresholds
func DefaultConfig() Config {
	return Config{
		LatencyThreshold:       100 * time.Millisecond,
		FragmentationThreshold: 1.5,
		CheckInterval:          10 * time.Second,
	}
}

// Monitor aggregates store diagnostics over one connection manager
type Monitor struct {
	conn   Conn
	config Config
	logger observability.Logger

	mu       sync.RWMutex
	last     *Health
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewMonitor creates a health monitor
func NewMonitor(conn Conn, config Config, logger observability.Logger) *Monitor {
	if config.LatencyThreshold <= 0 {
		config.LatencyThreshold = DefaultConfig().LatencyThreshold
	}
	if config.FragmentationThreshold <= 0 {
		config.FragmentationThreshold = DefaultConfig().FragmentationThreshold
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	return &Monitor{
		conn:   conn,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// CheckHealth runs all diagnostics and returns the aggregate result.
// A disconnected store is unhealthy; slow pings and memory pressure only
// degrade. Failure to read memory stats degrades rather than failing the
// whole check.
func (m *Monitor) CheckHealth(ctx context.Context) *Health {
	health := &Health{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
	}

	health.Connected = m.conn.IsConnected()
	if !health.Connected {
		health.Status = StatusUnhealthy
		health.Errors = append(health.Errors, "not connected to backing store")
		m.remember(health)
		return health
	}

	latency, err := m.conn.Ping(ctx)
	health.Latency = latency
	if err != nil {
		health.Status = StatusUnhealthy
		health.Errors = append(health.Errors, "ping failed: "+err.Error())
		m.remember(health)
		return health
	}
	if latency > m.config.LatencyThreshold {
		health.Status = StatusDegraded
		health.Errors = append(health.Errors, "latency above threshold")
	}

	info, err := m.conn.Info(ctx, "memory")
	if err != nil {
		if health.Status == StatusHealthy {
			health.Status = StatusDegraded
		}
		health.Errors = append(health.Errors, "memory stats unavailable: "+err.Error())
	} else {
		memory := parseMemoryInfo(info)
		health.Memory = memory
		if memory.FragmentationRatio > m.config.FragmentationThreshold {
			if health.Status == StatusHealthy {
				health.Status = StatusDegraded
			}
			health.Errors = append(health.Errors, "memory fragmentation above threshold")
		}
	}

	m.remember(health)
	return health
}

// IsReady reports whether the layer can serve: anything but unhealthy
func (m *Monitor) IsReady(ctx context.Context) bool {
	return m.CheckHealth(ctx).Status != StatusUnhealthy
}

// LastHealth returns the most recent check result, nil before any check
func (m *Monitor) LastHealth() *Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// DatabaseSize returns the number of keys in the backing store
func (m *Monitor) DatabaseSize(ctx context.Context) (int64, error) {
	return m.conn.DBSize(ctx)
}

// ConnectionStats exposes the connection manager's statistics
func (m *Monitor) ConnectionStats() redis.Stats {
	return m.conn.Stats()
}

// Start runs periodic checks in the background until Stop is called
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				health := m.CheckHealth(ctx)
				cancel()

				if health.Status != StatusHealthy {
					m.logger.Warn("periodic health check", map[string]interface{}{
						"status": health.Status,
						"errors": strings.Join(health.Errors, "; "),
					})
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background loop; idempotent
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Monitor) remember(h *Health) {
	m.mu.Lock()
	m.last = h
	m.mu.Unlock()
}

// parseMemoryInfo extracts the fields of interest from INFO memory output
func parseMemoryInfo(info string) *MemoryStats {
	stats := &MemoryStats{}

	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "used_memory":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				stats.UsedBytes = n
			}
		case "used_memory_human":
			stats.UsedHuman = value
		case "mem_fragmentation_ratio":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				stats.FragmentationRatio = f
			}
		}
	}

	return stats
}
