package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryMetricsClient accumulates metrics in process memory. It backs the
// operational metrics endpoints and is cheap enough for the request hot path.
type InMemoryMetricsClient struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	timers   map[string][]time.Duration
}

// NewMetricsClient creates a new in-memory metrics client
func NewMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		timers:   make(map[string][]time.Duration),
	}
}

// IncrementCounter increments a counter metric
func (m *InMemoryMetricsClient) IncrementCounter(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// IncrementCounterWithLabels increments a counter metric with labels
func (m *InMemoryMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, labels)] += value
}

// RecordGauge records a gauge metric
func (m *InMemoryMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, labels)] = value
}

// RecordTimer records a timing metric
func (m *InMemoryMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, labels)
	m.timers[key] = append(m.timers[key], duration)
}

// Counter returns the current value of a counter, for tests and snapshots
func (m *InMemoryMetricsClient) Counter(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[metricKey(name, labels)]
}

// Close releases resources; in-memory metrics have none
func (m *InMemoryMetricsClient) Close() error { return nil }

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(",%s=%s", k, labels[k]))
	}
	return b.String()
}

// NoopMetricsClient discards all metrics
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards everything
func NewNoopMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

// IncrementCounter does nothing
func (m *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels does nothing
func (m *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// RecordGauge does nothing
func (m *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordTimer does nothing
func (m *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}

// Close does nothing
func (m *NoopMetricsClient) Close() error { return nil }
