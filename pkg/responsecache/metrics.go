package responsecache

import (
	"sync"
	"time"
)

// metricsBuffer accumulates hit/miss/error counters and response times for
// one Service instance. It is instance-owned rather than package-global so
// independent caches in tests do not share state.
type metricsBuffer struct {
	mu           sync.Mutex
	hits         int64
	misses       int64
	errors       int64
	requestCount int64
	totalTime    time.Duration
}

func (m *metricsBuffer) recordHit(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	m.requestCount++
	m.totalTime += elapsed
}

func (m *metricsBuffer) recordMiss(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
	m.requestCount++
	m.totalTime += elapsed
}

func (m *metricsBuffer) recordError(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.requestCount++
	m.totalTime += elapsed
}

func (m *metricsBuffer) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Hits:         m.hits,
		Misses:       m.misses,
		Errors:       m.errors,
		RequestCount: m.requestCount,
	}
	if m.requestCount > 0 {
		s.AverageResponseTime = m.totalTime / time.Duration(m.requestCount)
	}
	if m.hits+m.misses > 0 {
		s.HitRate = float64(m.hits) / float64(m.hits+m.misses)
	}
	return s
}

func (m *metricsBuffer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = 0
	m.misses = 0
	m.errors = 0
	m.requestCount = 0
	m.totalTime = 0
}
