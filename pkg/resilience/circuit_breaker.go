// Package resilience contains fault-isolation primitives for external
// dependencies, primarily the circuit breaker guarding the cache store.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/replysage/replysage/pkg/observability"
)

// ErrCircuitOpen is returned when an operation is short-circuited
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig contains configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before the next
	// operation is attempted as a probe
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the default breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a two-state breaker: closed (operations attempted) and
// open (operations short-circuited). There is no explicit half-open state;
// once ResetTimeout has elapsed since the last failure the breaker flips
// back to closed and the next operation acts as the probe. A probe failure
// re-opens the breaker with a fresh failure timestamp.
//
// All state is process-local and safe for concurrent use.
type CircuitBreaker struct {
	name    string
	config  CircuitBreakerConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	mu              sync.Mutex
	open            bool
	failureCount    int
	lastFailureTime time.Time
}

// Snapshot is a point-in-time view of breaker state
type Snapshot struct {
	Open            bool      `json:"open"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultCircuitBreakerConfig().ResetTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	return &CircuitBreaker{
		name:    name,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// IsOpen reports whether operations should be short-circuited. When the
// breaker is open and ResetTimeout has elapsed since the last failure it
// flips back to closed as a side effect, permitting a probe.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.open {
		return false
	}

	if time.Since(cb.lastFailureTime) > cb.config.ResetTimeout {
		cb.open = false
		cb.logger.Info("circuit breaker closed for probe", map[string]interface{}{
			"breaker":       cb.name,
			"reset_timeout": cb.config.ResetTimeout,
		})
		cb.metrics.IncrementCounterWithLabels("circuit_breaker.probe", 1, map[string]string{
			"breaker": cb.name,
		})
		return false
	}

	return true
}

// RecordFailure registers a failed operation. Reaching FailureThreshold
// opens the breaker; a failure while closed-for-probe re-opens it and
// restarts the reset clock.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if !cb.open && cb.failureCount >= cb.config.FailureThreshold {
		cb.open = true
		cb.logger.Error("circuit breaker opened", map[string]interface{}{
			"breaker":  cb.name,
			"failures": cb.failureCount,
		})
		cb.metrics.IncrementCounterWithLabels("circuit_breaker.open", 1, map[string]string{
			"breaker": cb.name,
		})
	}
}

// RecordSuccess registers a successful operation, clearing the failure
// count and closing the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasOpen := cb.open
	cb.failureCount = 0
	cb.open = false

	if wasOpen {
		cb.logger.Info("circuit breaker closed after successful probe", map[string]interface{}{
			"breaker": cb.name,
		})
	}
}

// Snapshot returns the current breaker state for metrics reporting
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Open:            cb.open,
		FailureCount:    cb.failureCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Reset forces the breaker back to closed with a zero failure count
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open = false
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}

	cb.logger.Info("circuit breaker manually reset", map[string]interface{}{
		"breaker": cb.name,
	})
}
