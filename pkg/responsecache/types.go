package responsecache

import (
	"context"
	"fmt"
	"time"
)

// ResponseCategory classifies an assistant answer for TTL policy purposes.
// It has no semantic meaning beyond selecting a cache lifetime.
type ResponseCategory string

// Response categories
const (
	CategoryGreeting     ResponseCategory = "greeting"
	CategoryFAQ          ResponseCategory = "faq"
	CategoryAvailability ResponseCategory = "availability"
	CategoryPriceInquiry ResponseCategory = "price_inquiry"
	CategoryBooking      ResponseCategory = "booking"
	CategoryDefault      ResponseCategory = "default"
)

// ParseCategory maps a string to a known category, falling back to
// CategoryDefault for anything unrecognized.
func ParseCategory(s string) ResponseCategory {
	switch ResponseCategory(s) {
	case CategoryGreeting, CategoryFAQ, CategoryAvailability, CategoryPriceInquiry, CategoryBooking:
		return ResponseCategory(s)
	default:
		return CategoryDefault
	}
}

// CachedResponse is the artifact persisted in the backing store, one per
// (canonical query, language) pair. Stored as a JSON string under the
// derived cache key; expiry is enforced by the store's native TTL.
type CachedResponse struct {
	ID              string                 `json:"id"`
	CacheKey        string                 `json:"cache_key"`
	OriginalQuery   string                 `json:"original_query"`
	NormalizedQuery string                 `json:"normalized_query"`
	Language        string                 `json:"language"`
	ResponseText    string                 `json:"response_text"`
	// ResponseMetadata is caller-supplied and passed through unchanged
	ResponseMetadata map[string]interface{} `json:"response_metadata,omitempty"`
	ConfidenceScore  float64                `json:"confidence_score"`
	ResponseCategory ResponseCategory       `json:"response_category"`
	HitCount         int                    `json:"hit_count"`
	CreatedAt        time.Time              `json:"created_at"`
	LastAccessedAt   time.Time              `json:"last_accessed_at"`
	// ExpiresAt is nil for categories cached without expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// IsActive is reserved for soft invalidation; deletion is physical today
	IsActive bool `json:"is_active"`

	// Latency bookkeeping, advisory only
	OriginalResponseTime     time.Duration `json:"original_response_time,omitempty"`
	AverageCacheResponseTime time.Duration `json:"average_cache_response_time,omitempty"`
}

// StoreInput carries the AI invocation result offered for caching. The
// model caller owns producing it; this layer only admission-checks it.
type StoreInput struct {
	Query            string
	Language         string
	ResponseText     string
	ResponseMetadata map[string]interface{}
	ConfidenceScore  float64
	ResponseCategory ResponseCategory
	// OriginalResponseTime is how long the AI call took
	OriginalResponseTime time.Duration
}

// LookupResult is the outcome of a cache lookup
type LookupResult struct {
	Hit          bool
	Response     *CachedResponse
	CacheKey     string
	ResponseTime time.Duration
}

// MetricsSnapshot is a point-in-time view of cache layer counters
type MetricsSnapshot struct {
	Hits                int64         `json:"hits"`
	Misses              int64         `json:"misses"`
	Errors              int64         `json:"errors"`
	RequestCount        int64         `json:"request_count"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	HitRate             float64       `json:"hit_rate"`
	CircuitOpen         bool          `json:"circuit_open"`
	FailureCount        int           `json:"failure_count"`
}

// Config controls cache layer behavior
type Config struct {
	// Enabled gates the whole layer; disabled means every lookup is a miss
	// and every store is a no-op
	Enabled bool `mapstructure:"enabled"`
	// MinConfidence is the admission threshold for caching AI answers
	MinConfidence float64 `mapstructure:"min_confidence"`
	// EnableGracefulDegradation swallows store failures into miss/false
	// results; disabled, they propagate to the caller
	EnableGracefulDegradation bool `mapstructure:"enable_graceful_degradation"`

	// TTLByCategory maps each category to a lifetime; 0 means no expiry
	TTLByCategory map[ResponseCategory]time.Duration `mapstructure:"ttl_by_category"`
	// DefaultTTL applies to categories missing from TTLByCategory
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// FailureThreshold and ResetTimeout configure the circuit breaker
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`

	// ScanPageSize is the COUNT hint for category invalidation scans
	ScanPageSize int64 `mapstructure:"scan_page_size"`
}

// DefaultConfig returns production defaults. Greetings never change, so
// they are cached without expiry; availability answers go stale fastest.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		MinConfidence:             0.7,
		EnableGracefulDegradation: true,
		TTLByCategory: map[ResponseCategory]time.Duration{
			CategoryGreeting:     0,
			CategoryFAQ:          24 * time.Hour,
			CategoryAvailability: 5 * time.Minute,
			CategoryPriceInquiry: time.Hour,
			CategoryBooking:      10 * time.Minute,
			CategoryDefault:      6 * time.Hour,
		},
		DefaultTTL:       6 * time.Hour,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		ScanPageSize:     100,
	}
}

// Validate rejects configurations the layer cannot run with
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %v", c.MinConfidence)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be positive, got %v", c.ResetTimeout)
	}
	for category, ttl := range c.TTLByCategory {
		if ttl < 0 {
			return fmt.Errorf("ttl for category %q must not be negative, got %v", category, ttl)
		}
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("default_ttl must not be negative, got %v", c.DefaultTTL)
	}
	return nil
}

// TTLForCategory resolves the configured lifetime for a category;
// unmapped categories fall back to DefaultTTL. Zero means no expiry.
func (c Config) TTLForCategory(category ResponseCategory) time.Duration {
	if ttl, ok := c.TTLByCategory[category]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// Store is the slice of the connection manager the orchestrator needs.
// *redis.ConnectionManager satisfies it; tests substitute counting stubs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
}
