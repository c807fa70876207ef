// Package responsecache implements the resilient response cache that sits
// in front of the AI model call path. It decides whether a previously
// computed answer can be reused, derives stable lookup keys from free-form
// input, admission-gates low-confidence answers, and isolates the request
// path from backing store failures via a circuit breaker.
package responsecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replysage/replysage/pkg/observability"
	storeredis "github.com/replysage/replysage/pkg/redis"
	"github.com/replysage/replysage/pkg/resilience"
)

// ErrLowConfidence marks a store rejected by the admission gate. It is
// informational; Store reports rejection as (false, nil).
var ErrLowConfidence = errors.New("confidence below cache admission threshold")

// Service is the cache orchestrator. One instance is shared by all
// request handlers in a process; all operations are safe for concurrent
// use. A struggling store never adds latency to the hot path: a tripped
// breaker or disabled layer short-circuits to a miss without I/O.
type Service struct {
	store      Store
	config     Config
	normalizer Normalizer
	breaker    *resilience.CircuitBreaker
	logger     observability.Logger
	metrics    *metricsBuffer
}

// NewService creates a cache orchestrator. The store is typically a
// *redis.ConnectionManager; config is validated here and invalid settings
// are fatal to construction.
func NewService(store Store, config Config, logger observability.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger("responsecache")
	}

	breaker := resilience.NewCircuitBreaker("response_cache", resilience.CircuitBreakerConfig{
		FailureThreshold: config.FailureThreshold,
		ResetTimeout:     config.ResetTimeout,
	}, logger, observability.NewNoopMetricsClient())

	return &Service{
		store:      store,
		config:     config,
		normalizer: NewNormalizer(),
		breaker:    breaker,
		logger:     logger,
		metrics:    &metricsBuffer{},
	}, nil
}

// Lookup returns a cached answer for a query if one exists. It never
// blocks beyond the store's operation timeout, and with graceful
// degradation enabled it never fails: store errors surface as misses.
func (s *Service) Lookup(ctx context.Context, query, language string) (*LookupResult, error) {
	start := time.Now()

	if !s.config.Enabled {
		s.logger.Debug("cache disabled, skipping lookup", nil)
		result := s.miss(start, "")
		s.metrics.recordMiss(result.ResponseTime)
		return result, nil
	}
	if s.breaker.IsOpen() {
		s.logger.Debug("circuit open, skipping lookup", nil)
		result := s.miss(start, "")
		s.metrics.recordMiss(result.ResponseTime)
		return result, nil
	}

	normalized := s.normalizer.Normalize(query, language)
	key := DeriveResponseKey(normalized, language)

	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storeredis.ErrNotFound) {
			// Clean miss, the store answered correctly
			s.breaker.RecordSuccess()
			result := s.miss(start, key)
			s.metrics.recordMiss(result.ResponseTime)
			return result, nil
		}

		s.breaker.RecordFailure()
		s.metrics.recordError(time.Since(start))
		s.logger.Error("cache lookup failed", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})

		if s.config.EnableGracefulDegradation {
			return s.miss(start, key), nil
		}
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	var entry CachedResponse
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// A corrupt record is unusable; drop it and report a miss
		s.logger.Warn("discarding corrupt cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		if _, delErr := s.store.Del(ctx, key); delErr != nil {
			s.logger.Warn("failed to delete corrupt cache entry", map[string]interface{}{
				"key":   key,
				"error": delErr.Error(),
			})
		}
		result := s.miss(start, key)
		s.metrics.recordMiss(result.ResponseTime)
		return result, nil
	}

	s.breaker.RecordSuccess()

	updated := s.touch(ctx, key, entry, time.Since(start))

	elapsed := time.Since(start)
	s.metrics.recordHit(elapsed)
	return &LookupResult{
		Hit:          true,
		Response:     &updated,
		CacheKey:     key,
		ResponseTime: elapsed,
	}, nil
}

// Store caches an AI answer. It returns true only on a confirmed physical
// write; admission rejections (low confidence, disabled layer, open
// breaker) are quiet no-ops returning false.
func (s *Service) Store(ctx context.Context, input StoreInput) (bool, error) {
	if !s.config.Enabled {
		s.logger.Debug("cache disabled, skipping store", nil)
		return false, nil
	}
	if input.ConfidenceScore < s.config.MinConfidence {
		s.logger.Debug("response below confidence threshold, not caching", map[string]interface{}{
			"confidence": input.ConfidenceScore,
			"threshold":  s.config.MinConfidence,
		})
		return false, nil
	}
	if s.breaker.IsOpen() {
		s.logger.Debug("circuit open, skipping store", nil)
		return false, nil
	}

	normalized := s.normalizer.Normalize(input.Query, input.Language)
	key := DeriveResponseKey(normalized, input.Language)

	now := time.Now()
	ttl := s.config.TTLForCategory(input.ResponseCategory)

	entry := CachedResponse{
		ID:                   uuid.NewString(),
		CacheKey:             key,
		OriginalQuery:        input.Query,
		NormalizedQuery:      normalized,
		Language:             input.Language,
		ResponseText:         input.ResponseText,
		ResponseMetadata:     input.ResponseMetadata,
		ConfidenceScore:      input.ConfidenceScore,
		ResponseCategory:     input.ResponseCategory,
		CreatedAt:            now,
		LastAccessedAt:       now,
		IsActive:             true,
		OriginalResponseTime: input.OriginalResponseTime,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return false, fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.store.Set(ctx, key, string(data), ttl); err != nil {
		s.breaker.RecordFailure()
		s.metrics.recordError(0)
		s.logger.Error("cache store failed", map[string]interface{}{
			"error":    err.Error(),
			"key":      key,
			"category": input.ResponseCategory,
		})

		if s.config.EnableGracefulDegradation {
			return false, nil
		}
		return false, fmt.Errorf("cache store: %w", err)
	}

	// A confirmed write is evidence the store is healthy
	s.breaker.RecordSuccess()

	s.logger.Debug("cached response", map[string]interface{}{
		"key":      key,
		"category": input.ResponseCategory,
		"ttl":      ttl,
	})

	return true, nil
}

// Invalidate removes the cached answer for a query. Deleting an absent
// key is not an error; the call is idempotent.
func (s *Service) Invalidate(ctx context.Context, query, language string) (bool, error) {
	normalized := s.normalizer.Normalize(query, language)
	key := DeriveResponseKey(normalized, language)

	if _, err := s.store.Del(ctx, key); err != nil {
		s.breaker.RecordFailure()
		s.logger.Error("cache invalidate failed", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		if s.config.EnableGracefulDegradation {
			return false, nil
		}
		return false, fmt.Errorf("cache invalidate: %w", err)
	}

	s.breaker.RecordSuccess()
	return true, nil
}

// InvalidateByCategory deletes every cached response in a category,
// optionally scoped to one language, and returns the number removed.
//
// Cost is proportional to the keyspace under the namespace: the scan walks
// cursor pages and reads each candidate. Treat this as an administrative
// batch operation, never a hot-path call.
func (s *Service) InvalidateByCategory(ctx context.Context, category ResponseCategory, language string) (int, error) {
	pattern := CategoryScanPattern(language)
	pageSize := s.config.ScanPageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	deleted := 0
	var cursor uint64

	for {
		keys, next, err := s.store.Scan(ctx, cursor, pattern, pageSize)
		if err != nil {
			s.breaker.RecordFailure()
			return deleted, fmt.Errorf("cache scan: %w", err)
		}

		var matches []string
		for _, key := range keys {
			data, err := s.store.Get(ctx, key)
			if err != nil {
				if errors.Is(err, storeredis.ErrNotFound) {
					continue // expired between scan and read
				}
				s.breaker.RecordFailure()
				return deleted, fmt.Errorf("cache read during invalidation: %w", err)
			}

			var entry CachedResponse
			if err := json.Unmarshal([]byte(data), &entry); err != nil {
				continue
			}
			if entry.ResponseCategory == category {
				matches = append(matches, key)
			}
		}

		if len(matches) > 0 {
			n, err := s.store.Del(ctx, matches...)
			if err != nil {
				s.breaker.RecordFailure()
				return deleted, fmt.Errorf("cache delete during invalidation: %w", err)
			}
			deleted += int(n)
		}

		if next == 0 {
			break
		}
		cursor = next

		// Yield between cursor pages so concurrent callers are not starved
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}
	}

	s.breaker.RecordSuccess()
	s.logger.Info("category invalidation complete", map[string]interface{}{
		"category": category,
		"language": language,
		"deleted":  deleted,
	})

	return deleted, nil
}

// GetMetrics returns a snapshot of the cache counters plus the current
// breaker state.
func (s *Service) GetMetrics() MetricsSnapshot {
	snap := s.metrics.snapshot()
	breaker := s.breaker.Snapshot()
	snap.CircuitOpen = breaker.Open
	snap.FailureCount = breaker.FailureCount
	return snap
}

// ResetMetrics zeroes the counters without touching cached data or the
// circuit breaker.
func (s *Service) ResetMetrics() {
	s.metrics.reset()
}

// touch bumps hit bookkeeping and best-effort re-persists the entry
// preserving its remaining TTL. Failure to update metadata is logged and
// never fails the lookup.
func (s *Service) touch(ctx context.Context, key string, entry CachedResponse, elapsed time.Duration) CachedResponse {
	updated := entry
	updated.HitCount = entry.HitCount + 1
	updated.LastAccessedAt = time.Now()

	// Running average of cache-served latency, advisory only
	if entry.AverageCacheResponseTime > 0 {
		updated.AverageCacheResponseTime = (entry.AverageCacheResponseTime*time.Duration(entry.HitCount) + elapsed) / time.Duration(updated.HitCount)
	} else {
		updated.AverageCacheResponseTime = elapsed
	}

	remaining, err := s.store.TTL(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read TTL for hit update", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return updated
	}

	data, err := json.Marshal(&updated)
	if err != nil {
		s.logger.Warn("failed to marshal hit update", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return updated
	}

	if err := s.store.Set(ctx, key, string(data), remaining); err != nil {
		s.logger.Warn("failed to persist hit update", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	return updated
}

func (s *Service) miss(start time.Time, key string) *LookupResult {
	return &LookupResult{
		Hit:          false,
		CacheKey:     key,
		ResponseTime: time.Since(start),
	}
}
