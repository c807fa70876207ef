// Package redis owns the single logical connection to the backing Redis
// store: connect-or-fail at boot, bounded-backoff reconnection, and
// timeout-wrapped command execution. It has no knowledge of cache
// semantics; the response cache layers on top of it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/replysage/replysage/pkg/observability"
	"github.com/replysage/replysage/pkg/retry"
)

var (
	// ErrNotFound is returned when a key does not exist in the store
	ErrNotFound = errors.New("key not found")
	// ErrNotConnected is returned when the connection is known to be down
	ErrNotConnected = errors.New("redis connection is down")
	// ErrOperationTimeout is returned when a command exceeds the operation timeout
	ErrOperationTimeout = errors.New("redis operation timed out")
)

// Config holds connection settings for the backing store
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`

	// Reconnect backoff: delay = min(attempt*ReconnectBaseDelay, ReconnectMaxDelay)
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`

	EnableReadyCheck   bool `mapstructure:"enable_ready_check"`
	EnableOfflineQueue bool `mapstructure:"enable_offline_queue"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// DefaultConfig returns a default connection configuration
func DefaultConfig() Config {
	return Config{
		Host:               "localhost",
		Port:               6379,
		ConnectTimeout:     5 * time.Second,
		OperationTimeout:   2 * time.Second,
		KeepAlive:          30 * time.Second,
		ReconnectBaseDelay: 250 * time.Millisecond,
		ReconnectMaxDelay:  10 * time.Second,
		EnableReadyCheck:   true,
		PoolSize:           10,
		MinIdleConns:       2,
	}
}

// Addr returns the host:port address for the client
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Stats is a point-in-time view of the connection state
type Stats struct {
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	ConnectedSince    time.Time `json:"connected_since,omitempty"`
}

// ConnectionManager owns exactly one logical session to the store for the
// process lifetime. Construction fails if the initial ping fails, so the
// owning process never starts serving without a reachable store.
//
// ConnectionManager is safe for concurrent use; in-flight commands are
// multiplexed over the client's connection pool.
type ConnectionManager struct {
	client  *goredis.Client
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient
	backoff *retry.LinearBackoff

	mu                sync.RWMutex
	connected         bool
	reconnectAttempts int
	lastErr           error
	connectedSince    time.Time

	reconnectCh chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewConnectionManager connects to the store and starts the reconnect
// watcher. The initial connection is verified with a timed ping; failure
// is returned to the caller and should be treated as fatal at boot.
func NewConnectionManager(config Config, logger observability.Logger, metrics observability.MetricsClient) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = DefaultConfig().OperationTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConfig().ConnectTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:            config.Addr(),
		Password:        config.Password,
		DB:              config.DB,
		DialTimeout:     config.ConnectTimeout,
		ReadTimeout:     config.OperationTimeout,
		WriteTimeout:    config.OperationTimeout,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxIdleTime: config.KeepAlive,
		// Reconnection is owned by this manager, not the client
		MaxRetries: -1,
	})

	cm := &ConnectionManager{
		client:      client,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		backoff:     retry.NewLinearBackoff(config.ReconnectBaseDelay, config.ReconnectMaxDelay),
		reconnectCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}

	if config.EnableReadyCheck {
		ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr(), err)
		}
	}

	cm.markConnected()
	cm.logger.Info("connected to redis", map[string]interface{}{
		"addr": config.Addr(),
		"db":   config.DB,
	})

	go cm.reconnectLoop()

	return cm, nil
}

// IsConnected reports the last known connection state without any I/O
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connected
}

// Stats returns the current connection statistics
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	s := Stats{
		Connected:         cm.connected,
		ReconnectAttempts: cm.reconnectAttempts,
		ConnectedSince:    cm.connectedSince,
	}
	if cm.lastErr != nil {
		s.LastError = cm.lastErr.Error()
	}
	return s
}

// ExecuteWithTimeout runs op under the configured operation timeout. A
// deadline hit is reported as ErrOperationTimeout; the underlying I/O may
// still complete in the background and is discarded.
//
// A failure caused by the caller's own context (cancelled, or a deadline
// shorter than the operation timeout) says nothing about the store, so it
// never flips the connection state.
func (cm *ConnectionManager) ExecuteWithTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, cm.config.OperationTimeout)
	defer cancel()

	err := op(opCtx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrOperationTimeout, cm.config.OperationTimeout)
	}
	cm.observe(err)
	return err
}

// Ping probes the store and returns the round-trip latency
func (cm *ConnectionManager) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		return cm.client.Ping(ctx).Err()
	})
	return time.Since(start), err
}

// Get retrieves a string value; a missing key is reported as ErrNotFound
func (cm *ConnectionManager) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		v, err := cm.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return ErrNotFound
			}
			return err
		}
		val = v
		return nil
	})
	return val, err
}

// Set stores a string value; ttl <= 0 means no expiry
func (cm *ConnectionManager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		return cm.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del deletes keys and returns the number removed
func (cm *ConnectionManager) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		v, err := cm.client.Del(ctx, keys...).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// TTL returns the remaining lifetime of a key. A key with no expiry
// returns 0; a missing key returns ErrNotFound.
func (cm *ConnectionManager) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		v, err := cm.client.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		ttl = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	// go-redis reports -2 for "missing" and -1 for "exists, no expiry"
	if ttl == time.Duration(-2) {
		return 0, ErrNotFound
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Scan returns one cursor page of keys matching pattern
func (cm *ConnectionManager) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	var (
		keys []string
		next uint64
	)
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		k, n, err := cm.client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return err
		}
		keys, next = k, n
		return nil
	})
	return keys, next, err
}

// DBSize returns the number of keys in the selected database
func (cm *ConnectionManager) DBSize(ctx context.Context) (int64, error) {
	var n int64
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		v, err := cm.client.DBSize(ctx).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// Info returns the raw INFO output for a section (e.g. "memory"); an
// empty section requests the full report.
func (cm *ConnectionManager) Info(ctx context.Context, section string) (string, error) {
	var out string
	err := cm.ExecuteWithTimeout(ctx, func(ctx context.Context) error {
		var cmd *goredis.StringCmd
		if section == "" {
			cmd = cm.client.Info(ctx)
		} else {
			cmd = cm.client.Info(ctx, section)
		}
		v, err := cmd.Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Close stops the reconnect watcher and closes the client
func (cm *ConnectionManager) Close() error {
	cm.stopOnce.Do(func() {
		close(cm.stopCh)
	})

	cm.mu.Lock()
	cm.connected = false
	cm.mu.Unlock()

	cm.logger.Info("redis connection closed", nil)
	return cm.client.Close()
}

// observe inspects a command outcome and flips the connection state on
// transport-level failures, waking the reconnect loop.
func (cm *ConnectionManager) observe(err error) {
	if err == nil || errors.Is(err, ErrNotFound) {
		return
	}

	if !isTransportError(err) {
		return
	}

	cm.mu.Lock()
	cm.lastErr = err
	wasConnected := cm.connected
	cm.connected = false
	cm.mu.Unlock()

	if wasConnected {
		cm.logger.Error("redis connection lost", map[string]interface{}{
			"error": err.Error(),
		})
		cm.metrics.IncrementCounter("redis.connection.lost", 1)
	}

	select {
	case cm.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnectLoop retries the connection with delay = min(attempt*base, max).
// It never gives up; each probe is still bounded by the connect timeout.
func (cm *ConnectionManager) reconnectLoop() {
	for {
		select {
		case <-cm.stopCh:
			return
		case <-cm.reconnectCh:
		}

		attempt := 0
		for {
			select {
			case <-cm.stopCh:
				return
			default:
			}

			attempt++
			cm.mu.Lock()
			cm.reconnectAttempts = attempt
			cm.mu.Unlock()

			delay := cm.backoff.NextDelay(attempt)
			cm.logger.Warn("reconnecting to redis", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			})
			cm.metrics.IncrementCounter("redis.connection.reconnect_attempt", 1)

			select {
			case <-time.After(delay):
			case <-cm.stopCh:
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectTimeout)
			err := cm.client.Ping(ctx).Err()
			cancel()

			if err == nil {
				cm.markConnected()
				cm.logger.Info("redis connection restored", map[string]interface{}{
					"attempts": attempt,
				})
				cm.metrics.IncrementCounter("redis.connection.restored", 1)
				break
			}

			cm.mu.Lock()
			cm.lastErr = err
			cm.mu.Unlock()
		}
	}
}

func (cm *ConnectionManager) markConnected() {
	cm.mu.Lock()
	cm.connected = true
	cm.reconnectAttempts = 0
	cm.connectedSince = time.Now()
	cm.mu.Unlock()
}

// isTransportError reports whether an error indicates a broken connection
// rather than a command-level failure.
func isTransportError(err error) bool {
	if errors.Is(err, ErrOperationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "client is closed") ||
		strings.Contains(msg, "EOF")
}
