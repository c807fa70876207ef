package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replysage/replysage/pkg/redis"
)

// fakeConn simulates the connection manager for health checks
type fakeConn struct {
	connected bool
	latency   time.Duration
	pingErr   error
	info      string
	infoErr   error
	dbSize    int64
	stats     redis.Stats
}

func (f *fakeConn) IsConnected() bool { return f.connected }

func (f *fakeConn) Ping(ctx context.Context) (time.Duration, error) {
	return f.latency, f.pingErr
}

func (f *fakeConn) Info(ctx context.Context, section string) (string, error) {
	return f.info, f.infoErr
}

func (f *fakeConn) DBSize(ctx context.Context) (int64, error) { return f.dbSize, nil }

func (f *fakeConn) Stats() redis.Stats { return f.stats }

func healthyConn() *fakeConn {
	return &fakeConn{
		connected: true,
		latency:   2 * time.Millisecond,
		info: "# Memory\r\n" +
			"used_memory:1048576\r\n" +
			"used_memory_human:1.00M\r\n" +
			"mem_fragmentation_ratio:1.05\r\n",
		dbSize: 42,
		stats:  redis.Stats{Connected: true},
	}
}

func TestMonitor_CheckHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		m := NewMonitor(healthyConn(), DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.True(t, h.Connected)
		assert.Empty(t, h.Errors)
		require.NotNil(t, h.Memory)
		assert.Equal(t, int64(1048576), h.Memory.UsedBytes)
		assert.Equal(t, "1.00M", h.Memory.UsedHuman)
		assert.InDelta(t, 1.05, h.Memory.FragmentationRatio, 0.001)
	})

	t.Run("disconnected is unhealthy", func(t *testing.T) {
		conn := healthyConn()
		conn.connected = false
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.False(t, h.Connected)
		assert.NotEmpty(t, h.Errors)
	})

	t.Run("ping failure is unhealthy", func(t *testing.T) {
		conn := healthyConn()
		conn.pingErr = errors.New("connection reset")
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
	})

	t.Run("slow ping degrades", func(t *testing.T) {
		conn := healthyConn()
		conn.latency = 250 * time.Millisecond
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, h.Status)
		assert.Contains(t, h.Errors[0], "latency")
	})

	t.Run("missing memory stats degrades", func(t *testing.T) {
		conn := healthyConn()
		conn.infoErr = errors.New("INFO unsupported")
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, h.Status)
		assert.Nil(t, h.Memory)
	})

	t.Run("high fragmentation degrades", func(t *testing.T) {
		conn := healthyConn()
		conn.info = "used_memory:1048576\r\nmem_fragmentation_ratio:2.4\r\n"
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, h.Status)
	})

	t.Run("slow ping stays degraded despite memory failure", func(t *testing.T) {
		conn := healthyConn()
		conn.latency = 250 * time.Millisecond
		conn.infoErr = errors.New("INFO unsupported")
		m := NewMonitor(conn, DefaultConfig(), nil)

		h := m.CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, h.Status)
		assert.Len(t, h.Errors, 2)
	})
}

func TestMonitor_IsReady(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy is ready", func(t *testing.T) {
		m := NewMonitor(healthyConn(), DefaultConfig(), nil)
		assert.True(t, m.IsReady(ctx))
	})

	t.Run("degraded still serves", func(t *testing.T) {
		conn := healthyConn()
		conn.latency = time.Second
		m := NewMonitor(conn, DefaultConfig(), nil)
		assert.True(t, m.IsReady(ctx))
	})

	t.Run("unhealthy is not ready", func(t *testing.T) {
		conn := healthyConn()
		conn.connected = false
		m := NewMonitor(conn, DefaultConfig(), nil)
		assert.False(t, m.IsReady(ctx))
	})
}

func TestMonitor_LastHealth(t *testing.T) {
	m := NewMonitor(healthyConn(), DefaultConfig(), nil)
	assert.Nil(t, m.LastHealth())

	first := m.CheckHealth(context.Background())
	assert.Equal(t, first, m.LastHealth())
}

func TestMonitor_DatabaseSize(t *testing.T) {
	m := NewMonitor(healthyConn(), DefaultConfig(), nil)

	n, err := m.DatabaseSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestMonitor_BackgroundLoop(t *testing.T) {
	conn := healthyConn()
	m := NewMonitor(conn, Config{CheckInterval: 10 * time.Millisecond}, nil)

	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return m.LastHealth() != nil
	}, time.Second, 5*time.Millisecond)

	// Stop is idempotent
	m.Stop()
	m.Stop()
}

func TestParseMemoryInfo(t *testing.T) {
	t.Run("full output", func(t *testing.T) {
		stats := parseMemoryInfo("# Memory\r\nused_memory:2097152\r\nused_memory_human:2.00M\r\nmem_fragmentation_ratio:1.31\r\nother_field:ignored\r\n")
		assert.Equal(t, int64(2097152), stats.UsedBytes)
		assert.Equal(t, "2.00M", stats.UsedHuman)
		assert.InDelta(t, 1.31, stats.FragmentationRatio, 0.001)
	})

	t.Run("empty output", func(t *testing.T) {
		stats := parseMemoryInfo("")
		assert.Equal(t, int64(0), stats.UsedBytes)
		assert.Empty(t, stats.UsedHuman)
	})

	t.Run("malformed values are skipped", func(t *testing.T) {
		stats := parseMemoryInfo("used_memory:not-a-number\r\nmem_fragmentation_ratio:nope\r\n")
		assert.Equal(t, int64(0), stats.UsedBytes)
		assert.Equal(t, 0.0, stats.FragmentationRatio)
	})
}
