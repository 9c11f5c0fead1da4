package service

import (
	"errors"
	"testing"
	"time"

	"portfolio_tracker/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

type stubProvider struct {
	proxies []entity.Proxy
	err     error
}

func (p *stubProvider) GetProxies() ([]entity.Proxy, error) {
	return p.proxies, p.err
}

func testProxy(host string) entity.Proxy {
	return entity.Proxy{
		Host:     host,
		Port:     8080,
		Protocol: entity.ProxyProtocolHTTP,
		Username: "user",
		Password: "pass",
	}
}

func newTestPool(t *testing.T, proxies ...entity.Proxy) *ProxyPoolManager {
	t.Helper()
	return NewProxyPoolManager(&stubProvider{proxies: proxies}, nopLogger{}, time.Minute)
}

func TestProxyPoolSelect(t *testing.T) {
	t.Run("empty pool returns nil", func(t *testing.T) {
		pool := newTestPool(t)
		assert.Nil(t, pool.Select())
	})

	t.Run("failed provider yields empty pool", func(t *testing.T) {
		pool := NewProxyPoolManager(&stubProvider{err: errors.New("no file")}, nopLogger{}, time.Minute)
		assert.Nil(t, pool.Select())
	})

	t.Run("anonymous proxies are never selected", func(t *testing.T) {
		anon := entity.Proxy{Host: "anon.example", Port: 8080, Protocol: entity.ProxyProtocolHTTP}
		pool := newTestPool(t, anon)
		assert.Nil(t, pool.Select())
	})

	t.Run("working proxies rank before unchecked and failed", func(t *testing.T) {
		good := testProxy("good.example")
		fresh := testProxy("fresh.example")
		bad := testProxy("bad.example")
		pool := newTestPool(t, bad, fresh, good)

		pool.ReportSuccess(&good, 100*time.Millisecond)
		pool.ReportFailure(&bad)

		selected := pool.Select()
		require.NotNil(t, selected)
		assert.Equal(t, "good.example", selected.Host)
	})

	t.Run("unchecked ranks before failed", func(t *testing.T) {
		fresh := testProxy("fresh.example")
		bad := testProxy("bad.example")
		pool := newTestPool(t, bad, fresh)

		pool.ReportFailure(&bad)

		selected := pool.Select()
		require.NotNil(t, selected)
		assert.Equal(t, "fresh.example", selected.Host)
	})

	t.Run("higher success rate wins within a class", func(t *testing.T) {
		better := testProxy("better.example")
		worse := testProxy("worse.example")
		pool := newTestPool(t, worse, better)

		pool.ReportSuccess(&better, time.Millisecond)
		pool.ReportSuccess(&better, time.Millisecond)
		pool.ReportSuccess(&worse, time.Millisecond)
		pool.ReportFailure(&worse)
		pool.ReportSuccess(&worse, time.Millisecond)

		selected := pool.Select()
		require.NotNil(t, selected)
		assert.Equal(t, "better.example", selected.Host)
	})
}

func TestProxyPoolCircuitBreaker(t *testing.T) {
	t.Run("opens after five consecutive failures", func(t *testing.T) {
		p := testProxy("flaky.example")
		pool := newTestPool(t, p)

		for i := 0; i < 4; i++ {
			pool.ReportFailure(&p)
		}
		assert.Equal(t, 0, pool.Stats().Open)

		pool.ReportFailure(&p)
		assert.Equal(t, 1, pool.Stats().Open)
	})

	t.Run("open breaker is skipped when an alternative exists", func(t *testing.T) {
		broken := testProxy("broken.example")
		spare := testProxy("spare.example")
		pool := newTestPool(t, broken, spare)

		pool.ReportSuccess(&broken, time.Millisecond)
		for i := 0; i < 5; i++ {
			pool.ReportFailure(&broken)
		}

		selected := pool.Select()
		require.NotNil(t, selected)
		assert.Equal(t, "spare.example", selected.Host)

		// Put spare into the failed class too, but with only two failures
		// its breaker stays closed. Broken now outranks it on success rate
		// within the class, yet the ranked scan must skip the open breaker.
		pool.ReportFailure(&spare)
		pool.ReportFailure(&spare)
		selected = pool.Select()
		require.NotNil(t, selected)
		assert.Equal(t, "spare.example", selected.Host)
	})

	t.Run("half open probe is allowed after the timeout", func(t *testing.T) {
		p := testProxy("recovering.example")
		pool := newTestPool(t, p)

		base := time.Now()
		pool.now = func() time.Time { return base }
		for i := 0; i < 5; i++ {
			pool.ReportFailure(&p)
		}

		// Still inside the window: single candidate, so the forgive-all path
		// hands it out, but the breaker stays open.
		pool.now = func() time.Time { return base.Add(30 * time.Second) }
		selected := pool.Select()
		require.NotNil(t, selected)

		pool.now = func() time.Time { return base.Add(2 * time.Minute) }
		selected = pool.Select()
		require.NotNil(t, selected)

		stats := pool.ProxyStats()
		require.Len(t, stats, 1)
		assert.Equal(t, entity.CircuitHalfOpen, stats[0].CircuitState)
	})

	t.Run("failure in half open reopens immediately", func(t *testing.T) {
		p := testProxy("relapsing.example")
		pool := newTestPool(t, p)

		base := time.Now()
		pool.now = func() time.Time { return base }
		for i := 0; i < 5; i++ {
			pool.ReportFailure(&p)
		}
		pool.now = func() time.Time { return base.Add(2 * time.Minute) }
		require.NotNil(t, pool.Select())

		pool.ReportFailure(&p)
		assert.Equal(t, 1, pool.Stats().Open)
	})

	t.Run("success closes the breaker and resets the streak", func(t *testing.T) {
		p := testProxy("healed.example")
		pool := newTestPool(t, p)

		for i := 0; i < 5; i++ {
			pool.ReportFailure(&p)
		}
		require.Equal(t, 1, pool.Stats().Open)

		pool.ReportSuccess(&p, time.Millisecond)
		assert.Equal(t, 0, pool.Stats().Open)

		stats := pool.ProxyStats()
		require.Len(t, stats, 1)
		assert.Equal(t, entity.CircuitClosed, stats[0].CircuitState)
		assert.Equal(t, 0, stats[0].ConsecutiveFailures)
	})
}

func TestProxyPoolForgivesWhenAllScreenedOut(t *testing.T) {
	a := testProxy("a.example")
	b := testProxy("b.example")
	pool := newTestPool(t, a, b)

	base := time.Now()
	pool.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		pool.ReportFailure(&a)
		pool.ReportFailure(&b)
	}
	require.Equal(t, 2, pool.Stats().Failed)

	// Inside the breaker window with every candidate open: Select must
	// still hand something out instead of stalling the batch.
	selected := pool.Select()
	require.NotNil(t, selected)
	assert.Equal(t, 0, pool.Stats().Failed)
}

func TestProxyPoolReloadResetsState(t *testing.T) {
	p := testProxy("reset.example")
	provider := &stubProvider{proxies: []entity.Proxy{p}}
	pool := NewProxyPoolManager(provider, nopLogger{}, time.Minute)

	for i := 0; i < 5; i++ {
		pool.ReportFailure(&p)
	}
	require.Equal(t, 1, pool.Stats().Open)

	require.NoError(t, pool.Reload())
	stats := pool.Stats()
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Unchecked)
}

func TestProxyPoolUnchecked(t *testing.T) {
	used := testProxy("used.example")
	fresh := testProxy("fresh.example")
	anon := entity.Proxy{Host: "anon.example", Port: 80, Protocol: entity.ProxyProtocolHTTP}
	pool := newTestPool(t, used, fresh, anon)

	pool.ReportSuccess(&used, time.Millisecond)

	unchecked := pool.Unchecked()
	require.Len(t, unchecked, 1)
	assert.Equal(t, "fresh.example", unchecked[0].Host)

	all := pool.AllProxies()
	assert.Len(t, all, 2)
}

func TestProxyPoolStats(t *testing.T) {
	good := testProxy("good.example")
	bad := testProxy("bad.example")
	fresh := testProxy("fresh.example")
	pool := newTestPool(t, good, bad, fresh)

	pool.ReportSuccess(&good, time.Millisecond)
	pool.ReportFailure(&bad)

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Working)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Unchecked)

	perProxy := pool.ProxyStats()
	require.Len(t, perProxy, 3)
	assert.Equal(t, "good.example", perProxy[0].Host)
	assert.InDelta(t, 1.0, perProxy[0].SuccessRate, 1e-9)
}
