package service

import (
	"sort"
	"sync"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"
	"portfolio_tracker/internal/pkg/metrics"
)

const (
	breakerFailureThreshold = 5
	defaultBreakerTimeout   = 5 * time.Minute
)

// ProxyPoolManager implements port.ProxyPool. It owns the proxy list, the
// per-key health table and the circuit breaker state; callers only report
// coarse success/failure outcomes.
type ProxyPoolManager struct {
	provider       port.ProxyProvider
	logger         port.Logger
	breakerTimeout time.Duration

	mu      sync.Mutex
	proxies []entity.Proxy
	health  map[string]*entity.ProxyHealth
	working map[string]bool
	failed  map[string]bool

	// now is injectable for breaker timing tests.
	now func() time.Time
}

// NewProxyPoolManager creates a pool over the given provider and performs
// the initial load. An empty or unreadable source yields an empty pool, not
// an error: Select then returns nil until a reload succeeds.
func NewProxyPoolManager(provider port.ProxyProvider, l port.Logger, breakerTimeout time.Duration) *ProxyPoolManager {
	if breakerTimeout <= 0 {
		breakerTimeout = defaultBreakerTimeout
	}
	m := &ProxyPoolManager{
		provider:       provider,
		logger:         l,
		breakerTimeout: breakerTimeout,
		health:         make(map[string]*entity.ProxyHealth),
		working:        make(map[string]bool),
		failed:         make(map[string]bool),
		now:            time.Now,
	}
	if err := m.Reload(); err != nil {
		l.Warn("Initial proxy load failed, starting with empty pool", "error", err)
	}
	return m
}

// Reload reparses the proxy source and resets all pool-derived state.
// The GeoIP cache is owned elsewhere and is not affected.
func (m *ProxyPoolManager) Reload() error {
	proxies, err := m.provider.GetProxies()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies = proxies
	m.health = make(map[string]*entity.ProxyHealth)
	m.working = make(map[string]bool)
	m.failed = make(map[string]bool)

	metrics.ProxyPoolSize.Set(float64(len(proxies)))
	m.logger.Info("Proxy pool reloaded", "count", len(proxies))
	return nil
}

// Select ranks eligible proxies and returns the best candidate, or nil when
// the pool is empty. Ranking: known-working before unknown before failed,
// then empirical success rate descending, then least recently used. Open
// breakers inside the timeout window are skipped; when every candidate is
// screened out the failed set is forgiven and the top-ranked candidate is
// returned regardless of breaker state.
func (m *ProxyPoolManager) Select() *entity.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]entity.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		if p.HasCredentials() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	m.rankLocked(candidates)

	now := m.now()
	for i := range candidates {
		h := m.health[candidates[i].Key()]
		if h == nil || h.CircuitState != entity.CircuitOpen {
			return &candidates[i]
		}
		if now.Sub(h.LastFailureAt) >= m.breakerTimeout {
			// Timeout elapsed: allow one probe through.
			h.CircuitState = entity.CircuitHalfOpen
			return &candidates[i]
		}
	}

	// Every candidate is behind an open breaker. Forgive the failed set and
	// hand out the top-ranked proxy anyway; a genuinely dead pool keeps
	// cycling here, which the warn log makes visible.
	m.failed = make(map[string]bool)
	m.logger.Warn("All proxies screened out by circuit breakers, forgiving failed set", "candidates", len(candidates))
	return &candidates[0]
}

// rankLocked sorts candidates in place by the selection ordering.
func (m *ProxyPoolManager) rankLocked(candidates []entity.Proxy) {
	class := func(key string) int {
		switch {
		case m.working[key]:
			return 0
		case m.failed[key]:
			return 2
		default:
			return 1
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ki, kj := candidates[i].Key(), candidates[j].Key()
		ci, cj := class(ki), class(kj)
		if ci != cj {
			return ci < cj
		}
		hi, hj := m.health[ki], m.health[kj]
		ri, rj := 0.0, 0.0
		var ui, uj time.Time
		if hi != nil {
			ri, ui = hi.SuccessRate(), hi.LastUsedAt
		}
		if hj != nil {
			rj, uj = hj.SuccessRate(), hj.LastUsedAt
		}
		if ri != rj {
			return ri > rj
		}
		return ui.Before(uj)
	})
}

func (m *ProxyPoolManager) healthFor(key string) *entity.ProxyHealth {
	h, ok := m.health[key]
	if !ok {
		h = &entity.ProxyHealth{CircuitState: entity.CircuitClosed}
		m.health[key] = h
	}
	return h
}

// ReportSuccess records a successful round trip: the proxy joins the
// working set, its consecutive-failure streak resets and its breaker closes
// regardless of prior state.
func (m *ProxyPoolManager) ReportSuccess(proxy *entity.Proxy, responseTime time.Duration) {
	if proxy == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := proxy.Key()
	h := m.healthFor(key)
	h.SuccessCount++
	h.LastUsedAt = m.now()
	h.LastResponseTime = responseTime
	h.ConsecutiveFailures = 0
	h.CircuitState = entity.CircuitClosed

	m.working[key] = true
	delete(m.failed, key)
	metrics.ProxySuccesses.Inc()
}

// ReportFailure records a failed round trip; on the fifth consecutive
// failure the breaker opens and the timeout clock starts. A half-open probe
// failure re-opens immediately and restarts the clock.
func (m *ProxyPoolManager) ReportFailure(proxy *entity.Proxy) {
	if proxy == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := proxy.Key()
	h := m.healthFor(key)
	h.FailCount++
	h.LastUsedAt = m.now()
	h.ConsecutiveFailures++

	m.failed[key] = true
	delete(m.working, key)
	metrics.ProxyFailures.Inc()

	if h.CircuitState == entity.CircuitHalfOpen || h.ConsecutiveFailures >= breakerFailureThreshold {
		h.CircuitState = entity.CircuitOpen
		h.LastFailureAt = m.now()
		m.logger.Warn("Proxy circuit breaker opened",
			"proxy", key,
			"consecutive_failures", h.ConsecutiveFailures,
			"timeout", m.breakerTimeout.String())
	}
}

// Unchecked returns credentialed proxies that have never been used, for the
// background probe sweep.
func (m *ProxyPoolManager) Unchecked() []entity.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entity.Proxy
	for _, p := range m.proxies {
		if !p.HasCredentials() {
			continue
		}
		if _, seen := m.health[p.Key()]; !seen {
			out = append(out, p)
		}
	}
	return out
}

// AllProxies returns every credentialed proxy, for full health sweeps.
func (m *ProxyPoolManager) AllProxies() []entity.Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entity.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		if p.HasCredentials() {
			out = append(out, p)
		}
	}
	return out
}

// Stats returns the aggregate pool view. Read-only.
func (m *ProxyPoolManager) Stats() entity.PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := entity.PoolStats{Total: len(m.proxies)}
	for _, p := range m.proxies {
		key := p.Key()
		switch {
		case m.working[key]:
			stats.Working++
		case m.failed[key]:
			stats.Failed++
		default:
			stats.Unchecked++
		}
		if h := m.health[key]; h != nil && h.CircuitState == entity.CircuitOpen {
			stats.Open++
		}
	}
	return stats
}

// ProxyStats returns the per-proxy view sorted by success rate descending.
// Read-only.
func (m *ProxyPoolManager) ProxyStats() []entity.ProxyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entity.ProxyStats, 0, len(m.proxies))
	for _, p := range m.proxies {
		key := p.Key()
		ps := entity.ProxyStats{Key: key, Host: p.Host, CircuitState: entity.CircuitClosed}
		if h := m.health[key]; h != nil {
			ps.SuccessCount = h.SuccessCount
			ps.FailCount = h.FailCount
			ps.SuccessRate = h.SuccessRate()
			ps.CircuitState = h.CircuitState
			ps.ConsecutiveFailures = h.ConsecutiveFailures
			ps.LastUsedAt = h.LastUsedAt
		}
		out = append(out, ps)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}
