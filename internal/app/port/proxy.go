package port

import (
	"context"
	"time"

	"portfolio_tracker/internal/domain/entity"
)

// ProxyProvider supplies the proxy list from its source. The list is
// reloaded wholesale, never patched in place.
type ProxyProvider interface {
	GetProxies() ([]entity.Proxy, error)
}

// ProxyPool owns the proxy list, per-proxy health statistics and circuit
// breaker state. Callers only report coarse-grained outcomes; breaker
// internals are never exposed for mutation.
type ProxyPool interface {
	// Select returns the best candidate proxy, or nil when the pool is
	// empty. Anonymous proxies are excluded from rotation.
	Select() *entity.Proxy

	// ReportSuccess records a successful round trip through proxy and
	// closes its breaker.
	ReportSuccess(proxy *entity.Proxy, responseTime time.Duration)

	// ReportFailure records a failed round trip; the breaker opens on the
	// fifth consecutive failure.
	ReportFailure(proxy *entity.Proxy)

	// Reload reparses the proxy source and resets all pool-derived state.
	Reload() error

	// Unchecked returns proxies that have never been used, for probing.
	Unchecked() []entity.Proxy

	// AllProxies returns every credentialed proxy, for full health sweeps.
	AllProxies() []entity.Proxy

	// Stats and ProxyStats are read-only observability views.
	Stats() entity.PoolStats
	ProxyStats() []entity.ProxyStats
}

// GeoIPResolver resolves the country of a proxy host, caching results.
// Persist and Sweep are invoked by the background scheduler.
type GeoIPResolver interface {
	Resolve(ctx context.Context, host string) (string, error)
	Country(host string) (string, bool)
	Persist() error
	Sweep() error
}
