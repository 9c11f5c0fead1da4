package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch pipeline metrics.
var (
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_fetch_attempts_total",
		Help: "Per-address fetch attempts by outcome.",
	}, []string{"outcome"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_fetch_duration_seconds",
		Help:    "Wall time of one address fetch, including retries.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	WalletsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_wallets_stored",
		Help: "Number of wallet records currently persisted.",
	})
)

// Proxy pool metrics.
var (
	ProxyPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxy_pool_size",
		Help: "Number of proxies in the loaded pool.",
	})

	ProxySuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_requests_success_total",
		Help: "Successful round trips reported to the pool.",
	})

	ProxyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_requests_failure_total",
		Help: "Failed round trips reported to the pool.",
	})
)
