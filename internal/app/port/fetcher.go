package port

import (
	"context"

	"portfolio_tracker/internal/domain/entity"
)

// PageFetcher performs one data-retrieval round trip for one address via an
// optional proxy. Implementations own their inner retry tier and return
// typed entity.FetchError failures.
type PageFetcher interface {
	Fetch(ctx context.Context, address string, proxy *entity.Proxy) (*entity.RawPortfolioPayload, error)
}

// ProxyProber checks whether a proxy can carry traffic at all, with a
// lightweight request. Used by the background health sweep.
type ProxyProber interface {
	Probe(ctx context.Context, proxy entity.Proxy) error
}
