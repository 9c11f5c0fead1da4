package service

import (
	"context"
	"sync"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"

	"golang.org/x/sync/errgroup"
)

const (
	geoPersistInterval   = 10 * time.Minute
	geoSweepInterval     = 6 * time.Hour
	probeInterval        = 10 * time.Minute
	priceRefreshDelay    = 10 * time.Minute
	priceRefreshInterval = 4 * time.Hour

	probeConcurrency = 4
	probeTimeout     = 20 * time.Second
)

// Scheduler runs the independent periodic background tasks: GeoIP cache
// persistence and expiry sweeps, unchecked-proxy probing and the scheduled
// price refresh. Tasks interleave freely with the main fetch loop; only the
// two proxy sweeps exclude each other.
type Scheduler struct {
	pool    port.ProxyPool
	prober  port.ProxyProber
	geo     port.GeoIPResolver
	pricing *PriceRefreshService
	logger  port.Logger

	// Guards the proxy sweeps: the full health sweep and the background
	// unchecked-proxy sweep never run concurrently. Whoever loses the
	// TryLock no-ops instead of queuing.
	sweepMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires the scheduler over its collaborators. Any nil
// collaborator simply disables the tasks that need it.
func NewScheduler(pool port.ProxyPool, prober port.ProxyProber, geo port.GeoIPResolver, pricing *PriceRefreshService, l port.Logger) *Scheduler {
	return &Scheduler{
		pool:    pool,
		prober:  prober,
		geo:     geo,
		pricing: pricing,
		logger:  l,
		stop:    make(chan struct{}),
	}
}

// Start launches the background loops. Call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	if s.geo != nil {
		s.loop("geoip-persist", geoPersistInterval, func() {
			if err := s.geo.Persist(); err != nil {
				s.logger.Warn("GeoIP cache persistence failed", "error", err)
			}
		})
		s.loop("geoip-sweep", geoSweepInterval, func() {
			if err := s.geo.Sweep(); err != nil {
				s.logger.Warn("GeoIP cache sweep failed", "error", err)
			}
		})
	}
	if s.pool != nil && s.prober != nil {
		s.loop("proxy-probe", probeInterval, func() { s.ProbeUnchecked(ctx) })
	}
	if s.pricing != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			timer := time.NewTimer(priceRefreshDelay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-s.stop:
				return
			}
			s.runPriceRefresh(ctx)

			ticker := time.NewTicker(priceRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.runPriceRefresh(ctx)
				case <-s.stop:
					return
				}
			}
		}()
	}
	s.logger.Info("Background scheduler started")
}

// Stop shuts down all loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(name string, interval time.Duration, task func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				task()
			case <-s.stop:
				s.logger.Debug("Background loop stopped", "task", name)
				return
			}
		}
	}()
}

func (s *Scheduler) runPriceRefresh(ctx context.Context) {
	if err := s.pricing.RefreshPrices(ctx); err != nil {
		s.logger.Warn("Scheduled price refresh failed", "error", err)
	}
}

// ProbeUnchecked probes proxies that have never been used and reports the
// outcomes to the pool. No-ops when a full health sweep is active.
func (s *Scheduler) ProbeUnchecked(ctx context.Context) {
	if !s.sweepMu.TryLock() {
		s.logger.Debug("Skipping unchecked-proxy probe, another sweep is active")
		return
	}
	defer s.sweepMu.Unlock()

	unchecked := s.pool.Unchecked()
	if len(unchecked) == 0 {
		return
	}
	s.logger.Info("Probing unchecked proxies", "count", len(unchecked))
	s.probeBatch(ctx, unchecked)
}

// RunHealthSweep probes every proxy in the pool, refreshing health state
// wholesale. No-ops when the background probe is active.
func (s *Scheduler) RunHealthSweep(ctx context.Context) entity.PoolStats {
	if !s.sweepMu.TryLock() {
		s.logger.Debug("Skipping full health sweep, another sweep is active")
		return s.pool.Stats()
	}
	defer s.sweepMu.Unlock()

	proxies := s.pool.AllProxies()
	s.logger.Info("Running proxy health sweep", "count", len(proxies))
	s.probeBatch(ctx, proxies)
	return s.pool.Stats()
}

func (s *Scheduler) probeBatch(ctx context.Context, proxies []entity.Proxy) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for _, proxy := range proxies {
		proxy := proxy
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()

			if err := s.prober.Probe(probeCtx, proxy); err != nil {
				s.pool.ReportFailure(&proxy)
				s.logger.Debug("Proxy probe failed", "proxy", proxy.Key(), "error", err)
				return nil
			}
			s.pool.ReportSuccess(&proxy, 0)

			if s.geo != nil {
				if _, err := s.geo.Resolve(gctx, proxy.Host); err != nil {
					s.logger.Debug("GeoIP resolution failed for proxy host", "host", proxy.Host, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
