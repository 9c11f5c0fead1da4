package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"
	"portfolio_tracker/internal/pkg/metrics"
	"portfolio_tracker/internal/pkg/utils"
)

// ErrFetchInProgress is returned when a batch run is requested while
// another one is still active. Only one run exists at a time.
var ErrFetchInProgress = errors.New("a fetch run is already in progress")

// OrchestratorConfig carries the retry and pacing policy. Zero values are
// replaced with the defaults below.
type OrchestratorConfig struct {
	OuterAttempts    int
	OuterRetryBase   time.Duration
	OuterRetryJitter time.Duration
	CooldownBase     time.Duration
	CooldownJitter   time.Duration
	PacingMin        time.Duration
	PacingMax        time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.OuterAttempts <= 0 {
		c.OuterAttempts = 4
	}
	if c.OuterRetryBase <= 0 {
		c.OuterRetryBase = 2 * time.Second
	}
	if c.OuterRetryJitter <= 0 {
		c.OuterRetryJitter = 3 * time.Second
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.CooldownJitter <= 0 {
		c.CooldownJitter = 15 * time.Second
	}
	if c.PacingMin <= 0 {
		c.PacingMin = 15 * time.Second
	}
	if c.PacingMax <= c.PacingMin {
		c.PacingMax = c.PacingMin + 10*time.Second
	}
}

// FetchOrchestrator drives per-address data collection: proxy rotation via
// the pool, two retry tiers, partial-failure bookkeeping and persistence
// into the wallet store. Addresses are processed one at a time with a
// randomized pause in between to avoid detectable burst traffic.
type FetchOrchestrator struct {
	store   port.WalletStore
	pool    port.ProxyPool
	fetcher port.PageFetcher
	logger  port.Logger
	cfg     OrchestratorConfig

	mu        sync.Mutex
	running   bool
	progress  entity.FetchProgress
	listeners map[int]chan entity.FetchProgress
	nextSubID int

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewFetchOrchestrator wires the orchestrator over its collaborators.
func NewFetchOrchestrator(
	store port.WalletStore,
	pool port.ProxyPool,
	fetcher port.PageFetcher,
	l port.Logger,
	cfg OrchestratorConfig,
) *FetchOrchestrator {
	cfg.applyDefaults()
	return &FetchOrchestrator{
		store:     store,
		pool:      pool,
		fetcher:   fetcher,
		logger:    l,
		cfg:       cfg,
		listeners: make(map[int]chan entity.FetchProgress),
		sleep:     utils.SleepContext,
		now:       time.Now,
	}
}

// FetchAddresses runs one batch over the given raw addresses. With
// forceUpdate false, addresses already present in the store are skipped;
// with true every requested address is re-fetched and its record replaced
// in place. Individual failures never abort the batch; only the absence of
// a fetch backend is fatal.
func (o *FetchOrchestrator) FetchAddresses(ctx context.Context, addresses []string, forceUpdate bool) (*entity.FetchReport, error) {
	if o.fetcher == nil {
		return nil, entity.NewFetchError(entity.FetchErrorStructural, "", errors.New("no page fetcher configured"))
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrFetchInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.progress.Running = false
		o.mu.Unlock()
		o.broadcastProgress()
	}()

	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		normalized = append(normalized, entity.NormalizeAddress(a))
	}
	normalized = utils.DedupeStrings(normalized)

	report := &entity.FetchReport{Requested: len(normalized)}
	start := o.now()

	var toFetch []string
	for _, addr := range normalized {
		if _, exists := o.store.Get(addr); exists && !forceUpdate {
			report.Skipped = append(report.Skipped, addr)
			continue
		}
		toFetch = append(toFetch, addr)
	}

	// Stable id pre-assignment: existing records keep their id, new
	// addresses continue from the current maximum.
	ids := make(map[string]int, len(toFetch))
	nextID := o.store.MaxID()
	for _, addr := range toFetch {
		if rec, ok := o.store.Get(addr); ok && rec.ID != 0 {
			ids[addr] = rec.ID
			continue
		}
		nextID++
		ids[addr] = nextID
	}

	o.setProgress(entity.FetchProgress{Running: true, Total: len(toFetch), StartTime: start})
	o.logger.Info("Starting batch fetch",
		"requested", len(normalized),
		"to_fetch", len(toFetch),
		"skipped", len(report.Skipped),
		"force_update", forceUpdate)

	var failed []string
	for i, addr := range toFetch {
		if ctx.Err() != nil {
			o.logger.Warn("Batch fetch cancelled", "processed", i, "total", len(toFetch))
			break
		}

		o.updateCurrent(i, addr, start)

		if err := o.fetchAndPersist(ctx, addr, ids[addr]); err != nil {
			if entity.IsStructural(err) {
				return report, err
			}
			o.logger.Warn("Address failed after all attempts, queued for final pass", "address", addr, "error", err)
			failed = append(failed, addr)
		} else {
			report.Fetched = append(report.Fetched, addr)
		}

		o.updateProcessed(i+1, start)

		if i < len(toFetch)-1 {
			pause := o.cfg.PacingMin + time.Duration(rand.Int63n(int64(o.cfg.PacingMax-o.cfg.PacingMin)))
			if err := o.sleep(ctx, pause); err != nil {
				break
			}
		}
	}

	// Final best-effort pass over the failed list after a longer cooldown.
	// One attempt each, no further retries.
	if len(failed) > 0 && ctx.Err() == nil {
		cooldown := utils.JitterDuration(o.cfg.CooldownBase, o.cfg.CooldownJitter)
		o.logger.Info("Retrying failed addresses after cooldown", "count", len(failed), "cooldown", cooldown.String())
		if err := o.sleep(ctx, cooldown); err == nil {
			for _, addr := range failed {
				if ctx.Err() != nil {
					break
				}
				if err := o.fetchOnceThroughPool(ctx, addr, ids[addr]); err != nil {
					o.logger.Error("Address has no data after final pass", "address", addr, "error", err)
					report.Failed = append(report.Failed, addr)
				} else {
					report.Fetched = append(report.Fetched, addr)
				}
			}
		} else {
			report.Failed = append(report.Failed, failed...)
		}
	} else {
		report.Failed = append(report.Failed, failed...)
	}

	report.Duration = o.now().Sub(start)
	o.logger.Info("Batch fetch finished",
		"fetched", len(report.Fetched),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
		"duration", report.Duration.String())
	return report, nil
}

// fetchAndPersist runs the outer retry tier for one address: up to
// OuterAttempts proxy rotations with a short jittered wait in between.
func (o *FetchOrchestrator) fetchAndPersist(ctx context.Context, addr string, id int) error {
	began := o.now()
	defer func() {
		metrics.FetchDuration.Observe(o.now().Sub(began).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < o.cfg.OuterAttempts; attempt++ {
		err := o.fetchOnceThroughPool(ctx, addr, id)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = err
		if entity.IsStructural(err) || ctx.Err() != nil {
			break
		}

		o.logger.Debug("Fetch attempt failed", "address", addr, "attempt", attempt+1, "error", err)
		if attempt < o.cfg.OuterAttempts-1 {
			wait := utils.JitterDuration(o.cfg.OuterRetryBase, o.cfg.OuterRetryJitter)
			if err := o.sleep(ctx, wait); err != nil {
				break
			}
		}
	}
	metrics.FetchAttempts.WithLabelValues("failure").Inc()
	return lastErr
}

// fetchOnceThroughPool performs one attempt: select a proxy, invoke the
// fetcher, report the outcome back to the pool and persist on success.
func (o *FetchOrchestrator) fetchOnceThroughPool(ctx context.Context, addr string, id int) error {
	proxy := o.pool.Select()
	began := o.now()

	payload, err := o.fetcher.Fetch(ctx, addr, proxy)
	if err != nil {
		if proxy != nil {
			o.pool.ReportFailure(proxy)
		}
		return err
	}
	if proxy != nil {
		o.pool.ReportSuccess(proxy, o.now().Sub(began))
	}

	record := BuildWalletRecord(addr, id, payload, o.now())
	if err := o.store.Set(addr, record); err != nil {
		return fmt.Errorf("failed to persist record for %s: %w", addr, err)
	}
	return nil
}

// BuildWalletRecord converts a raw payload into a wallet record. Token
// value is amount*price and the wallet total is the sum of token and
// protocol values; no upstream total field is trusted. The 24h change is a
// value-weighted average over the tokens that report one, while the total
// includes every position regardless - observed upstream behavior that is
// kept as is.
func BuildWalletRecord(address string, id int, payload *entity.RawPortfolioPayload, fetchedAt time.Time) entity.WalletRecord {
	record := entity.WalletRecord{
		ID:          id,
		Address:     entity.NormalizeAddress(address),
		LastUpdated: fetchedAt,
		FetchedAt:   fetchedAt,
	}
	if payload == nil {
		return record
	}

	chainValues := make(map[string]*entity.ChainAggregate)
	var weightedChange, changeWeight float64

	for _, raw := range payload.Tokens {
		value := raw.Amount * raw.Price
		token := entity.TokenEntry{
			Symbol:         raw.Symbol,
			Name:           raw.Name,
			Balance:        raw.Amount,
			Value:          value,
			Price:          raw.Price,
			Chain:          raw.Chain,
			PriceChange24h: raw.PriceChange24h,
			Logo:           raw.Logo,
		}
		record.Tokens = append(record.Tokens, token)
		record.TotalValue += value

		if raw.PriceChange24h != nil {
			weightedChange += *raw.PriceChange24h * value
			changeWeight += value
		}

		agg, ok := chainValues[raw.Chain]
		if !ok {
			agg = &entity.ChainAggregate{Chain: raw.Chain}
			chainValues[raw.Chain] = agg
		}
		agg.Value += value
		agg.TokenCount++
	}

	for _, raw := range payload.Protocols {
		var value float64
		for _, pos := range raw.Positions {
			value += pos.ValueUSD
		}
		record.Protocols = append(record.Protocols, entity.ProtocolEntry{
			ID:       raw.ID,
			Name:     raw.Name,
			Value:    value,
			Chain:    raw.Chain,
			Category: raw.Category,
			Logo:     raw.Logo,
		})
		record.TotalValue += value

		agg, ok := chainValues[raw.Chain]
		if !ok {
			agg = &entity.ChainAggregate{Chain: raw.Chain}
			chainValues[raw.Chain] = agg
		}
		agg.Value += value
	}

	if changeWeight > 0 {
		record.Change24h = weightedChange / changeWeight
	}

	for _, agg := range chainValues {
		record.Chains = append(record.Chains, *agg)
	}
	sortChainsByValue(record.Chains)
	return record
}

// Progress returns a snapshot of the current batch state.
func (o *FetchOrchestrator) Progress() entity.FetchProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Subscribe registers a progress listener. The returned cancel func must be
// called when the listener goes away. Slow listeners miss updates instead
// of blocking the fetch loop.
func (o *FetchOrchestrator) Subscribe() (<-chan entity.FetchProgress, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan entity.FetchProgress, 8)
	o.listeners[id] = ch
	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if l, ok := o.listeners[id]; ok {
			delete(o.listeners, id)
			close(l)
		}
	}
}

func (o *FetchOrchestrator) setProgress(p entity.FetchProgress) {
	o.mu.Lock()
	o.progress = p
	o.mu.Unlock()
	o.broadcastProgress()
}

func (o *FetchOrchestrator) updateCurrent(index int, addr string, start time.Time) {
	o.mu.Lock()
	o.progress.Current = index + 1
	o.progress.CurrentAddress = addr
	o.mu.Unlock()
	o.broadcastProgress()
}

// updateProcessed recomputes the pace estimate from elapsed time divided by
// processed count.
func (o *FetchOrchestrator) updateProcessed(processed int, start time.Time) {
	now := o.now()
	o.mu.Lock()
	if processed > 0 {
		avg := now.Sub(start).Seconds() / float64(processed)
		o.progress.AverageTimePerWallet = avg
		remaining := o.progress.Total - processed
		o.progress.EstimatedFinish = now.Add(time.Duration(avg*float64(remaining)) * time.Second)
	}
	o.mu.Unlock()
	o.broadcastProgress()
}

func (o *FetchOrchestrator) broadcastProgress() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.listeners {
		select {
		case ch <- o.progress:
		default:
		}
	}
}

func sortChainsByValue(chains []entity.ChainAggregate) {
	sort.SliceStable(chains, func(i, j int) bool { return chains[i].Value > chains[j].Value })
}
