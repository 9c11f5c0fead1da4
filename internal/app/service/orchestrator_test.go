package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory port.WalletStore for orchestrator tests.
type memStore struct {
	records map[string]entity.WalletRecord
	setErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]entity.WalletRecord)}
}

func (s *memStore) Get(address string) (entity.WalletRecord, bool) {
	rec, ok := s.records[entity.NormalizeAddress(address)]
	return rec, ok
}

func (s *memStore) Set(address string, record entity.WalletRecord) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.records[entity.NormalizeAddress(address)] = record
	return nil
}

func (s *memStore) BatchSet(records []entity.WalletRecord) error {
	for _, rec := range records {
		if err := s.Set(rec.Address, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Remove(address string) error {
	delete(s.records, entity.NormalizeAddress(address))
	return nil
}

func (s *memStore) All() []entity.WalletRecord {
	out := make([]entity.WalletRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

func (s *memStore) Len() int { return len(s.records) }

func (s *memStore) MaxID() int {
	max := 0
	for _, rec := range s.records {
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max
}

func (s *memStore) Deduplicate() (port.DedupResult, error)           { return port.DedupResult{}, nil }
func (s *memStore) ReconcileIDs(mapping map[string]int) (int, error) { return 0, nil }
func (s *memStore) ExportAll() ([]byte, error)                       { return nil, nil }
func (s *memStore) ImportAll(data []byte) error                      { return nil }

// scriptedFetcher returns canned payloads or errors per address, counting
// attempts. failUntil maps an address to the attempt number that first
// succeeds.
type scriptedFetcher struct {
	payloads  map[string]*entity.RawPortfolioPayload
	failUntil map[string]int
	attempts  map[string]int
	err       error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		payloads:  make(map[string]*entity.RawPortfolioPayload),
		failUntil: make(map[string]int),
		attempts:  make(map[string]int),
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, address string, proxy *entity.Proxy) (*entity.RawPortfolioPayload, error) {
	f.attempts[address]++
	if f.err != nil {
		return nil, f.err
	}
	if until, ok := f.failUntil[address]; ok && f.attempts[address] < until {
		return nil, entity.NewFetchError(entity.FetchErrorTransient, address, errors.New("scripted failure"))
	}
	if payload, ok := f.payloads[address]; ok {
		return payload, nil
	}
	return &entity.RawPortfolioPayload{
		Tokens: []entity.RawToken{{Symbol: "ETH", Amount: 1, Price: 100, Chain: "eth"}},
	}, nil
}

// noopPool satisfies port.ProxyPool without any proxies.
type noopPool struct{}

func (noopPool) Select() *entity.Proxy                                         { return nil }
func (noopPool) ReportSuccess(proxy *entity.Proxy, responseTime time.Duration) {}
func (noopPool) ReportFailure(proxy *entity.Proxy)                             {}
func (noopPool) Reload() error                                                 { return nil }
func (noopPool) Unchecked() []entity.Proxy                                     { return nil }
func (noopPool) AllProxies() []entity.Proxy                                    { return nil }
func (noopPool) Stats() entity.PoolStats                                       { return entity.PoolStats{} }
func (noopPool) ProxyStats() []entity.ProxyStats                               { return nil }

func newTestOrchestrator(store port.WalletStore, fetcher port.PageFetcher) *FetchOrchestrator {
	o := NewFetchOrchestrator(store, noopPool{}, fetcher, nopLogger{}, OrchestratorConfig{})
	// No real waiting in tests.
	o.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return o
}

func TestFetchAddresses(t *testing.T) {
	t.Run("fetches and persists new addresses", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xA1", "0xB2"}, false)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Requested)
		assert.Len(t, report.Fetched, 2)
		assert.Empty(t, report.Failed)
		assert.Equal(t, 2, store.Len())

		rec, ok := store.Get("0xa1")
		require.True(t, ok)
		assert.Equal(t, entity.NormalizeAddress("0xa1"), rec.Address)
		assert.InDelta(t, 100.0, rec.TotalValue, 1e-9)
	})

	t.Run("input variants of the same address collapse to one fetch", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xA1", "0x00a1", " 0xa1 "}, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Requested)
		assert.Len(t, report.Fetched, 1)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("existing addresses are skipped without force", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Set("0xa1", entity.WalletRecord{ID: 7, Address: entity.NormalizeAddress("0xa1"), TotalValue: 5}))
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xA1"}, false)
		require.NoError(t, err)
		assert.Len(t, report.Skipped, 1)
		assert.Empty(t, report.Fetched)
		assert.Zero(t, fetcher.attempts[entity.NormalizeAddress("0xa1")])

		rec, _ := store.Get("0xa1")
		assert.InDelta(t, 5.0, rec.TotalValue, 1e-9, "stored record must be untouched")
	})

	t.Run("force update replaces the record but keeps its id", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Set("0xa1", entity.WalletRecord{ID: 7, Address: entity.NormalizeAddress("0xa1"), TotalValue: 5}))
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xa1"}, true)
		require.NoError(t, err)
		assert.Len(t, report.Fetched, 1)

		rec, ok := store.Get("0xa1")
		require.True(t, ok)
		assert.Equal(t, 7, rec.ID)
		assert.InDelta(t, 100.0, rec.TotalValue, 1e-9)
	})

	t.Run("new addresses continue ids from the current maximum", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Set("0xa1", entity.WalletRecord{ID: 41, Address: entity.NormalizeAddress("0xa1")}))
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		_, err := o.FetchAddresses(context.Background(), []string{"0xb2"}, false)
		require.NoError(t, err)

		rec, ok := store.Get("0xb2")
		require.True(t, ok)
		assert.Equal(t, 42, rec.ID)
	})

	t.Run("transient failures retry and recover within the outer tier", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		addr := entity.NormalizeAddress("0xa1")
		fetcher.failUntil[addr] = 3
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xa1"}, false)
		require.NoError(t, err)
		assert.Len(t, report.Fetched, 1)
		assert.Equal(t, 3, fetcher.attempts[addr])
	})

	t.Run("exhausted address recovers in the final pass", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		addr := entity.NormalizeAddress("0xa1")
		// Four outer attempts fail; the fifth call is the final pass.
		fetcher.failUntil[addr] = 5
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xa1"}, false)
		require.NoError(t, err)
		assert.Len(t, report.Fetched, 1)
		assert.Empty(t, report.Failed)
		assert.Equal(t, 5, fetcher.attempts[addr])
	})

	t.Run("always failing address lands in the failed list without aborting", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		bad := entity.NormalizeAddress("0xbad")
		fetcher.failUntil[bad] = 100
		o := newTestOrchestrator(store, fetcher)

		report, err := o.FetchAddresses(context.Background(), []string{"0xbad", "0xb2"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{bad}, report.Failed)
		assert.Len(t, report.Fetched, 1)
		_, ok := store.Get("0xbad")
		assert.False(t, ok)
	})

	t.Run("missing fetcher is a structural error", func(t *testing.T) {
		o := NewFetchOrchestrator(newMemStore(), noopPool{}, nil, nopLogger{}, OrchestratorConfig{})
		_, err := o.FetchAddresses(context.Background(), []string{"0xa1"}, false)
		require.Error(t, err)
		assert.True(t, entity.IsStructural(err))
	})

	t.Run("concurrent batch is rejected", func(t *testing.T) {
		o := newTestOrchestrator(newMemStore(), newScriptedFetcher())
		o.mu.Lock()
		o.running = true
		o.mu.Unlock()

		_, err := o.FetchAddresses(context.Background(), []string{"0xa1"}, false)
		assert.ErrorIs(t, err, ErrFetchInProgress)
	})

	t.Run("cancelled context stops the batch", func(t *testing.T) {
		store := newMemStore()
		fetcher := newScriptedFetcher()
		o := newTestOrchestrator(store, fetcher)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := o.FetchAddresses(ctx, []string{"0xa1", "0xb2"}, false)
		require.NoError(t, err)
		assert.Empty(t, report.Fetched)
	})
}

func TestBuildWalletRecord(t *testing.T) {
	change := func(v float64) *float64 { return &v }
	fetchedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("totals and weighted change", func(t *testing.T) {
		payload := &entity.RawPortfolioPayload{
			Tokens: []entity.RawToken{
				{Symbol: "ETH", Amount: 2, Price: 1000, Chain: "eth", PriceChange24h: change(10)},
				{Symbol: "OP", Amount: 100, Price: 10, Chain: "op", PriceChange24h: change(-5)},
				{Symbol: "MYSTERY", Amount: 1, Price: 500, Chain: "eth"}, // no change reported
			},
			Protocols: []entity.RawProtocol{
				{
					ID: "aave", Name: "Aave", Chain: "eth",
					Positions: []entity.RawPosition{{Name: "supplied", ValueUSD: 300}, {Name: "rewards", ValueUSD: 200}},
				},
			},
		}

		rec := BuildWalletRecord("0xA1", 3, payload, fetchedAt)
		assert.Equal(t, 3, rec.ID)
		assert.Equal(t, entity.NormalizeAddress("0xa1"), rec.Address)
		// 2000 + 1000 + 500 tokens, 500 protocol.
		assert.InDelta(t, 4000.0, rec.TotalValue, 1e-9)
		// Weighted over the two tokens that report a change:
		// (10*2000 + -5*1000) / 3000 = 5.
		assert.InDelta(t, 5.0, rec.Change24h, 1e-9)
		assert.Equal(t, fetchedAt, rec.FetchedAt)
		require.Len(t, rec.Protocols, 1)
		assert.InDelta(t, 500.0, rec.Protocols[0].Value, 1e-9)
	})

	t.Run("chains are sorted by value descending", func(t *testing.T) {
		payload := &entity.RawPortfolioPayload{
			Tokens: []entity.RawToken{
				{Symbol: "OP", Amount: 1, Price: 10, Chain: "op"},
				{Symbol: "ETH", Amount: 1, Price: 1000, Chain: "eth"},
			},
		}
		rec := BuildWalletRecord("0xa1", 1, payload, fetchedAt)
		require.Len(t, rec.Chains, 2)
		assert.Equal(t, "eth", rec.Chains[0].Chain)
		assert.Equal(t, "op", rec.Chains[1].Chain)
	})

	t.Run("protocol values count toward the chain breakdown", func(t *testing.T) {
		payload := &entity.RawPortfolioPayload{
			Protocols: []entity.RawProtocol{
				{ID: "gmx", Name: "GMX", Chain: "arb", Positions: []entity.RawPosition{{ValueUSD: 250}}},
			},
		}
		rec := BuildWalletRecord("0xa1", 1, payload, fetchedAt)
		require.Len(t, rec.Chains, 1)
		assert.Equal(t, "arb", rec.Chains[0].Chain)
		assert.InDelta(t, 250.0, rec.Chains[0].Value, 1e-9)
		assert.Equal(t, 0, rec.Chains[0].TokenCount)
	})

	t.Run("nil payload yields an empty record", func(t *testing.T) {
		rec := BuildWalletRecord("0xa1", 9, nil, fetchedAt)
		assert.Equal(t, 9, rec.ID)
		assert.Zero(t, rec.TotalValue)
		assert.Empty(t, rec.Tokens)
	})
}
