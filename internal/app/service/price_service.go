package service

import (
	"context"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"
)

// PriceRefreshService re-prices stored wallet records from the freshest
// observation of each token across the whole store, without re-fetching.
// Keeps displayed values coherent between full fetch runs.
type PriceRefreshService struct {
	store  port.WalletStore
	logger port.Logger
}

// NewPriceRefreshService creates a new PriceRefreshService.
func NewPriceRefreshService(store port.WalletStore, l port.Logger) *PriceRefreshService {
	return &PriceRefreshService{store: store, logger: l}
}

type freshPrice struct {
	price      float64
	change24h  *float64
	observedAt int64
}

// RefreshPrices recomputes token values in every stored record using the
// newest known price per canonical symbol and chain, then persists all
// changed records with a single flush.
func (s *PriceRefreshService) RefreshPrices(ctx context.Context) error {
	records := s.store.All()
	if len(records) == 0 {
		return nil
	}

	// First pass: newest price per (canonical symbol, chain).
	freshest := make(map[string]freshPrice)
	for i := range records {
		rec := &records[i]
		observed := rec.LastUpdated.UnixNano()
		for _, token := range rec.Tokens {
			key := CanonicalSymbol(token.Symbol) + "|" + token.Chain
			if cur, ok := freshest[key]; !ok || observed > cur.observedAt {
				freshest[key] = freshPrice{price: token.Price, change24h: token.PriceChange24h, observedAt: observed}
			}
		}
	}

	// Second pass: re-price records whose tokens carry stale prices.
	var changed []entity.WalletRecord
	for i := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := records[i]
		dirty := false

		var total, weightedChange, changeWeight float64
		for j := range rec.Tokens {
			token := &rec.Tokens[j]
			key := CanonicalSymbol(token.Symbol) + "|" + token.Chain
			if fp, ok := freshest[key]; ok && fp.price != token.Price {
				token.Price = fp.price
				token.PriceChange24h = fp.change24h
				token.Value = token.Balance * fp.price
				dirty = true
			}
			total += token.Value
			if token.PriceChange24h != nil {
				weightedChange += *token.PriceChange24h * token.Value
				changeWeight += token.Value
			}
		}

		if !dirty {
			continue
		}
		for _, protocol := range rec.Protocols {
			total += protocol.Value
		}
		rec.TotalValue = total
		if changeWeight > 0 {
			rec.Change24h = weightedChange / changeWeight
		}
		changed = append(changed, rec)
	}

	if len(changed) == 0 {
		s.logger.Debug("Price refresh found nothing to update", "records", len(records))
		return nil
	}

	if err := s.store.BatchSet(changed); err != nil {
		return err
	}
	s.logger.Info("Price refresh updated records", "updated", len(changed), "total", len(records))
	return nil
}
