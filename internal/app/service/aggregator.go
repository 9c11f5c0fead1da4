package service

import (
	"sort"
	"strings"
	"time"

	"portfolio_tracker/internal/domain/entity"
)

// Output list truncation limits.
const (
	topTokensLimit      = 20
	detailedTokensLimit = 100
	topChainsLimit      = 10
	topProtocolsLimit   = 15
)

// Known stablecoin symbols collapsed to a canonical symbol when merging
// tokens across chains.
var canonicalStablecoins = map[string]string{
	"USDC":    "USDC",
	"USDC.E":  "USDC",
	"USDBC":   "USDC",
	"USDT":    "USDT",
	"BSC-USD": "USDT",
	"DAI":     "DAI",
	"XDAI":    "DAI",
}

// CanonicalSymbol maps a token symbol to its cross-chain canonical form.
func CanonicalSymbol(symbol string) string {
	if canon, ok := canonicalStablecoins[strings.ToUpper(symbol)]; ok {
		return canon
	}
	return symbol
}

// Aggregate merges many wallet records into a cross-wallet summary. Pure:
// the input records are not modified and no store access happens here.
func Aggregate(records []entity.WalletRecord) *entity.Aggregate {
	agg := &entity.Aggregate{
		WalletCount: len(records),
		GeneratedAt: time.Now(),
	}

	var weightedChange float64
	crossChainTokens := make(map[string]*mergedToken)      // key: canonical symbol
	chains := make(map[string]*entity.ChainAggregate)      // key: chain
	protocols := make(map[string]*entity.ProtocolEntry)    // key: name
	protocolChains := make(map[string]map[string]struct{}) // name -> chain set
	tokenChainSets := make(map[string]map[string]struct{}) // canonical symbol -> chain set

	for i := range records {
		rec := &records[i]
		agg.TotalValue += rec.TotalValue
		weightedChange += rec.Change24h * rec.TotalValue

		for _, token := range rec.Tokens {
			canon := CanonicalSymbol(token.Symbol)
			merged, ok := crossChainTokens[canon]
			if !ok {
				merged = &mergedToken{entry: entity.TokenEntry{
					Symbol: canon,
					Name:   token.Name,
					Chain:  entity.AllChainsTag,
					Logo:   token.Logo,
				}}
				crossChainTokens[canon] = merged
				tokenChainSets[canon] = make(map[string]struct{})
			}
			merged.entry.Balance += token.Balance
			merged.entry.Value += token.Value
			tokenChainSets[canon][token.Chain] = struct{}{}

			// Freshness wins for price fields: the displayed price always
			// reflects the newest observation, never a weighted average.
			if rec.LastUpdated.After(merged.priceObservedAt) {
				merged.priceObservedAt = rec.LastUpdated
				merged.entry.Price = token.Price
				merged.entry.PriceChange24h = token.PriceChange24h
			}

			chain, ok := chains[token.Chain]
			if !ok {
				chain = &entity.ChainAggregate{Chain: token.Chain}
				chains[token.Chain] = chain
			}
			chain.Value += token.Value
			chain.TokenCount++
		}

		for _, protocol := range rec.Protocols {
			merged, ok := protocols[protocol.Name]
			if !ok {
				p := protocol
				protocols[protocol.Name] = &p
				protocolChains[protocol.Name] = map[string]struct{}{protocol.Chain: {}}
				continue
			}
			merged.Value += protocol.Value
			protocolChains[protocol.Name][protocol.Chain] = struct{}{}
			merged.Chain = entity.AllChainsTag
		}
	}

	if agg.TotalValue > 0 {
		agg.Change24h = weightedChange / agg.TotalValue
	}

	allTokens := make([]entity.TokenEntry, 0, len(crossChainTokens))
	for canon, merged := range crossChainTokens {
		merged.entry.Chains = sortedKeys(tokenChainSets[canon])
		allTokens = append(allTokens, merged.entry)
	}
	sort.SliceStable(allTokens, func(i, j int) bool { return allTokens[i].Value > allTokens[j].Value })
	agg.AllTokens = truncateTokens(allTokens, detailedTokensLimit)
	agg.TopTokens = truncateTokens(allTokens, topTokensLimit)

	chainList := make([]entity.ChainAggregate, 0, len(chains))
	for _, c := range chains {
		chainList = append(chainList, *c)
	}
	sort.SliceStable(chainList, func(i, j int) bool { return chainList[i].Value > chainList[j].Value })
	if len(chainList) > topChainsLimit {
		chainList = chainList[:topChainsLimit]
	}
	agg.Chains = chainList

	protocolList := make([]entity.ProtocolEntry, 0, len(protocols))
	for name, p := range protocols {
		p.Chains = sortedKeys(protocolChains[name])
		protocolList = append(protocolList, *p)
	}
	sort.SliceStable(protocolList, func(i, j int) bool { return protocolList[i].Value > protocolList[j].Value })
	if len(protocolList) > topProtocolsLimit {
		protocolList = protocolList[:topProtocolsLimit]
	}
	agg.Protocols = protocolList

	return agg
}

// PerChainTokens merges tokens by (symbol, chain) for per-chain breakdowns:
// plain balance/value sums, no cross-chain collapsing.
func PerChainTokens(records []entity.WalletRecord) []entity.TokenEntry {
	merged := make(map[string]*entity.TokenEntry)
	for i := range records {
		for _, token := range records[i].Tokens {
			key := token.Symbol + "|" + token.Chain
			if existing, ok := merged[key]; ok {
				existing.Balance += token.Balance
				existing.Value += token.Value
			} else {
				t := token
				merged[key] = &t
			}
		}
	}
	out := make([]entity.TokenEntry, 0, len(merged))
	for _, t := range merged {
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

type mergedToken struct {
	entry           entity.TokenEntry
	priceObservedAt time.Time
}

func truncateTokens(tokens []entity.TokenEntry, limit int) []entity.TokenEntry {
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	out := make([]entity.TokenEntry, len(tokens))
	copy(out, tokens)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
