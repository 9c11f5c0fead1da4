package entity

import "time"

// AllChainsTag is the synthetic chain tag carried by entries that were
// merged across networks.
const AllChainsTag = "all"

// TokenEntry is one token position inside a wallet record. The aggregated
// variant (merged across networks) sets Chain to AllChainsTag and lists the
// source networks in Chains.
type TokenEntry struct {
	Symbol         string   `json:"symbol"`
	Name           string   `json:"name,omitempty"`
	Balance        float64  `json:"balance"`
	Value          float64  `json:"value"`
	Price          float64  `json:"price"`
	Chain          string   `json:"chain"`
	PriceChange24h *float64 `json:"priceChange24h,omitempty"`
	Logo           string   `json:"logo,omitempty"`
	Chains         []string `json:"chains,omitempty"`
}

// ProtocolEntry is one DeFi protocol position inside a wallet record.
type ProtocolEntry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Value    float64  `json:"value"`
	Chain    string   `json:"chain"`
	Category string   `json:"category,omitempty"`
	Logo     string   `json:"logo,omitempty"`
	Chains   []string `json:"chains,omitempty"`
}

// ChainAggregate is the per-network value breakdown of a wallet.
type ChainAggregate struct {
	Chain      string  `json:"chain"`
	Value      float64 `json:"value"`
	TokenCount int     `json:"tokenCount"`
}

// WalletRecord is the persisted portfolio snapshot for one wallet address.
// Exactly one record exists per normalized address. ID is assigned once and
// never changes across re-fetches; Tier is a sticky side-channel field
// preserved unless explicitly reassigned.
type WalletRecord struct {
	ID          int              `json:"id"`
	Address     string           `json:"address"`
	TotalValue  float64          `json:"totalValue"`
	Change24h   float64          `json:"change24h"`
	Tier        int              `json:"tier,omitempty"`
	Chains      []ChainAggregate `json:"chains,omitempty"`
	Tokens      []TokenEntry     `json:"tokens,omitempty"`
	Protocols   []ProtocolEntry  `json:"protocols,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`
	FetchedAt   time.Time        `json:"fetchedAt"`
}

// FreshnessTime returns the timestamp used to decide which of two records
// for the same address is newer: FetchedAt when set, LastUpdated otherwise.
func (r *WalletRecord) FreshnessTime() time.Time {
	if !r.FetchedAt.IsZero() {
		return r.FetchedAt
	}
	return r.LastUpdated
}
