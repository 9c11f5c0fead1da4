package entity

// RawToken is one token balance entry as delivered by the profile service,
// before conversion into a TokenEntry. Value is computed downstream as
// Amount * Price, never taken from the upstream payload.
type RawToken struct {
	Symbol         string   `json:"symbol"`
	Name           string   `json:"name"`
	Amount         float64  `json:"amount"`
	Price          float64  `json:"price"`
	Chain          string   `json:"chain"`
	Logo           string   `json:"logo_url,omitempty"`
	PriceChange24h *float64 `json:"price_24h_change,omitempty"`
}

// RawPosition is a single position item nested inside a protocol entry.
type RawPosition struct {
	Name     string  `json:"name"`
	ValueUSD float64 `json:"asset_usd_value"`
}

// RawProtocol is one protocol/portfolio entry as delivered by the profile
// service. The protocol value is the sum of its position USD values.
type RawProtocol struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Chain     string        `json:"chain"`
	Category  string        `json:"category,omitempty"`
	Logo      string        `json:"logo_url,omitempty"`
	Positions []RawPosition `json:"portfolio_item_list"`
}

// RawPortfolioPayload is the validated intermediate representation produced
// by the PageFetcher boundary. It is a tagged pair of batch shapes so the
// orchestrator never pattern-matches on unconstrained dynamic structures.
type RawPortfolioPayload struct {
	Tokens    []RawToken    `json:"tokens"`
	Protocols []RawProtocol `json:"protocols"`
}

// Empty reports whether the payload carries no usable data at all.
func (p *RawPortfolioPayload) Empty() bool {
	return p == nil || (len(p.Tokens) == 0 && len(p.Protocols) == 0)
}
