package entity

import "time"

// Aggregate is the cross-wallet summary produced by the aggregation
// service from a set of wallet records.
type Aggregate struct {
	WalletCount int              `json:"walletCount"`
	TotalValue  float64          `json:"totalValue"`
	Change24h   float64          `json:"change24h"`
	TopTokens   []TokenEntry     `json:"topTokens"`
	AllTokens   []TokenEntry     `json:"allTokens"`
	Chains      []ChainAggregate `json:"chains"`
	Protocols   []ProtocolEntry  `json:"protocols"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// FetchProgress is the live state of a running batch fetch, recomputed
// after each processed address.
type FetchProgress struct {
	Running              bool      `json:"running"`
	Current              int       `json:"current"`
	Total                int       `json:"total"`
	CurrentAddress       string    `json:"currentAddress,omitempty"`
	StartTime            time.Time `json:"startTime,omitempty"`
	AverageTimePerWallet float64   `json:"averageTimePerWalletSec"`
	EstimatedFinish      time.Time `json:"estimatedFinish,omitempty"`
}

// FetchReport summarizes one completed batch run. Partial-success batches
// are the expected steady state; the report distinguishes addresses with
// data from addresses without.
type FetchReport struct {
	Requested int           `json:"requested"`
	Fetched   []string      `json:"fetched"`
	Skipped   []string      `json:"skipped"`
	Failed    []string      `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
