package port

// WalletProvider defines the interface for supplying the raw wallet
// address list to fetch.
type WalletProvider interface {
	GetAddresses() ([]string, error)
}
