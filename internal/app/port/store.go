package port

import "portfolio_tracker/internal/domain/entity"

// DedupResult reports what a deduplication pass changed.
type DedupResult struct {
	Removed int `json:"removed"`
	Updated int `json:"updated"`
}

// WalletStore is the persistent, address-keyed table of wallet records.
// The store exclusively owns persisted records; callers submit whole-record
// replacements or batched updates and never mutate internals directly.
type WalletStore interface {
	Get(address string) (entity.WalletRecord, bool)
	Set(address string, record entity.WalletRecord) error
	BatchSet(records []entity.WalletRecord) error
	Remove(address string) error
	All() []entity.WalletRecord
	Len() int

	// MaxID returns the highest assigned record id, 0 when empty.
	MaxID() int

	// Deduplicate groups records by normalized address and collapses each
	// group to one record keeping the minimum id and the freshest content.
	Deduplicate() (DedupResult, error)

	// ReconcileIDs overwrites record ids that disagree with the supplied
	// address-to-id mapping and returns how many were updated.
	ReconcileIDs(mapping map[string]int) (int, error)

	ExportAll() ([]byte, error)
	ImportAll(data []byte) error
}
