package walletstore

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"portfolio_tracker/internal/app/port"
	"portfolio_tracker/internal/domain/entity"
	"portfolio_tracker/internal/pkg/metrics"
	"portfolio_tracker/internal/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	metadataKey  = "_metadata"
	storeVersion = 2
	defaultPath  = "data/wallets.json"
)

// storeMetadata is the bookkeeping block recomputed on every save.
type storeMetadata struct {
	TotalWallets int       `json:"totalWallets"`
	LastFetch    time.Time `json:"lastFetch"`
	Version      int       `json:"version"`
}

// JSONWalletStore implements port.WalletStore over a single JSON document
// keyed by normalized address. Every mutating call writes the whole table
// through to disk, so the document on disk always matches memory; BatchSet
// is the only way to coalesce writes.
type JSONWalletStore struct {
	filePath string
	logger   port.Logger

	mu      sync.Mutex
	records map[string]entity.WalletRecord
}

// NewJSONWalletStore opens (or creates) the store document at filePath.
// A corrupt document falls back to an empty store rather than failing.
func NewJSONWalletStore(filePath string, l port.Logger) (*JSONWalletStore, error) {
	if filePath == "" {
		filePath = defaultPath
	}
	s := &JSONWalletStore{
		filePath: filePath,
		logger:   l,
		records:  make(map[string]entity.WalletRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONWalletStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("Wallet store document not found, starting empty", "path", s.filePath)
			return nil
		}
		return fmt.Errorf("failed to read wallet store %s: %w", s.filePath, err)
	}

	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("Wallet store document is corrupt, starting empty", "path", s.filePath, "error", err)
		return nil
	}

	for key, msg := range raw {
		if key == metadataKey {
			continue
		}
		var rec entity.WalletRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			s.logger.Warn("Skipping unreadable wallet record", "key", key, "error", err)
			continue
		}
		s.records[key] = rec
	}
	metrics.WalletsStored.Set(float64(len(s.records)))
	s.logger.Info("Wallet store loaded", "path", s.filePath, "records", len(s.records))
	return nil
}

// saveLocked materializes the whole table plus metadata to disk.
// Callers must hold s.mu.
func (s *JSONWalletStore) saveLocked() error {
	doc := make(map[string]any, len(s.records)+1)
	var lastFetch time.Time
	for key, rec := range s.records {
		doc[key] = rec
		if rec.FetchedAt.After(lastFetch) {
			lastFetch = rec.FetchedAt
		}
	}
	doc[metadataKey] = storeMetadata{
		TotalWallets: len(s.records),
		LastFetch:    lastFetch,
		Version:      storeVersion,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet store: %w", err)
	}
	if err := utils.WriteFileAtomic(s.filePath, data); err != nil {
		return fmt.Errorf("failed to persist wallet store: %w", err)
	}
	metrics.WalletsStored.Set(float64(len(s.records)))
	return nil
}

// Get returns the record stored under the normalized form of address.
func (s *JSONWalletStore) Get(address string) (entity.WalletRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entity.NormalizeAddress(address)]
	return rec, ok
}

// Set writes record under the normalized key. Any other stored key that
// normalizes to the same address is deleted first, and a previously
// assigned id (and sticky tier) is carried over so new data never silently
// discards either.
func (s *JSONWalletStore) Set(address string, record entity.WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(address, record)
	return s.saveLocked()
}

// BatchSet applies all updates with a single persistence flush.
func (s *JSONWalletStore) BatchSet(records []entity.WalletRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.setLocked(rec.Address, rec)
	}
	return s.saveLocked()
}

func (s *JSONWalletStore) setLocked(address string, record entity.WalletRecord) {
	norm := entity.NormalizeAddress(address)

	existingID := 0
	existingTier := 0
	for key, prior := range s.records {
		if key != norm && entity.NormalizeAddress(key) == norm {
			if prior.ID != 0 && existingID == 0 {
				existingID = prior.ID
			}
			if prior.Tier != 0 && existingTier == 0 {
				existingTier = prior.Tier
			}
			delete(s.records, key)
		}
	}
	if prior, ok := s.records[norm]; ok {
		if prior.ID != 0 {
			existingID = prior.ID
		}
		if prior.Tier != 0 && existingTier == 0 {
			existingTier = prior.Tier
		}
	}

	if existingID != 0 {
		record.ID = existingID
	}
	if record.Tier == 0 {
		record.Tier = existingTier
	}
	s.records[norm] = record
}

// Remove deletes the record for address, if any.
func (s *JSONWalletStore) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := entity.NormalizeAddress(address)
	if _, ok := s.records[norm]; !ok {
		return nil
	}
	delete(s.records, norm)
	return s.saveLocked()
}

// All returns every stored record ordered by id ascending.
func (s *JSONWalletStore) All() []entity.WalletRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.WalletRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored records.
func (s *JSONWalletStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// MaxID returns the highest assigned record id, 0 when the store is empty.
func (s *JSONWalletStore) MaxID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, rec := range s.records {
		if rec.ID > max {
			max = rec.ID
		}
	}
	return max
}

// Deduplicate groups all stored records by normalized address and collapses
// every group with more than one member to a single record keeping the
// minimum id and the content of the most recently fetched member.
func (s *JSONWalletStore) Deduplicate() (port.DedupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]string)
	for key := range s.records {
		norm := entity.NormalizeAddress(key)
		groups[norm] = append(groups[norm], key)
	}

	var result port.DedupResult
	for norm, keys := range groups {
		if len(keys) == 1 && keys[0] == norm {
			continue
		}

		minID := 0
		var freshest entity.WalletRecord
		var freshestAt time.Time
		for _, key := range keys {
			rec := s.records[key]
			if minID == 0 || (rec.ID != 0 && rec.ID < minID) {
				minID = rec.ID
			}
			if at := rec.FreshnessTime(); freshestAt.IsZero() || at.After(freshestAt) {
				freshest = rec
				freshestAt = at
			}
		}

		for _, key := range keys {
			if key != norm {
				delete(s.records, key)
				result.Removed++
			}
		}

		freshest.ID = minID
		s.records[norm] = freshest
		result.Updated++
	}

	if result.Removed == 0 && result.Updated == 0 {
		return result, nil
	}
	return result, s.saveLocked()
}

// ReconcileIDs overwrites the id of every record that disagrees with (or is
// missing from) the supplied address-to-id mapping.
func (s *JSONWalletStore) ReconcileIDs(mapping map[string]int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := make(map[string]int, len(mapping))
	for addr, id := range mapping {
		normalized[entity.NormalizeAddress(addr)] = id
	}

	updated := 0
	for key, rec := range s.records {
		want, ok := normalized[key]
		if !ok || rec.ID == want {
			continue
		}
		rec.ID = want
		s.records[key] = rec
		updated++
	}

	if updated == 0 {
		return 0, nil
	}
	return updated, s.saveLocked()
}

// ExportAll returns the full document as it would be written to disk.
func (s *JSONWalletStore) ExportAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := make(map[string]any, len(s.records))
	for key, rec := range s.records {
		doc[key] = rec
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportAll replaces the store contents with the records in data and
// persists the result. The metadata key, if present, is ignored.
func (s *JSONWalletStore) ImportAll(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse import document: %w", err)
	}

	records := make(map[string]entity.WalletRecord, len(raw))
	for key, msg := range raw {
		if key == metadataKey {
			continue
		}
		var rec entity.WalletRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			return fmt.Errorf("failed to parse record %q: %w", key, err)
		}
		records[entity.NormalizeAddress(key)] = rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return s.saveLocked()
}
