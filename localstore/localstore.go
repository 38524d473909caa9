// Package localstore mirrors server-held encrypted entries on the local
// device and optionally maintains a decrypted projection for search.
//
// Two independent keyed tiers live in one badger database: the canonical
// tier holds encrypted entries exactly as the server stores them and is the
// local source of truth; the cache tier holds decrypted projections keyed
// identically, derived, rebuildable and evictable. Writes never flow from
// the cache back to the canonical tier.
package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

const (
	canonicalPrefix = "entry/"
	cachePrefix     = "cache/"
)

// Config controls the local store.
type Config struct {
	// Path is the badger database directory.
	Path string

	// InMemory runs badger without a backing directory, for tests.
	InMemory bool

	// CacheTTL is how long decrypted cache records live. Zero disables
	// expiry.
	CacheTTL time.Duration

	// CacheQuotaBytes caps the decrypted cache tier. Zero means no quota.
	CacheQuotaBytes int64

	// CacheEnabled toggles the decrypted projection. When disabled,
	// Search degrades to cleartext-metadata filtering.
	CacheEnabled bool
}

// ConfigFromOptions maps the vault's cache options onto a store Config,
// applying the documented defaults: a zero Options.CacheTTL selects one
// hour. CacheEnabled is a device-local choice, not a vault option, so the
// caller passes it explicitly.
func ConfigFromOptions(path string, cacheEnabled bool, o entryvault.Options) Config {
	ttl := o.CacheTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return Config{
		Path:            path,
		CacheEnabled:    cacheEnabled,
		CacheTTL:        ttl,
		CacheQuotaBytes: o.CacheQuotaBytes,
	}
}

// LocalStore is the on-device entry mirror.
type LocalStore struct {
	db  *badger.DB
	cfg Config
}

// localRecord wraps a canonical entry with sync bookkeeping.
type localRecord struct {
	Entry    entryvault.EncryptedEntry `json:"entry"`
	Dirty    bool                      `json:"dirty"`
	SyncedAt time.Time                 `json:"synced_at"`
}

// cacheRecord is one decrypted projection.
type cacheRecord struct {
	Plaintext entryvault.Plaintext `json:"plaintext"`
	CachedAt  time.Time            `json:"cached_at"`
}

// Open opens or creates the local store at cfg.Path.
func Open(cfg Config) (*LocalStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return &LocalStore{db: db, cfg: cfg}, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Put stores a locally edited entry in the canonical tier and marks it
// dirty so the next Sync never clobbers it with older server state.
func (s *LocalStore) Put(entry *entryvault.EncryptedEntry) error {
	record := localRecord{Entry: *entry, Dirty: true}
	return s.putRecord(&record)
}

// Get returns the canonical encrypted entry.
func (s *LocalStore) Get(entryID string) (*entryvault.EncryptedEntry, error) {
	record, err := s.getRecord(entryID)
	if err != nil {
		return nil, err
	}
	return &record.Entry, nil
}

// Delete removes an entry from both tiers.
func (s *LocalStore) Delete(entryID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(canonicalPrefix + entryID)); err != nil {
			return err
		}
		err := txn.Delete([]byte(cachePrefix + entryID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// List returns every canonical entry ID.
func (s *LocalStore) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(canonicalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(canonicalPrefix):]))
		}
		return nil
	})
	return ids, err
}

// Dirty returns the IDs of locally edited entries not yet pushed to the
// server.
func (s *LocalStore) Dirty() ([]string, error) {
	var ids []string
	err := s.forEachRecord(func(record *localRecord) error {
		if record.Dirty {
			ids = append(ids, record.Entry.ID)
		}
		return nil
	})
	return ids, err
}

// MarkSynced clears the dirty flag after a successful push.
func (s *LocalStore) MarkSynced(entryID string) error {
	record, err := s.getRecord(entryID)
	if err != nil {
		return err
	}
	record.Dirty = false
	record.SyncedAt = time.Now().UTC()
	return s.putRecord(record)
}

// Sync merges server-held entries into the canonical tier. A local entry
// that is dirty and newer than the server copy is left untouched; a
// not-yet-synced edit is never overwritten. Everything else is replaced
// with the server state and marked clean.
func (s *LocalStore) Sync(serverEntries []*entryvault.EncryptedEntry) (int, error) {
	merged := 0
	for _, server := range serverEntries {
		local, err := s.getRecord(server.ID)
		if err == nil && local.Dirty && local.Entry.UpdatedAt.After(server.UpdatedAt) {
			continue
		}
		if err != nil && err != badger.ErrKeyNotFound {
			return merged, err
		}

		record := localRecord{
			Entry:    *server,
			SyncedAt: time.Now().UTC(),
		}
		if err := s.putRecord(&record); err != nil {
			return merged, err
		}
		// The server copy superseded whatever projection we had
		if s.cfg.CacheEnabled {
			_ = s.dropCached(server.ID)
		}
		merged++
	}
	return merged, nil
}

func (s *LocalStore) putRecord(record *localRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(canonicalPrefix+record.Entry.ID), data)
	})
}

func (s *LocalStore) getRecord(entryID string) (*localRecord, error) {
	var record localRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(canonicalPrefix + entryID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *LocalStore) forEachRecord(fn func(record *localRecord) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(canonicalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var record localRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				continue
			}
			if err := fn(&record); err != nil {
				return err
			}
		}
		return nil
	})
}
