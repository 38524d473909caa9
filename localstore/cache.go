package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

// Decryptor decrypts canonical entries for the cache tier. Satisfied by
// *entryvault.Vault; fails per entry when the key manager is locked.
type Decryptor interface {
	DecryptEntry(ctx context.Context, entryID string) (*entryvault.Plaintext, error)
}

// RebuildCache decrypts every canonical entry once and stores the
// projections in the cache tier. Requires an unlocked decryptor: a locked
// key manager aborts the rebuild with ErrKeyManagerLocked rather than
// skipping every entry. Individual entries that fail to decrypt for any
// other reason are skipped rather than aborting the whole rebuild; ctx is
// checked between entries so a long rebuild cancels at entry granularity.
// Returns the number of entries cached and the number skipped.
func (s *LocalStore) RebuildCache(ctx context.Context, decryptor Decryptor) (cached, skipped int, err error) {
	if !s.cfg.CacheEnabled {
		return 0, 0, fmt.Errorf("decrypted cache is disabled")
	}

	ids, err := s.List()
	if err != nil {
		return 0, 0, err
	}

	for _, id := range ids {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cached, skipped, ctxErr
		}

		plaintext, decErr := decryptor.DecryptEntry(ctx, id)
		if decErr != nil {
			if errors.Is(decErr, entryvault.ErrKeyManagerLocked) {
				return cached, skipped, decErr
			}
			skipped++
			continue
		}
		if cacheErr := s.CachePlaintext(plaintext); cacheErr != nil {
			return cached, skipped, cacheErr
		}
		cached++
	}
	return cached, skipped, nil
}

// ClearCache drops the entire decrypted projection. The canonical tier is
// untouched.
func (s *LocalStore) ClearCache() error {
	return s.db.DropPrefix([]byte(cachePrefix))
}

// CachePlaintext stores one decrypted projection with the configured TTL.
// When the cache quota is exceeded, the oldest cached projection is evicted
// once and the write retried; if the write still does not fit, it fails
// with ErrQuotaExceeded. Canonical encrypted copies are never candidates
// for eviction.
func (s *LocalStore) CachePlaintext(plaintext *entryvault.Plaintext) error {
	record := cacheRecord{
		Plaintext: *plaintext,
		CachedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	if s.cfg.CacheQuotaBytes > 0 {
		usage, err := s.cacheUsage()
		if err != nil {
			return err
		}
		if usage+int64(len(data)) > s.cfg.CacheQuotaBytes {
			// One remediation attempt before surfacing the quota error
			if err := s.evictOldestCached(); err != nil {
				return err
			}
			usage, err = s.cacheUsage()
			if err != nil {
				return err
			}
			if usage+int64(len(data)) > s.cfg.CacheQuotaBytes {
				return entryvault.ErrQuotaExceeded
			}
		}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(cachePrefix+plaintext.EntryID), data)
		if s.cfg.CacheTTL > 0 {
			e = e.WithTTL(s.cfg.CacheTTL)
		}
		return txn.SetEntry(e)
	})
}

// Cached returns the decrypted projection for an entry, or
// badger.ErrKeyNotFound when the entry is not cached (or its TTL lapsed).
func (s *LocalStore) Cached(entryID string) (*entryvault.Plaintext, error) {
	var record cacheRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cachePrefix + entryID))
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
	return &record.Plaintext, nil
}

func (s *LocalStore) dropCached(entryID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(cachePrefix + entryID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *LocalStore) cacheUsage() (int64, error) {
	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(cachePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			total += it.Item().EstimatedSize()
		}
		return nil
	})
	return total, err
}

func (s *LocalStore) evictOldestCached() error {
	oldestKey := ""
	oldest := time.Time{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cachePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var record cacheRecord
			key := string(it.Item().Key())
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				continue
			}
			if oldestKey == "" || record.CachedAt.Before(oldest) {
				oldestKey = key
				oldest = record.CachedAt
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if oldestKey == "" {
		return entryvault.ErrQuotaExceeded
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(oldestKey))
	})
}
