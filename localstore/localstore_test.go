package localstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

func newTestStore(t *testing.T, cfg Config) *LocalStore {
	t.Helper()
	cfg.InMemory = true
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntry(id string, updatedAt time.Time) *entryvault.EncryptedEntry {
	return &entryvault.EncryptedEntry{
		ID:         id,
		OwnerID:    "alice",
		Ciphertext: []byte("opaque-" + id),
		Nonce:      []byte("nonce-" + id),
		WrappedKey: []byte("wrapped-" + id),
		UpdatedAt:  updatedAt,
	}
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t, Config{})
	entry := testEntry("e1", time.Now().UTC())

	require.NoError(t, s.Put(entry))

	got, err := s.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, entry.Ciphertext, got.Ciphertext)

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)

	require.NoError(t, s.Delete("e1"))
	_, err = s.Get("e1")
	assert.Error(t, err)
}

func TestDirtyTracking(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.Put(testEntry("e1", time.Now().UTC())))
	require.NoError(t, s.Put(testEntry("e2", time.Now().UTC())))

	dirty, err := s.Dirty()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, dirty)

	require.NoError(t, s.MarkSynced("e1"))
	dirty, err = s.Dirty()
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, dirty)
}

func TestSync(t *testing.T) {
	s := newTestStore(t, Config{CacheEnabled: true})
	base := time.Now().UTC()

	t.Run("NewEntriesMerged", func(t *testing.T) {
		merged, err := s.Sync([]*entryvault.EncryptedEntry{
			testEntry("e1", base),
			testEntry("e2", base),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, merged)

		dirty, err := s.Dirty()
		require.NoError(t, err)
		assert.Empty(t, dirty, "synced entries arrive clean")
	})

	t.Run("DirtyNewerLocalWins", func(t *testing.T) {
		local := testEntry("e1", base.Add(time.Minute))
		local.Ciphertext = []byte("local edit")
		require.NoError(t, s.Put(local))

		merged, err := s.Sync([]*entryvault.EncryptedEntry{testEntry("e1", base)})
		require.NoError(t, err)
		assert.Equal(t, 0, merged)

		got, err := s.Get("e1")
		require.NoError(t, err)
		assert.Equal(t, []byte("local edit"), got.Ciphertext)
	})

	t.Run("NewerServerReplacesCleanLocal", func(t *testing.T) {
		require.NoError(t, s.MarkSynced("e1"))
		server := testEntry("e1", base.Add(time.Hour))
		server.Ciphertext = []byte("server edit")

		merged, err := s.Sync([]*entryvault.EncryptedEntry{server})
		require.NoError(t, err)
		assert.Equal(t, 1, merged)

		got, err := s.Get("e1")
		require.NoError(t, err)
		assert.Equal(t, []byte("server edit"), got.Ciphertext)
	})

	t.Run("SyncDropsStaleProjection", func(t *testing.T) {
		require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{EntryID: "e2", Body: "old body"}))
		_, err := s.Sync([]*entryvault.EncryptedEntry{testEntry("e2", base.Add(time.Hour))})
		require.NoError(t, err)

		_, err = s.Cached("e2")
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
	})
}

// stubDecryptor stands in for an unlocked vault; entries absent from the map
// fail the way a single corrupted entry would.
type stubDecryptor map[string]*entryvault.Plaintext

func (d stubDecryptor) DecryptEntry(_ context.Context, entryID string) (*entryvault.Plaintext, error) {
	p, ok := d[entryID]
	if !ok {
		return nil, entryvault.ErrTamperedCiphertext
	}
	return p, nil
}

// lockedDecryptor stands in for a vault whose key manager is locked.
type lockedDecryptor struct{}

func (lockedDecryptor) DecryptEntry(context.Context, string) (*entryvault.Plaintext, error) {
	return nil, entryvault.ErrKeyManagerLocked
}

func TestRebuildCache(t *testing.T) {
	s := newTestStore(t, Config{CacheEnabled: true})
	now := time.Now().UTC()
	require.NoError(t, s.Put(testEntry("e1", now)))
	require.NoError(t, s.Put(testEntry("e2", now)))
	require.NoError(t, s.Put(testEntry("e3", now)))

	decryptor := stubDecryptor{
		"e1": {EntryID: "e1", Body: "morning pages"},
		"e2": {EntryID: "e2", Body: "evening pages"},
	}

	cached, skipped, err := s.RebuildCache(context.Background(), decryptor)
	require.NoError(t, err)
	assert.Equal(t, 2, cached)
	assert.Equal(t, 1, skipped, "undecryptable entries are skipped, not fatal")

	got, err := s.Cached("e1")
	require.NoError(t, err)
	assert.Equal(t, "morning pages", got.Body)

	t.Run("LockedVaultAborts", func(t *testing.T) {
		require.NoError(t, s.ClearCache())

		cached, skipped, err := s.RebuildCache(context.Background(), lockedDecryptor{})
		assert.ErrorIs(t, err, entryvault.ErrKeyManagerLocked)
		assert.Equal(t, 0, cached)
		assert.Equal(t, 0, skipped, "a locked key manager is not a per-entry skip")

		_, err = s.Cached("e1")
		assert.ErrorIs(t, err, badger.ErrKeyNotFound)
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := s.RebuildCache(ctx, decryptor)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("DisabledCache", func(t *testing.T) {
		plain := newTestStore(t, Config{})
		_, _, err := plain.RebuildCache(context.Background(), decryptor)
		assert.Error(t, err)
	})
}

func TestClearCache(t *testing.T) {
	s := newTestStore(t, Config{CacheEnabled: true})
	require.NoError(t, s.Put(testEntry("e1", time.Now().UTC())))
	require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{EntryID: "e1", Body: "secret"}))

	require.NoError(t, s.ClearCache())

	_, err := s.Cached("e1")
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)

	// Canonical tier untouched
	_, err = s.Get("e1")
	assert.NoError(t, err)
}

func TestCacheTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a TTL")
	}
	s := newTestStore(t, Config{CacheEnabled: true, CacheTTL: time.Second})
	require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{EntryID: "e1", Body: "fleeting"}))

	_, err := s.Cached("e1")
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)
	_, err = s.Cached("e1")
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestCacheQuota(t *testing.T) {
	body := strings.Repeat("x", 4096)

	t.Run("EvictsOldestOnce", func(t *testing.T) {
		s := newTestStore(t, Config{CacheEnabled: true, CacheQuotaBytes: 6 * 1024})

		require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{EntryID: "old", Body: body}))
		time.Sleep(10 * time.Millisecond) // distinct CachedAt ordering
		require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{EntryID: "new", Body: body}))

		_, err := s.Cached("old")
		assert.ErrorIs(t, err, badger.ErrKeyNotFound, "oldest projection evicted to make room")
		_, err = s.Cached("new")
		assert.NoError(t, err)
	})

	t.Run("QuotaExceededWhenEvictionCannotHelp", func(t *testing.T) {
		s := newTestStore(t, Config{CacheEnabled: true, CacheQuotaBytes: 1024})

		err := s.CachePlaintext(&entryvault.Plaintext{EntryID: "huge", Body: body})
		assert.ErrorIs(t, err, entryvault.ErrQuotaExceeded)
	})

	t.Run("CanonicalTierNeverEvicted", func(t *testing.T) {
		s := newTestStore(t, Config{CacheEnabled: true, CacheQuotaBytes: 6 * 1024})
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("e%d", i)
			require.NoError(t, s.Put(testEntry(id, time.Now().UTC())))
			_ = s.CachePlaintext(&entryvault.Plaintext{EntryID: id, Body: body})
		}
		ids, err := s.List()
		require.NoError(t, err)
		assert.Len(t, ids, 5)
	})
}

func TestConfigFromOptions(t *testing.T) {
	t.Run("DefaultsTTLToOneHour", func(t *testing.T) {
		cfg := ConfigFromOptions("/tmp/ls", true, entryvault.Options{})
		assert.Equal(t, time.Hour, cfg.CacheTTL)
		assert.Equal(t, "/tmp/ls", cfg.Path)
		assert.True(t, cfg.CacheEnabled)
		assert.Zero(t, cfg.CacheQuotaBytes)
	})

	t.Run("CarriesExplicitValues", func(t *testing.T) {
		cfg := ConfigFromOptions("/tmp/ls", false, entryvault.Options{
			CacheTTL:        15 * time.Minute,
			CacheQuotaBytes: 4096,
		})
		assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
		assert.Equal(t, int64(4096), cfg.CacheQuotaBytes)
		assert.False(t, cfg.CacheEnabled)
	})
}

func TestSearch(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, cacheEnabled bool) *LocalStore {
		s := newTestStore(t, Config{CacheEnabled: cacheEnabled})
		e1 := testEntry("e1", base)
		e1.Metadata = entryvault.EntryMetadata{Tags: []string{"exercise"}, Mood: "energized"}
		e2 := testEntry("e2", base.Add(48*time.Hour))
		e2.Metadata = entryvault.EntryMetadata{Tags: []string{"food"}, Mood: "content"}
		require.NoError(t, s.Put(e1))
		require.NoError(t, s.Put(e2))
		if cacheEnabled {
			require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{
				EntryID: "e1", Body: "ran along the river", Tags: []string{"exercise"}, Mood: "energized",
			}))
			require.NoError(t, s.CachePlaintext(&entryvault.Plaintext{
				EntryID: "e2", Body: "made soup from scratch", Tags: []string{"food"}, Mood: "content",
			}))
		}
		return s
	}

	t.Run("FreeTextWithCache", func(t *testing.T) {
		s := seed(t, true)
		matches, err := s.Search(SearchFilters{Query: "RIVER"})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "e1", matches[0].EntryID)
		assert.Equal(t, "ran along the river", matches[0].Body)
	})

	t.Run("FreeTextWithoutCache", func(t *testing.T) {
		s := seed(t, false)
		matches, err := s.Search(SearchFilters{Query: "river"})
		require.NoError(t, err)
		assert.Empty(t, matches, "free text needs plaintext; metadata-only mode cannot match it")
	})

	t.Run("MetadataWithoutCache", func(t *testing.T) {
		s := seed(t, false)
		matches, err := s.Search(SearchFilters{Tags: []string{"Exercise"}})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "e1", matches[0].EntryID)
		assert.Empty(t, matches[0].Body)
	})

	t.Run("MoodFilter", func(t *testing.T) {
		s := seed(t, true)
		matches, err := s.Search(SearchFilters{Mood: "content"})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "e2", matches[0].EntryID)
	})

	t.Run("DateRange", func(t *testing.T) {
		s := seed(t, true)
		matches, err := s.Search(SearchFilters{From: base.Add(24 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "e2", matches[0].EntryID)
	})
}
