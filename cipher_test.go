package entryvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	cases := []struct {
		name string
		body string
	}{
		{"Simple", "gratitude: sunrise"},
		{"Empty", ""},
		{"Unicode", "coffee ☕ and 日記 at dawn"},
		{"Long", string(make([]byte, 64*1024))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, err := v.EncryptEntry(ctx, tc.body, EntryMetadata{Tags: []string{"test"}})
			require.NoError(t, err)
			assert.NotEmpty(t, entry.ID)
			assert.NotEmpty(t, entry.Nonce)
			assert.NotEmpty(t, entry.WrappedKey)
			assert.NotContains(t, string(entry.Ciphertext), tc.body)

			plaintext, err := v.DecryptEntry(ctx, entry.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.body, plaintext.Body)
			assert.Equal(t, []string{"test"}, plaintext.Tags)
		})
	}
}

func TestUniqueContentKeys(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	a, err := v.EncryptEntry(ctx, "same body", EntryMetadata{})
	require.NoError(t, err)
	b, err := v.EncryptEntry(ctx, "same body", EntryMetadata{})
	require.NoError(t, err)

	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.WrappedKey, b.WrappedKey)
}

func TestTamperDetection(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	tamper := func(t *testing.T, mutate func(entry *EncryptedEntry)) {
		t.Helper()
		entry, err := v.EncryptEntry(ctx, "private thoughts", EntryMetadata{})
		require.NoError(t, err)

		mutate(entry)
		data, err := encodeEntry(entry)
		require.NoError(t, err)

		current, err := v.store.LoadRecord(persist.RecordEntry, entry.ID)
		require.NoError(t, err)
		_, err = v.store.SaveRecord(persist.RecordEntry, entry.ID, data, current.Version)
		require.NoError(t, err)

		_, err = v.DecryptEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, ErrTamperedCiphertext)
	}

	t.Run("FlippedCiphertextBit", func(t *testing.T) {
		tamper(t, func(e *EncryptedEntry) { e.Ciphertext[0] ^= 0x01 })
	})

	t.Run("FlippedLastCiphertextBit", func(t *testing.T) {
		tamper(t, func(e *EncryptedEntry) { e.Ciphertext[len(e.Ciphertext)-1] ^= 0x80 })
	})

	t.Run("FlippedNonceBit", func(t *testing.T) {
		tamper(t, func(e *EncryptedEntry) { e.Nonce[0] ^= 0x01 })
	})
}

func TestUnwrapFailure(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "body", EntryMetadata{})
	require.NoError(t, err)

	// Corrupt the wrapped key; RSA-OAEP must refuse, not hand back garbage
	entry.WrappedKey[10] ^= 0xFF
	data, err := encodeEntry(entry)
	require.NoError(t, err)
	current, err := v.store.LoadRecord(persist.RecordEntry, entry.ID)
	require.NoError(t, err)
	_, err = v.store.SaveRecord(persist.RecordEntry, entry.ID, data, current.Version)
	require.NoError(t, err)

	_, err = v.DecryptEntry(ctx, entry.ID)
	assert.ErrorIs(t, err, ErrUnwrapFailure)
}

func TestUpdateEntry(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "draft", EntryMetadata{})
	require.NoError(t, err)
	grant, err := owner.CreateShare(ctx, entry.ID, "bob", nil, nil)
	require.NoError(t, err)

	updated, err := owner.UpdateEntry(ctx, entry.ID, "final", EntryMetadata{Mood: "calm"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), int64(updated.Version))

	t.Run("OwnerReadsNewBody", func(t *testing.T) {
		plaintext, err := owner.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "final", plaintext.Body)
	})

	t.Run("GrantSurvivesUpdate", func(t *testing.T) {
		// Content key is reused on update, so the wrapped copy still works
		plaintext, err := recipient.DecryptGrantedEntry(ctx, updated, grant)
		require.NoError(t, err)
		assert.Equal(t, "final", plaintext.Body)
	})
}

func TestDeleteEntry(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "to be removed", EntryMetadata{})
	require.NoError(t, err)
	require.NoError(t, v.DeleteEntry(ctx, entry.ID))

	_, err = v.GetEntry(entry.ID)
	assert.Error(t, err)
}

func TestDecryptEntriesCancellation(t *testing.T) {
	v := newTestVault(t, t.TempDir(), "alice", nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := v.EncryptEntry(ctx, "entry", EntryMetadata{})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := v.DecryptEntries(cancelled, ids)
	assert.ErrorIs(t, err, context.Canceled)

	results, err := v.DecryptEntries(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
