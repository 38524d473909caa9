package entryvault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/audit"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

const testPassphrase = "Sn0wfall!23"

// newTestVault creates an initialized, unlocked vault for userID backed by
// a filesystem store under dir. Vaults created with the same dir and
// directory can exchange grants.
func newTestVault(t *testing.T, dir, userID string, directory PrincipalDirectory) *Vault {
	t.Helper()
	return newTestVaultWithPassphrase(t, dir, userID, testPassphrase, directory)
}

func newTestVaultWithPassphrase(t *testing.T, dir, userID, passphrase string, directory PrincipalDirectory) *Vault {
	t.Helper()

	v := openTestVault(t, dir, userID, passphrase, directory)
	require.NoError(t, v.Initialize())
	return v
}

// openTestVault constructs a vault without initializing, for reopening an
// existing user directory.
func openTestVault(t *testing.T, dir, userID, passphrase string, directory PrincipalDirectory) *Vault {
	t.Helper()

	store, err := persist.NewFileSystemStore(dir, userID)
	require.NoError(t, err)

	options := Options{
		DerivationPassphrase: passphrase,
		UserID:               userID,
	}
	v, err := NewWithStore(options, store, &audit.NoOpLogger{}, directory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestNewWithStore(t *testing.T) {
	t.Run("RequiresStore", func(t *testing.T) {
		_, err := NewWithStore(Options{DerivationPassphrase: testPassphrase, UserID: "u"}, nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("RequiresUserID", func(t *testing.T) {
		store, err := persist.NewFileSystemStore(t.TempDir(), "u")
		require.NoError(t, err)
		_, err = NewWithStore(Options{DerivationPassphrase: testPassphrase}, store, nil, nil)
		assert.Error(t, err)
	})

	t.Run("StartsUninitialized", func(t *testing.T) {
		v := openTestVault(t, t.TempDir(), "alice", testPassphrase, nil)
		assert.Equal(t, StateUninitialized, v.State())
		assert.False(t, v.IsUnlocked())
	})

	t.Run("ReopensLocked", func(t *testing.T) {
		dir := t.TempDir()
		v := newTestVault(t, dir, "alice", nil)
		keyID := v.KeyID()
		require.NoError(t, v.Close())

		reopened := openTestVault(t, dir, "alice", testPassphrase, nil)
		assert.Equal(t, StateLocked, reopened.State())
		assert.Equal(t, keyID, reopened.KeyID())
	})
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	v := newTestVault(t, dir, "alice", nil)

	t.Run("Unlocked", func(t *testing.T) {
		assert.Equal(t, StateUnlocked, v.State())
		assert.NotEmpty(t, v.KeyID())
		assert.NotEmpty(t, v.PublicKeyPEM())
	})

	t.Run("SecondInitializeFails", func(t *testing.T) {
		assert.ErrorIs(t, v.Initialize(), ErrAlreadyInitialized)
	})

	t.Run("WeakPassphraseRejected", func(t *testing.T) {
		weak := openTestVault(t, t.TempDir(), "bob", "short", nil)
		assert.ErrorIs(t, weak.Initialize(), ErrWeakPassphrase)
	})
}

func TestUnlockLock(t *testing.T) {
	dir := t.TempDir()
	v := newTestVault(t, dir, "alice", nil)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "gratitude: sunrise", EntryMetadata{})
	require.NoError(t, err)

	t.Run("LockBlocksDecrypt", func(t *testing.T) {
		v.Lock()
		assert.Equal(t, StateLocked, v.State())

		_, err := v.DecryptEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, ErrKeyManagerLocked)
	})

	t.Run("LockIsIdempotent", func(t *testing.T) {
		v.Lock()
		v.Lock()
		assert.Equal(t, StateLocked, v.State())
	})

	t.Run("UnlockRestoresAccess", func(t *testing.T) {
		require.NoError(t, v.Unlock())

		plaintext, err := v.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "gratitude: sunrise", plaintext.Body)
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		require.NoError(t, v.Close())
		wrong := openTestVault(t, dir, "alice", "not-the-passphrase", nil)
		assert.ErrorIs(t, wrong.Unlock(), ErrInvalidPassphrase)
		assert.Equal(t, StateLocked, wrong.State())
	})
}

func TestRotatePassphrase(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "before rotation", EntryMetadata{})
	require.NoError(t, err)
	grant, err := owner.CreateShare(ctx, entry.ID, "bob", nil, nil)
	require.NoError(t, err)

	keyIDBefore := owner.KeyID()
	require.NoError(t, owner.RotatePassphrase("winter-sunrise-gratitude-10"))

	t.Run("KeypairUnchanged", func(t *testing.T) {
		assert.Equal(t, keyIDBefore, owner.KeyID())
	})

	t.Run("OwnEntriesStillDecrypt", func(t *testing.T) {
		plaintext, err := owner.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "before rotation", plaintext.Body)
	})

	t.Run("ExistingGrantsStayValid", func(t *testing.T) {
		plaintext, err := recipient.DecryptGrantedEntry(ctx, entry, grant)
		require.NoError(t, err)
		assert.Equal(t, "before rotation", plaintext.Body)
	})

	t.Run("NewPassphraseUnlocks", func(t *testing.T) {
		require.NoError(t, owner.Close())
		reopened := openTestVault(t, dir, "alice", "winter-sunrise-gratitude-10", directory)
		assert.NoError(t, reopened.Unlock())
	})

	t.Run("RotateWeakPassphraseRejected", func(t *testing.T) {
		assert.ErrorIs(t, recipient.RotatePassphrase("tiny"), ErrWeakPassphrase)
	})
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	v := newTestVault(t, dir, "alice", nil)

	require.NoError(t, v.Reset())
	assert.Equal(t, StateUninitialized, v.State())
	assert.Empty(t, v.KeyID())

	// A fresh identity can be created afterwards
	require.NoError(t, v.Initialize())
	assert.Equal(t, StateUnlocked, v.State())
}

func TestWithRetry(t *testing.T) {
	v := &Vault{now: time.Now}

	t.Run("NonConcurrencyErrorNotRetried", func(t *testing.T) {
		attempts := 0
		err := v.withRetry("op", func() error {
			attempts++
			return assert.AnError
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("ConcurrencyErrorRetried", func(t *testing.T) {
		attempts := 0
		err := v.withRetry("op", func() error {
			attempts++
			if attempts < 3 {
				return &persist.ConcurrencyError{Operation: "save"}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		attempts := 0
		err := v.withRetry("op", func() error {
			attempts++
			return &persist.ConcurrencyError{Operation: "save"}
		})
		assert.Error(t, err)
		assert.Equal(t, maxRetries+1, attempts)
	})
}
