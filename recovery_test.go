package entryvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverWithMnemonic(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "remember me", EntryMetadata{})
	require.NoError(t, err)

	mnemonic, err := v.GenerateRecovery()
	require.NoError(t, err)
	assert.NotEmpty(t, mnemonic)
	require.NoError(t, v.Close())

	// Reopen as a user who has forgotten the passphrase
	reopened := openTestVault(t, dir, "alice", "forgotten-passphrase-000", directory)
	require.Equal(t, StateLocked, reopened.State())

	t.Run("WrongMnemonicRejected", func(t *testing.T) {
		err := reopened.RecoverWithMnemonic("not a valid mnemonic at all")
		assert.ErrorIs(t, err, ErrInvalidRecoveryMaterial)
		assert.Equal(t, StateLocked, reopened.State())
	})

	t.Run("MnemonicRestoresAccess", func(t *testing.T) {
		require.NoError(t, reopened.RecoverWithMnemonic(mnemonic))
		assert.Equal(t, StateUnlocked, reopened.State())

		plaintext, err := reopened.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "remember me", plaintext.Body)
	})

	t.Run("RotateAfterRecovery", func(t *testing.T) {
		// The documented followup: recover, then set a fresh passphrase
		require.NoError(t, reopened.RotatePassphrase("Fr3sh!Start99"))
		require.NoError(t, reopened.Close())

		again := openTestVault(t, dir, "alice", "Fr3sh!Start99", directory)
		require.NoError(t, again.Unlock())
		plaintext, err := again.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "remember me", plaintext.Body)
	})
}

func TestRecoverWithShares(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "quorum secret", EntryMetadata{})
	require.NoError(t, err)

	shares, err := v.GenerateRecoveryShares(5, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)
	require.NoError(t, v.Close())

	t.Run("ThresholdRestores", func(t *testing.T) {
		reopened := openTestVault(t, dir, "alice", "forgotten-passphrase-000", directory)
		require.NoError(t, reopened.RecoverWithShares(shares[:3]))
		assert.Equal(t, StateUnlocked, reopened.State())

		plaintext, err := reopened.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, "quorum secret", plaintext.Body)
		require.NoError(t, reopened.Close())
	})

	t.Run("BelowThresholdFails", func(t *testing.T) {
		reopened := openTestVault(t, dir, "alice", "forgotten-passphrase-000", directory)
		err := reopened.RecoverWithShares(shares[:2])
		assert.ErrorIs(t, err, ErrInvalidRecoveryMaterial)
	})

	t.Run("MalformedShareRejected", func(t *testing.T) {
		reopened := openTestVault(t, dir, "alice", "forgotten-passphrase-000", directory)
		err := reopened.RecoverWithShares([]string{"garbage", shares[0], shares[1]})
		assert.ErrorIs(t, err, ErrInvalidRecoveryMaterial)
	})
}

func TestRecoveryRegenerationInvalidatesOldMaterial(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)

	old, err := v.GenerateRecovery()
	require.NoError(t, err)
	_, err = v.GenerateRecovery()
	require.NoError(t, err)
	require.NoError(t, v.Close())

	reopened := openTestVault(t, dir, "alice", testPassphrase, directory)
	err = reopened.RecoverWithMnemonic(old)
	assert.ErrorIs(t, err, ErrInvalidRecoveryMaterial)
}

func TestRecoveryRequiresUnlocked(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	v.Lock()

	_, err := v.GenerateRecovery()
	assert.ErrorIs(t, err, ErrKeyManagerLocked)
}

func TestRecoveryWithoutMaterial(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	v.Lock()

	// Valid mnemonic for some entropy, but no recovery wrap was ever installed
	err := v.RecoverWithMnemonic("legal winner thank year wave sausage worth useful legal winner thank yellow")
	assert.ErrorIs(t, err, ErrInvalidRecoveryMaterial)
}
