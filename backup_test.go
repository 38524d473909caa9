package entryvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBackupPassphrase = "backup-only-Phrase7"

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "worth keeping", EntryMetadata{Tags: []string{"keep"}})
	require.NoError(t, err)

	backupID, err := v.CreateBackup(ctx, testBackupPassphrase)
	require.NoError(t, err)
	require.NotEmpty(t, backupID)

	t.Run("Listed", func(t *testing.T) {
		backups, err := v.ListBackups()
		require.NoError(t, err)
		require.NotEmpty(t, backups)
		found := false
		for _, b := range backups {
			if b.BackupID == backupID {
				found = true
				assert.True(t, b.IsValid)
			}
		}
		assert.True(t, found)
	})

	// Lose the entry, then restore it from the backup
	require.NoError(t, v.DeleteEntry(ctx, entry.ID))
	_, err = v.GetEntry(entry.ID)
	require.Error(t, err)

	t.Run("WrongPassphraseRejected", func(t *testing.T) {
		err := v.RestoreBackup(ctx, backupID, "not-the-backup-phrase")
		assert.ErrorIs(t, err, ErrInvalidPassphrase)
	})

	require.NoError(t, v.RestoreBackup(ctx, backupID, testBackupPassphrase))
	assert.Equal(t, StateLocked, v.State())

	require.NoError(t, v.Unlock())
	plaintext, err := v.DecryptEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "worth keeping", plaintext.Body)
	assert.Equal(t, []string{"keep"}, plaintext.Tags)
}

func TestBackupIncludesGrants(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := v.EncryptEntry(ctx, "shared and backed up", EntryMetadata{})
	require.NoError(t, err)
	grant, err := v.CreateShare(ctx, entry.ID, "bob", nil, nil)
	require.NoError(t, err)

	backupID, err := v.CreateBackup(ctx, testBackupPassphrase)
	require.NoError(t, err)

	require.NoError(t, v.RevokeShare(ctx, grant.ID))
	require.NoError(t, v.RestoreBackup(ctx, backupID, testBackupPassphrase))
	require.NoError(t, v.Unlock())

	// The pre-revocation grant is back and usable
	restored, err := v.ResolveGrant(grant.ID)
	require.NoError(t, err)
	plaintext, err := recipient.DecryptGrantedEntry(ctx, entry, restored)
	require.NoError(t, err)
	assert.Equal(t, "shared and backed up", plaintext.Body)
}

func TestBackupValidation(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	ctx := context.Background()

	t.Run("WeakBackupPassphrase", func(t *testing.T) {
		_, err := v.CreateBackup(ctx, "short")
		assert.Error(t, err)
	})

	t.Run("UnknownBackupID", func(t *testing.T) {
		err := v.RestoreBackup(ctx, "backup-does-not-exist", testBackupPassphrase)
		assert.Error(t, err)
	})
}

func TestDeleteBackup(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	v := newTestVault(t, dir, "alice", directory)
	ctx := context.Background()

	backupID, err := v.CreateBackup(ctx, testBackupPassphrase)
	require.NoError(t, err)
	require.NoError(t, v.DeleteBackup(backupID))

	err = v.RestoreBackup(ctx, backupID, testBackupPassphrase)
	assert.Error(t, err)
}
