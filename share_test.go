package entryvault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareReadOnly(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "shared with bob", EntryMetadata{})
	require.NoError(t, err)

	grant, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.GranterID)
	assert.Equal(t, "bob", grant.RecipientID)
	assert.NotEqual(t, entry.WrappedKey, grant.WrappedKey)

	t.Run("RecipientDecryptsSamePlaintext", func(t *testing.T) {
		ownerView, err := owner.DecryptEntry(ctx, entry.ID)
		require.NoError(t, err)

		recipientView, err := recipient.DecryptGrantedEntry(ctx, entry, grant)
		require.NoError(t, err)
		assert.Equal(t, ownerView.Body, recipientView.Body)
	})

	t.Run("ThirdPartyCannotUseGrant", func(t *testing.T) {
		mallory := newTestVault(t, dir, "mallory", directory)
		_, err := mallory.DecryptGrantedEntry(ctx, entry, grant)
		assert.Error(t, err)
	})

	t.Run("UnknownRecipientRejected", func(t *testing.T) {
		_, err := owner.CreateShare(ctx, entry.ID, "nobody", nil, nil)
		assert.Error(t, err)
	})
}

func TestShareSupersede(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "once", EntryMetadata{})
	require.NoError(t, err)

	first, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead}, nil)
	require.NoError(t, err)
	second, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead, PermissionReshare}, nil)
	require.NoError(t, err)

	// Same pair supersedes in place: same grant ID, updated permissions
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, HasPermission(second.Permissions, PermissionReshare))

	grants, err := owner.ListGrants()
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestRevocation(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "revocable", EntryMetadata{})
	require.NoError(t, err)
	grant, err := owner.CreateShare(ctx, entry.ID, "bob", nil, nil)
	require.NoError(t, err)

	// Recipient decrypts before revocation; this plaintext stays theirs
	before, err := recipient.DecryptGrantedEntry(ctx, entry, grant)
	require.NoError(t, err)
	assert.Equal(t, "revocable", before.Body)

	require.NoError(t, owner.RevokeShare(ctx, grant.ID))

	t.Run("ResolveFails", func(t *testing.T) {
		_, err := owner.ResolveGrant(grant.ID)
		assert.ErrorIs(t, err, ErrGrantRevoked)
	})

	t.Run("RefetchedGrantFails", func(t *testing.T) {
		revoked, err := owner.GetGrant(grant.ID)
		require.NoError(t, err)
		_, err = recipient.DecryptGrantedEntry(ctx, entry, revoked)
		assert.ErrorIs(t, err, ErrGrantRevoked)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		assert.NoError(t, owner.RevokeShare(ctx, grant.ID))
	})

	t.Run("UnknownGrant", func(t *testing.T) {
		assert.ErrorIs(t, owner.RevokeShare(ctx, "no-such-grant"), ErrGrantNotFound)
	})
}

// Scenario: identity with passphrase "Sn0wfall!23", entry
// "gratitude: sunrise", shared read-only for one hour. The recipient
// decrypts while the grant is live; once the hour passes the same grant
// fails with ErrGrantExpired.
func TestShareExpiryScenario(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVaultWithPassphrase(t, dir, "alice", "Sn0wfall!23", directory)
	recipient := newTestVault(t, dir, "r", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "gratitude: sunrise", EntryMetadata{})
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).UTC()
	grant, err := owner.CreateShare(ctx, entry.ID, "r", []Permission{PermissionRead}, &expires)
	require.NoError(t, err)

	plaintext, err := recipient.DecryptGrantedEntry(ctx, entry, grant)
	require.NoError(t, err)
	assert.Equal(t, "gratitude: sunrise", plaintext.Body)

	// Advance both parties' clocks past the expiry
	future := time.Now().Add(time.Hour + time.Minute)
	owner.now = func() time.Time { return future }
	recipient.now = func() time.Time { return future }

	_, err = owner.ResolveGrant(grant.ID)
	assert.ErrorIs(t, err, ErrGrantExpired)

	_, err = recipient.DecryptGrantedEntry(ctx, entry, grant)
	assert.ErrorIs(t, err, ErrGrantExpired)
}

func TestNoPrivilegeEscalation(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	recipient := newTestVault(t, dir, "bob", directory)
	newTestVault(t, dir, "carol", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "need to know", EntryMetadata{})
	require.NoError(t, err)

	t.Run("ReadOnlyCannotReshare", func(t *testing.T) {
		grant, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead}, nil)
		require.NoError(t, err)

		_, err = recipient.ReshareGrant(ctx, entry, grant, "carol", []Permission{PermissionRead}, nil)
		assert.ErrorIs(t, err, ErrPrivilegeEscalationDenied)
	})

	t.Run("ReshareCannotGrantMoreThanHeld", func(t *testing.T) {
		grant, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead, PermissionReshare}, nil)
		require.NoError(t, err)

		// bob holds reshare but tries to invent a permission set beyond his own
		downstream, err := recipient.ReshareGrant(ctx, entry, grant, "carol", []Permission{PermissionRead}, nil)
		require.NoError(t, err)
		assert.Equal(t, "bob", downstream.GranterID)
		assert.Equal(t, "carol", downstream.RecipientID)
	})
}

func TestReshareChain(t *testing.T) {
	dir := t.TempDir()
	directory := NewInMemoryDirectory()
	owner := newTestVault(t, dir, "alice", directory)
	middle := newTestVault(t, dir, "bob", directory)
	final := newTestVault(t, dir, "carol", directory)
	ctx := context.Background()

	entry, err := owner.EncryptEntry(ctx, "chain of trust", EntryMetadata{})
	require.NoError(t, err)

	grant, err := owner.CreateShare(ctx, entry.ID, "bob", []Permission{PermissionRead, PermissionReshare}, nil)
	require.NoError(t, err)

	downstream, err := middle.ReshareGrant(ctx, entry, grant, "carol", []Permission{PermissionRead}, nil)
	require.NoError(t, err)

	plaintext, err := final.DecryptGrantedEntry(ctx, entry, downstream)
	require.NoError(t, err)
	assert.Equal(t, "chain of trust", plaintext.Body)
}
