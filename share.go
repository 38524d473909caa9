package entryvault

import (
	"context"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

// CreateShare grants a recipient principal access to one entry by wrapping
// the entry's content key under the recipient's published public key.
//
// The entry's ciphertext is untouched: sharing only adds a grant record
// carrying the recipient's wrapped copy of the content key, the permission
// set and an optional expiry. The grant is built completely before the
// single persisting write, so a recipient can never observe a grant whose
// wrapped key is missing.
//
// Creating a share for an (entry, recipient) pair that already has an
// active grant supersedes the existing grant in place rather than
// duplicating it.
//
// Permissions must be a subset of {read, reshare}; an empty set defaults to
// read-only. The analysis service principal cannot be a recipient here;
// use CreateAnalysisShare, which attaches the mandatory retention policy.
func (v *Vault) CreateShare(ctx context.Context, entryID, recipientID string, permissions []Permission, expiresAt *time.Time) (*ShareGrant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{"entry_id": entryID, "recipient_id": recipientID}

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	permissions, err := normalizePermissions(permissions)
	if err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}

	recipient, err := v.directory.Lookup(recipientID)
	if err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if recipient.Kind == PrincipalAnalysisService {
		err := fmt.Errorf("analysis service shares require a retention policy; use CreateAnalysisShare")
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}

	entry, err := v.loadEntryLocked(entryID)
	if err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}

	// Holding the entry's content key (by unwrapping our own copy) is the
	// proof of access that authorizes granting it onward
	contentKey, err := v.unwrapContentKey(entry.WrappedKey)
	if err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}
	defer memguard.WipeBytes(contentKey)

	wrappedForRecipient, err := v.wrapContentKeyFor(contentKey, recipient.PublicKey)
	if err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}

	grant := &ShareGrant{
		ID:            uuid.New().String(),
		EntryID:       entryID,
		GranterID:     v.userID,
		RecipientID:   recipientID,
		RecipientKind: recipient.Kind,
		WrappedKey:    wrappedForRecipient,
		Permissions:   permissions,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     expiresAt,
	}

	// Supersede: an active grant for the same pair keeps its ID so
	// recipients holding the grant reference see the updated key and
	// permissions instead of a duplicate
	if existing, findErr := v.findActiveGrantLocked(entryID, recipientID); findErr == nil && existing != nil {
		grant.ID = existing.ID
		grant.CreatedAt = existing.CreatedAt
	}

	if err := v.persistGrantLocked(grant); err != nil {
		v.logAudit(requestID, "GRANT_CREATE", err, meta)
		return nil, err
	}

	meta["grant_id"] = grant.ID
	meta["permissions"] = permissionStrings(permissions)
	if expiresAt != nil {
		meta["expires_at"] = expiresAt.UTC()
	}
	v.logAudit(requestID, "GRANT_CREATE", nil, meta)
	return grant, nil
}

// RevokeShare marks a grant revoked. Subsequent ResolveGrant calls fail with
// ErrGrantRevoked. Revoking an already revoked grant is a no-op.
//
// Revocation cannot reach plaintext the recipient already decrypted and
// cached on their own device; that copy is outside this system's control.
func (v *Vault) RevokeShare(ctx context.Context, grantID string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{"grant_id": grantID}

	if err := ctx.Err(); err != nil {
		return err
	}

	grant, err := v.loadGrantLocked(grantID)
	if err != nil {
		v.logAudit(requestID, "GRANT_REVOKE", err, meta)
		return err
	}

	if grant.Revoked {
		return nil
	}

	now := time.Now().UTC()
	grant.Revoked = true
	grant.RevokedAt = &now

	if err := v.persistGrantLocked(grant); err != nil {
		v.logAudit(requestID, "GRANT_REVOKE", err, meta)
		return err
	}

	meta["entry_id"] = grant.EntryID
	meta["recipient_id"] = grant.RecipientID
	v.logAudit(requestID, "GRANT_REVOKE", nil, meta)
	return nil
}

// ResolveGrant fetches a grant and enforces its validity: revoked grants
// fail with ErrGrantRevoked and grants past their expiry fail with
// ErrGrantExpired. Expiry is checked on every resolve, never only at
// creation.
func (v *Vault) ResolveGrant(grantID string) (*ShareGrant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	grant, err := v.loadGrantLocked(grantID)
	if err != nil {
		return nil, err
	}
	if err := v.checkGrantValidLocked(grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// DecryptGrantedEntry decrypts an entry that was shared with this vault's
// user. The caller supplies the encrypted entry and the grant as fetched
// from the granter's store or the sharing service; validity (revocation,
// expiry, recipient identity, read permission) is re-checked here before
// the recipient's wrapped key is unwrapped with the local private key.
func (v *Vault) DecryptGrantedEntry(ctx context.Context, entry *EncryptedEntry, grant *ShareGrant) (*Plaintext, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{"entry_id": entry.ID, "grant_id": grant.ID}

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", err, meta)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := v.checkGrantValidLocked(grant); err != nil {
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", err, meta)
		return nil, err
	}
	if grant.RecipientID != v.userID {
		err := fmt.Errorf("grant %s is not addressed to this user", grant.ID)
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", err, meta)
		return nil, err
	}
	if grant.EntryID != entry.ID {
		err := fmt.Errorf("grant %s does not cover entry %s", grant.ID, entry.ID)
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", err, meta)
		return nil, err
	}
	if !HasPermission(grant.Permissions, PermissionRead) {
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", ErrPrivilegeEscalationDenied, meta)
		return nil, ErrPrivilegeEscalationDenied
	}

	plaintext, err := v.decryptEntryLocked(entry, grant.WrappedKey)
	if err != nil {
		v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", err, meta)
		return nil, err
	}

	v.logAudit(requestID, "SHARED_ENTRY_DECRYPT", nil, meta)
	return plaintext, nil
}

// ReshareGrant creates a downstream grant for a third party from a grant
// this vault's user holds as recipient. The source grant must carry the
// reshare permission, and the downstream permission set must be a subset of
// the source grant's. A read-only recipient attempting to reshare fails
// with ErrPrivilegeEscalationDenied.
func (v *Vault) ReshareGrant(ctx context.Context, entry *EncryptedEntry, source *ShareGrant, thirdPartyID string, permissions []Permission, expiresAt *time.Time) (*ShareGrant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{
		"entry_id":     entry.ID,
		"grant_id":     source.ID,
		"recipient_id": thirdPartyID,
	}

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := v.checkGrantValidLocked(source); err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}
	if source.RecipientID != v.userID {
		err := fmt.Errorf("source grant %s is not held by this user", source.ID)
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}
	if !HasPermission(source.Permissions, PermissionReshare) {
		v.logAudit(requestID, "ESCALATION_DENIED", ErrPrivilegeEscalationDenied, meta)
		return nil, ErrPrivilegeEscalationDenied
	}

	permissions, err := normalizePermissions(permissions)
	if err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}
	for _, p := range permissions {
		if !HasPermission(source.Permissions, p) {
			v.logAudit(requestID, "ESCALATION_DENIED", ErrPrivilegeEscalationDenied, meta)
			return nil, ErrPrivilegeEscalationDenied
		}
	}

	recipient, err := v.directory.Lookup(thirdPartyID)
	if err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if recipient.Kind == PrincipalAnalysisService {
		err := fmt.Errorf("cannot reshare to the analysis service")
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}

	contentKey, err := v.unwrapContentKey(source.WrappedKey)
	if err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}
	defer memguard.WipeBytes(contentKey)

	wrappedForRecipient, err := v.wrapContentKeyFor(contentKey, recipient.PublicKey)
	if err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}

	grant := &ShareGrant{
		ID:            uuid.New().String(),
		EntryID:       entry.ID,
		GranterID:     v.userID,
		RecipientID:   thirdPartyID,
		RecipientKind: recipient.Kind,
		WrappedKey:    wrappedForRecipient,
		Permissions:   permissions,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     expiresAt,
	}

	if err := v.persistGrantLocked(grant); err != nil {
		v.logAudit(requestID, "GRANT_RESHARE", err, meta)
		return nil, err
	}

	meta["new_grant_id"] = grant.ID
	v.logAudit(requestID, "GRANT_RESHARE", nil, meta)
	return grant, nil
}

// GetGrant returns a grant record without validity checks; use ResolveGrant
// when access is being exercised.
func (v *Vault) GetGrant(grantID string) (*ShareGrant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadGrantLocked(grantID)
}

// ListGrants returns every grant this vault's user has created.
func (v *Vault) ListGrants() ([]*ShareGrant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.listGrantsLocked()
}

func (v *Vault) listGrantsLocked() ([]*ShareGrant, error) {
	ids, err := v.store.ListRecords(persist.RecordGrant)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	grants := make([]*ShareGrant, 0, len(ids))
	for _, id := range ids {
		grant, err := v.loadGrantLocked(id)
		if err != nil {
			continue
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

func (v *Vault) loadGrantLocked(grantID string) (*ShareGrant, error) {
	versioned, err := v.store.LoadRecord(persist.RecordGrant, grantID)
	if err != nil {
		if misc.IsNotFoundError(err) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to load grant %s: %w", grantID, err)
	}
	return decodeGrant(versioned.Data)
}

func (v *Vault) persistGrantLocked(grant *ShareGrant) error {
	data, err := encodeGrant(grant)
	if err != nil {
		return err
	}
	if err := v.saveRecordWithRetry(persist.RecordGrant, grant.ID, data); err != nil {
		return fmt.Errorf("failed to persist grant: %w", err)
	}
	return nil
}

// findActiveGrantLocked returns the live (not revoked, not expired) grant
// for an (entry, recipient) pair, or nil when none exists.
func (v *Vault) findActiveGrantLocked(entryID, recipientID string) (*ShareGrant, error) {
	grants, err := v.listGrantsLocked()
	if err != nil {
		return nil, err
	}
	for _, grant := range grants {
		if grant.EntryID != entryID || grant.RecipientID != recipientID {
			continue
		}
		if v.checkGrantValidLocked(grant) != nil {
			continue
		}
		return grant, nil
	}
	return nil, nil
}

// checkGrantValidLocked enforces the revoked flag and expiry. An expired
// grant behaves identically to a revoked one.
func (v *Vault) checkGrantValidLocked(grant *ShareGrant) error {
	if grant.Revoked {
		return ErrGrantRevoked
	}
	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(v.now()) {
		return ErrGrantExpired
	}
	return nil
}

func normalizePermissions(permissions []Permission) ([]Permission, error) {
	if len(permissions) == 0 {
		return []Permission{PermissionRead}, nil
	}
	seen := make(map[Permission]bool, len(permissions))
	out := make([]Permission, 0, len(permissions))
	for _, p := range permissions {
		if p != PermissionRead && p != PermissionReshare {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func permissionStrings(permissions []Permission) []string {
	out := make([]string, len(permissions))
	for i, p := range permissions {
		out[i] = string(p)
	}
	return out
}
