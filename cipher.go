package entryvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

// EncryptEntry encrypts a new entry body under a fresh per-entry content key
// and persists the resulting ciphertext together with the content key
// wrapped under the owner's public key.
//
// Every entry gets its own content key, so sharing one entry never exposes
// another, and revoking a share never requires re-encrypting anything else.
// The raw content key exists only for the duration of this call.
func (v *Vault) EncryptEntry(ctx context.Context, body string, metadata EntryMetadata) (*EncryptedEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plaintext := []byte(body)
	defer memguard.WipeBytes(plaintext)

	contentKey, err := crypto.NewContentKey()
	if err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, err
	}
	defer memguard.WipeBytes(contentKey)

	ciphertext, nonce, err := v.provider.Encrypt(plaintext, contentKey)
	if err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, fmt.Errorf("failed to encrypt entry: %w", err)
	}

	wrappedKey, err := v.wrapContentKeyFor(contentKey, v.publicKeyDER)
	if err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, err
	}

	metadata.Checksum = crypto.CalculateChecksum(plaintext)
	metadata.Size = len(plaintext)

	now := time.Now().UTC()
	entry := &EncryptedEntry{
		ID:         uuid.New().String(),
		OwnerID:    v.userID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		WrappedKey: wrappedKey,
		KeyID:      v.keyID,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}

	data, err := encodeEntry(entry)
	if err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, err
	}
	if err := v.saveRecordWithRetry(persist.RecordEntry, entry.ID, data); err != nil {
		v.logAudit(requestID, "ENTRY_ENCRYPT", err, nil)
		return nil, fmt.Errorf("failed to persist entry: %w", err)
	}

	v.logAudit(requestID, "ENTRY_ENCRYPT", nil, map[string]interface{}{
		"entry_id": entry.ID,
		"size":     metadata.Size,
	})
	return entry, nil
}

// DecryptEntry loads an entry and decrypts it with the owner's wrapped
// content key. Fails with ErrKeyManagerLocked when the vault is locked,
// ErrUnwrapFailure when the wrapped key cannot be recovered, and
// ErrTamperedCiphertext when AEAD authentication fails, never by returning
// garbage plaintext.
func (v *Vault) DecryptEntry(ctx context.Context, entryID string) (*Plaintext, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "ENTRY_DECRYPT", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := v.loadEntryLocked(entryID)
	if err != nil {
		v.logAudit(requestID, "ENTRY_DECRYPT", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}

	plaintext, err := v.decryptEntryLocked(entry, entry.WrappedKey)
	if err != nil {
		action := "ENTRY_DECRYPT"
		if errors.Is(err, ErrTamperedCiphertext) {
			action = "TAMPER_DETECTED"
		}
		v.logAudit(requestID, action, err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}

	v.logAudit(requestID, "ENTRY_DECRYPT", nil, map[string]interface{}{"entry_id": entryID})
	return plaintext, nil
}

// DecryptEntries decrypts a batch of entries, checking ctx between entries
// so bulk work can be cancelled at entry granularity. The first error stops
// the batch.
func (v *Vault) DecryptEntries(ctx context.Context, entryIDs []string) ([]*Plaintext, error) {
	results := make([]*Plaintext, 0, len(entryIDs))
	for _, id := range entryIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := v.DecryptEntry(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
		results = append(results, p)
	}
	return results, nil
}

// UpdateEntry re-encrypts an entry with a new body, reusing the entry's
// existing content key so every outstanding share grant for the entry stays
// valid without re-wrapping.
func (v *Vault) UpdateEntry(ctx context.Context, entryID, body string, metadata EntryMetadata) (*EncryptedEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := v.loadEntryLocked(entryID)
	if err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}

	contentKey, err := v.unwrapContentKey(entry.WrappedKey)
	if err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}
	defer memguard.WipeBytes(contentKey)

	plaintext := []byte(body)
	defer memguard.WipeBytes(plaintext)

	ciphertext, nonce, err := v.provider.Encrypt(plaintext, contentKey)
	if err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, fmt.Errorf("failed to encrypt entry: %w", err)
	}

	metadata.Checksum = crypto.CalculateChecksum(plaintext)
	metadata.Size = len(plaintext)

	entry.Ciphertext = ciphertext
	entry.Nonce = nonce
	entry.Metadata = metadata
	entry.UpdatedAt = time.Now().UTC()
	entry.Version++

	data, err := encodeEntry(entry)
	if err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, err
	}
	if err := v.saveRecordWithRetry(persist.RecordEntry, entry.ID, data); err != nil {
		v.logAudit(requestID, "ENTRY_UPDATE", err, map[string]interface{}{"entry_id": entryID})
		return nil, fmt.Errorf("failed to persist entry: %w", err)
	}

	v.logAudit(requestID, "ENTRY_UPDATE", nil, map[string]interface{}{
		"entry_id": entry.ID,
		"version":  entry.Version,
	})
	return entry, nil
}

// DeleteEntry removes an entry and every grant that references it.
func (v *Vault) DeleteEntry(ctx context.Context, entryID string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := v.store.DeleteRecord(persist.RecordEntry, entryID); err != nil {
		v.logAudit(requestID, "ENTRY_DELETE", err, map[string]interface{}{"entry_id": entryID})
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	// Grants for a deleted entry are dead weight; drop them too
	grants, err := v.listGrantsLocked()
	if err == nil {
		for _, grant := range grants {
			if grant.EntryID == entryID {
				_ = v.store.DeleteRecord(persist.RecordGrant, grant.ID)
			}
		}
	}

	v.logAudit(requestID, "ENTRY_DELETE", nil, map[string]interface{}{"entry_id": entryID})
	return nil
}

// GetEntry returns the stored encrypted record without decrypting it.
func (v *Vault) GetEntry(entryID string) (*EncryptedEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadEntryLocked(entryID)
}

// ListEntries returns every stored encrypted entry for this user.
func (v *Vault) ListEntries() ([]*EncryptedEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	records, err := v.store.ListRecords(persist.RecordEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]*EncryptedEntry, 0, len(records))
	for _, id := range records {
		entry, err := v.loadEntryLocked(id)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (v *Vault) loadEntryLocked(entryID string) (*EncryptedEntry, error) {
	versioned, err := v.store.LoadRecord(persist.RecordEntry, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	return decodeEntry(versioned.Data)
}

// decryptEntryLocked unwraps the given wrapped key and opens the entry's
// ciphertext. AEAD failure maps to ErrTamperedCiphertext. Caller must hold
// at least a read lock with the vault unlocked.
func (v *Vault) decryptEntryLocked(entry *EncryptedEntry, wrappedKey []byte) (*Plaintext, error) {
	contentKey, err := v.unwrapContentKey(wrappedKey)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(contentKey)

	body, err := v.provider.Decrypt(entry.Ciphertext, entry.Nonce, contentKey)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthentication) {
			return nil, ErrTamperedCiphertext
		}
		return nil, fmt.Errorf("failed to decrypt entry: %w", err)
	}

	return &Plaintext{
		EntryID:   entry.ID,
		Body:      string(body),
		Tags:      entry.Metadata.Tags,
		Mood:      entry.Metadata.Mood,
		UpdatedAt: entry.UpdatedAt,
	}, nil
}
