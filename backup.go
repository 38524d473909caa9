package entryvault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

const backupFormatVersion = "1.0"

// CreateBackup exports the entire vault (salt, identity, encrypted
// entries, grants and analysis records) as a single container encrypted
// under the given export passphrase.
//
// The backup only ever contains ciphertext and wrapped keys; the export
// passphrase protects the container itself, so a backup file leaks nothing
// even before considering the inner encryption. The vault does not need to
// be unlocked.
func (v *Vault) CreateBackup(ctx context.Context, backupPassphrase string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()

	if v.state == StateUninitialized {
		v.logAudit(requestID, "BACKUP_CREATE", ErrNotInitialized, nil)
		return "", ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(backupPassphrase) < misc.MinPassphraseLength {
		v.logAudit(requestID, "BACKUP_CREATE", ErrWeakPassphrase, nil)
		return "", ErrWeakPassphrase
	}

	data := persist.BackupData{
		Entries:         make(map[string][]byte),
		Grants:          make(map[string][]byte),
		AnalysisShares:  make(map[string][]byte),
		AnalysisResults: make(map[string][]byte),
	}

	if salt, err := v.store.LoadSalt(); err == nil {
		data.Salt = salt.Data
	}
	if identity, err := v.store.LoadIdentity(); err == nil {
		data.Identity = identity.Data
	}

	collections := []struct {
		kind persist.RecordKind
		dest map[string][]byte
	}{
		{persist.RecordEntry, data.Entries},
		{persist.RecordGrant, data.Grants},
		{persist.RecordAnalysisShare, data.AnalysisShares},
		{persist.RecordAnalysisResult, data.AnalysisResults},
	}
	for _, c := range collections {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ids, err := v.store.ListRecords(c.kind)
		if err != nil {
			v.logAudit(requestID, "BACKUP_CREATE", err, nil)
			return "", fmt.Errorf("failed to list %s: %w", c.kind, err)
		}
		for _, id := range ids {
			record, err := v.store.LoadRecord(c.kind, id)
			if err != nil {
				continue
			}
			c.dest[id] = record.Data
		}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		v.logAudit(requestID, "BACKUP_CREATE", err, nil)
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	encrypted, err := crypto.EncryptWithPassphrase(payload, backupPassphrase)
	if err != nil {
		v.logAudit(requestID, "BACKUP_CREATE", err, nil)
		return "", fmt.Errorf("failed to encrypt backup: %w", err)
	}

	backupID := fmt.Sprintf("backup-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8])
	container := &persist.BackupContainer{
		BackupID:         backupID,
		BackupTimestamp:  time.Now().UTC(),
		VaultVersion:     fmt.Sprintf("%d", misc.FormatVersion),
		BackupVersion:    backupFormatVersion,
		Checksum:         crypto.CalculateChecksum(encrypted),
		EncryptionMethod: "pbkdf2-chacha20poly1305",
		EncryptedData:    base64.StdEncoding.EncodeToString(encrypted),
		UserID:           v.userID,
	}

	if err := v.store.SaveBackup(backupID, container); err != nil {
		v.logAudit(requestID, "BACKUP_CREATE", err, nil)
		return "", fmt.Errorf("failed to store backup: %w", err)
	}

	v.logAudit(requestID, "BACKUP_CREATE", nil, map[string]interface{}{
		"backup_id":   backupID,
		"entry_count": len(data.Entries),
		"grant_count": len(data.Grants),
	})
	return backupID, nil
}

// RestoreBackup imports a backup container, replacing the vault's salt,
// identity and records with the container's contents. The vault locks
// afterwards; Unlock with the passphrase that was active when the backup
// was taken (or recover) to regain access.
func (v *Vault) RestoreBackup(ctx context.Context, backupID, backupPassphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()
	meta := map[string]interface{}{"backup_id": backupID}

	if err := ctx.Err(); err != nil {
		return err
	}

	container, err := v.store.RestoreBackup(backupID)
	if err != nil {
		v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
		return fmt.Errorf("failed to load backup: %w", err)
	}

	encrypted, err := base64.StdEncoding.DecodeString(container.EncryptedData)
	if err != nil {
		v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
		return fmt.Errorf("corrupted backup payload: %w", err)
	}
	if crypto.CalculateChecksum(encrypted) != container.Checksum {
		err := fmt.Errorf("backup checksum mismatch")
		v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
		return err
	}

	payload, err := crypto.DecryptWithPassphrase(encrypted, backupPassphrase)
	if err != nil {
		v.logAudit(requestID, "BACKUP_RESTORE", ErrInvalidPassphrase, meta)
		return ErrInvalidPassphrase
	}

	var data persist.BackupData
	if err := json.Unmarshal(payload, &data); err != nil {
		v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
		return fmt.Errorf("failed to decode backup: %w", err)
	}

	if len(data.Salt) > 0 {
		if err := v.saveSaltWithRetry(data.Salt); err != nil {
			v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
			return fmt.Errorf("failed to restore salt: %w", err)
		}
	}
	if len(data.Identity) > 0 {
		if _, err := v.saveIdentityWithRetry(data.Identity); err != nil {
			v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
			return fmt.Errorf("failed to restore identity: %w", err)
		}
	}

	collections := []struct {
		kind persist.RecordKind
		src  map[string][]byte
	}{
		{persist.RecordEntry, data.Entries},
		{persist.RecordGrant, data.Grants},
		{persist.RecordAnalysisShare, data.AnalysisShares},
		{persist.RecordAnalysisResult, data.AnalysisResults},
	}
	for _, c := range collections {
		for id, record := range c.src {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := v.saveRecordWithRetry(c.kind, id, record); err != nil {
				v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
				return fmt.Errorf("failed to restore %s/%s: %w", c.kind, id, err)
			}
		}
	}

	// Restored key material may not match what is in memory; force a
	// fresh unlock against the restored identity
	v.wipeKeyMaterialLocked()
	if len(data.Salt) > 0 || len(data.Identity) > 0 {
		if err := v.loadOrCreateSalt(); err != nil {
			v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
			return err
		}
		if err := v.loadIdentityRecord(); err != nil {
			v.logAudit(requestID, "BACKUP_RESTORE", err, meta)
			return err
		}
	}
	v.state = StateLocked

	v.logAudit(requestID, "BACKUP_RESTORE", nil, meta)
	return nil
}

// ListBackups returns metadata for every stored backup.
func (v *Vault) ListBackups() ([]persist.BackupInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.store.ListBackups()
}

// DeleteBackup removes a stored backup.
func (v *Vault) DeleteBackup(backupID string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := v.newRequestID()
	if err := v.store.DeleteBackup(backupID); err != nil {
		v.logAudit(requestID, "BACKUP_DELETE", err, map[string]interface{}{"backup_id": backupID})
		return err
	}
	v.logAudit(requestID, "BACKUP_DELETE", nil, map[string]interface{}{"backup_id": backupID})
	return nil
}
