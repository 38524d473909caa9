package persist

import (
	"errors"
	"fmt"
	"time"
)

// VersionedData represents data with its version information
type VersionedData struct {
	Data      []byte
	Version   string // ETag, version number, or hash
	Timestamp time.Time
}

// RecordKind selects a keyed collection within a user's store.
type RecordKind string

const (
	// RecordEntry holds encrypted journal entries (ciphertext plus the
	// owner's wrapped content key).
	RecordEntry RecordKind = "entries"

	// RecordGrant holds share grants (wrapped keys for other principals).
	RecordGrant RecordKind = "grants"

	// RecordAnalysisShare holds bounded grants to the analysis service.
	RecordAnalysisShare RecordKind = "analysis-shares"

	// RecordAnalysisResult holds derived analysis insight records.
	RecordAnalysisResult RecordKind = "analysis-results"
)

// recordKinds lists every keyed collection, in backup order.
var recordKinds = []RecordKind{RecordEntry, RecordGrant, RecordAnalysisShare, RecordAnalysisResult}

// Store defines the interface for persisting vault data.
//
// Everything that passes through this interface is opaque to the backend:
// entries are ciphertext with wrapped keys, the identity record carries the
// private key sealed under the master key, and the salt is public. A storage
// backend never sees plaintext content or usable key material, which is what
// lets remote backends hold the data without being trusted with it.
//
// Singleton documents (identity, salt) and the keyed collections all use
// optimistic concurrency: Save methods take the version the caller last
// observed and return the new version; a mismatch yields ConcurrencyError.
// An empty expectedVersion skips the check.
type Store interface {

	// Users

	// ListUsers retrieves the user IDs that have vault data in this store.
	ListUsers() ([]string, error)

	// DeleteUser removes all data for the given user. It refuses to delete
	// the user this store instance is bound to.
	DeleteUser(userID string) error

	// Identity operations

	SaveIdentity(identityData []byte, expectedVersion string) (newVersion string, err error)

	// LoadIdentity retrieves the persisted identity record.
	LoadIdentity() (*VersionedData, error)

	// IdentityExists checks whether an identity record is present.
	IdentityExists() (bool, error)

	// DeleteIdentity removes the identity record. Used by vault reset only.
	DeleteIdentity() error

	// Salt operations

	SaveSalt(saltData []byte, expectedVersion string) (newVersion string, err error)

	// LoadSalt retrieves the key derivation salt.
	LoadSalt() (*VersionedData, error)

	// SaltExists checks whether a derivation salt is present.
	SaltExists() (bool, error)

	// Keyed collections (entries, grants, analysis shares, analysis results)

	SaveRecord(kind RecordKind, id string, data []byte, expectedVersion string) (newVersion string, err error)

	// LoadRecord retrieves a single record by kind and ID.
	LoadRecord(kind RecordKind, id string) (*VersionedData, error)

	// ListRecords retrieves the IDs present in a collection, sorted.
	ListRecords(kind RecordKind) ([]string, error)

	// DeleteRecord removes a single record. Deleting a missing record is an error.
	DeleteRecord(kind RecordKind, id string) error

	// Backup operations

	// SaveBackup stores a backup container at the given path or key.
	SaveBackup(backupPath string, container *BackupContainer) error

	// RestoreBackup loads and checksum-validates a backup container.
	RestoreBackup(backupPath string) (*BackupContainer, error)

	// ListBackups retrieves metadata for all stored backups.
	ListBackups() ([]BackupInfo, error)

	// DeleteBackup removes the backup with the given ID.
	DeleteBackup(backupID string) error

	// Health and utilities

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType retrieves the type of store being used (e.g. "filesystem", "s3").
	GetType() string
}

// BackupContainer represents the outer backup format with metadata.
// EncryptedData is the passphrase-encrypted, base64-encoded BackupData;
// the checksum covers the raw encrypted bytes so integrity can be verified
// without decrypting.
type BackupContainer struct {
	BackupID         string    `json:"backup_id"`
	BackupTimestamp  time.Time `json:"backup_timestamp"`
	VaultVersion     string    `json:"vault_version"`
	BackupVersion    string    `json:"backup_version"`
	Checksum         string    `json:"checksum"` // SHA-256 of the encrypted payload
	EncryptionMethod string    `json:"encryption_method"`
	EncryptedData    string    `json:"encrypted_data"` // base64
	UserID           string    `json:"user_id"`
}

// BackupData is the inner payload of a backup: everything needed to restore
// a vault onto a fresh store. It is only ever serialized inside the
// passphrase-encrypted container.
type BackupData struct {
	Salt            []byte            `json:"salt,omitempty"`
	Identity        []byte            `json:"identity,omitempty"`
	Entries         map[string][]byte `json:"entries,omitempty"`
	Grants          map[string][]byte `json:"grants,omitempty"`
	AnalysisShares  map[string][]byte `json:"analysis_shares,omitempty"`
	AnalysisResults map[string][]byte `json:"analysis_results,omitempty"`
}

// BackupInfo holds metadata about a backup that is readable without
// decryption: identity, timestamps, size and checksum validation status.
type BackupInfo struct {
	BackupID         string    `json:"backup_id"`
	BackupTimestamp  time.Time `json:"backup_timestamp"`
	VaultVersion     string    `json:"vault_version"`
	BackupVersion    string    `json:"backup_version"`
	EncryptionMethod string    `json:"encryption_method"`
	FileSize         int64     `json:"file_size"`
	IsValid          bool      `json:"is_valid"` // checksum validation result
	UserID           string    `json:"user_id"`
	Checksum         string    `json:"checksum"`
	StorePath        string    `json:"store_path"` // Store-agnostic path/identifier
}

// DetailedBackupInfo extends BackupInfo with counts that require decrypting
// the payload.
type DetailedBackupInfo struct {
	BackupInfo

	EntryCount  int  `json:"entry_count"`
	GrantCount  int  `json:"grant_count"`
	ShareCount  int  `json:"share_count"`
	ResultCount int  `json:"result_count"`
	HasSalt     bool `json:"has_salt"`
	HasIdentity bool `json:"has_identity"`
}

// StoreConfig provides configuration for different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/data/storage"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type" yaml:"type"`

	// Config contains backend-specific settings. For StoreTypeS3 this
	// includes keys like "Bucket" and "Endpoint"; for StoreTypeFileSystem
	// it is "base_path".
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem uses the local file system for storage.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 uses an S3-compatible object store as the backend.
	StoreTypeS3 StoreType = "s3"
)

// ConcurrencyError represents version conflict errors
type ConcurrencyError struct {
	ExpectedVersion string
	ActualVersion   string
	Operation       string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict in %s: expected version %s, but found %s",
		e.Operation, e.ExpectedVersion, e.ActualVersion)
}

func (e ConcurrencyError) IsConcurrencyError() bool {
	return true
}

// IsConcurrencyError reports whether err is (or wraps) a version conflict.
func IsConcurrencyError(err error) bool {
	var ce ConcurrencyError
	if errors.As(err, &ce) {
		return true
	}
	var pce *ConcurrencyError
	return errors.As(err, &pce)
}
