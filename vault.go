// Package entryvault implements client-side zero-knowledge encryption and
// selective sharing for personal journal entries.
//
// Every entry is encrypted on the client under its own content key; content
// keys are wrapped under RSA public keys, one wrapped copy per principal
// allowed to read. Servers and storage backends only ever hold ciphertext,
// wrapped keys and public material. Sharing, whether with another user or
// with the constrained analysis service, is the act of wrapping a content
// key for a recipient, never of transmitting plaintext or master secrets.
package entryvault

import (
	"fmt"
	"log"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/audit"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/mem"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

// Initialize memguard in init function to ensure it's set up before any vault operation
func init() {
	memguard.CatchInterrupt()
}

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
	maxDelay   = 2 * time.Second
)

// VaultState is the key manager lifecycle state.
type VaultState string

const (
	// StateUninitialized means no identity exists yet; only Initialize is valid.
	StateUninitialized VaultState = "uninitialized"

	// StateLocked means an identity exists but the private key is not in
	// memory; decrypt and share operations fail with ErrKeyManagerLocked.
	StateLocked VaultState = "locked"

	// StateUnlocked means the private key is held in a memory enclave and
	// all operations are available.
	StateUnlocked VaultState = "unlocked"
)

// Vault holds a single user's encryption state: the derivation salt and the
// unlocked private key inside memguard enclaves, plus the storage, audit and
// principal-directory dependencies every operation needs. The passphrase-
// derived master key never persists between operations: it is re-derived
// when needed and destroyed before the call returns.
//
// A Vault moves through three states. Before an identity exists it is
// uninitialized. After Initialize (or between Unlock calls) it is locked:
// the identity record is on disk but no usable key material is in memory.
// Unlock re-derives the master key from the passphrase and opens the wrapped
// private key into an enclave; Lock wipes it again. Every decrypt, share and
// analysis operation requires the unlocked state.
type Vault struct {
	store     persist.Store
	provider  crypto.Provider
	directory PrincipalDirectory
	audit     audit.Logger
	options   Options

	mu    sync.RWMutex
	state VaultState

	// Memory protection
	memoryProtectionLevel mem.ProtectionLevel

	// Derivation material. The master key itself is re-derived from the
	// passphrase on demand and stays call scoped; only the salt is held.
	derivationSaltEnclave *memguard.Enclave

	// Identity material (unlocked state only for the private half)
	privateKeyEnclave *memguard.Enclave
	publicKeyDER      []byte
	keyID             string

	// Persisted identity metadata and its storage version
	identity        Identity
	identityVersion string

	// the owner of the vault
	userID string

	// clock, swappable in tests for expiry checks
	now func() time.Time

	closed bool
}

// RetryConfig configures retry behavior for concurrent operations
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
	}
}

// NewWithStore creates a new Vault bound to the specified storage backend,
// audit logger and principal directory.
//
// The constructor performs several initialization steps:
//  1. Validates configuration options
//  2. Tests storage backend connectivity
//  3. Sets up memory protection (best-effort)
//  4. Loads or creates the key derivation salt
//  5. Determines the starting state from the presence of an identity record
//
// It never derives keys or touches the passphrase: that happens in
// Initialize (first-time setup) or Unlock (every later session), so
// constructing a Vault is cheap and cannot leak key material.
//
// A nil auditLogger is replaced with a no-op logger; a nil directory is
// replaced with an empty in-memory directory.
//
// Example:
//
//	options := entryvault.Options{
//	    DerivationPassphrase: "winter-sunrise-gratitude-10",
//	    UserID:               "user-1",
//	    EnableMemoryLock:     true,
//	}
//	store, _ := persist.NewFileSystemStore("/path/to/vault", options.UserID)
//	vault, err := entryvault.NewWithStore(options, store, nil, nil)
//	if err != nil {
//	    return fmt.Errorf("failed to create vault: %w", err)
//	}
//	defer vault.Close()
func NewWithStore(options Options, store persist.Store, auditLogger audit.Logger, directory PrincipalDirectory) (*Vault, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if auditLogger == nil {
		auditLogger = &audit.NoOpLogger{}
	}

	if directory == nil {
		directory = NewInMemoryDirectory()
	}

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	// Test storage connectivity before proceeding
	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	v := &Vault{
		store:                 store,
		provider:              crypto.NewProvider(),
		directory:             directory,
		audit:                 auditLogger,
		options:               options,
		state:                 StateUninitialized,
		memoryProtectionLevel: mem.ProtectionNone,
		userID:                options.UserID,
		now:                   time.Now,
	}

	// Best-effort memory protection; memguard still protects enclaves when
	// page locking is unavailable
	if options.EnableMemoryLock {
		protectionLevel, err := mem.Lock()
		if err != nil {
			fmt.Printf("WARNING: Cannot fully protect memory: %v\n", err)
			fmt.Println("However, MemGuard will still provide protection for encryption keys")
		}
		v.memoryProtectionLevel = protectionLevel
	}

	if err := v.loadOrCreateSalt(); err != nil {
		return nil, fmt.Errorf("failed to setup derivation salt: %w", err)
	}

	// An existing identity record means this vault was initialized before;
	// it starts locked until Unlock re-derives the master key
	exists, err := store.IdentityExists()
	if err != nil {
		return nil, fmt.Errorf("failed to check identity: %w", err)
	}
	if exists {
		if err := v.loadIdentityRecord(); err != nil {
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}
		v.state = StateLocked
	}

	requestID := v.newRequestID()
	v.logAudit(requestID, "VAULT_OPENED", nil, map[string]interface{}{
		"store_type":        store.GetType(),
		"memory_protection": v.memoryProtectionLevel.String(),
		"state":             string(v.state),
		"key_id":            v.keyID,
	})

	return v, nil
}

// loadOrCreateSalt loads the persisted derivation salt or generates and
// persists a fresh one for a brand-new vault.
func (v *Vault) loadOrCreateSalt() error {
	exists, err := v.store.SaltExists()
	if err != nil {
		return fmt.Errorf("failed to check salt: %w", err)
	}

	if exists {
		versioned, err := v.store.LoadSalt()
		if err != nil {
			return fmt.Errorf("failed to load salt: %w", err)
		}
		if len(versioned.Data) != misc.SaltSize {
			return fmt.Errorf("stored salt has unexpected length %d", len(versioned.Data))
		}
		v.derivationSaltEnclave = memguard.NewEnclave(versioned.Data)
		return nil
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	if err := v.saveSaltWithRetry(salt); err != nil {
		return fmt.Errorf("failed to persist salt: %w", err)
	}

	v.derivationSaltEnclave = memguard.NewEnclave(salt)
	return nil
}

// loadIdentityRecord reads the persisted identity and caches its public
// metadata. The wrapped private key stays sealed until Unlock.
func (v *Vault) loadIdentityRecord() error {
	versioned, err := v.store.LoadIdentity()
	if err != nil {
		return err
	}

	identity, err := decodeIdentity(versioned.Data)
	if err != nil {
		return err
	}

	v.identity = *identity
	v.identityVersion = versioned.Version
	v.keyID = identity.KeyID
	v.publicKeyDER = publicKeyDERFromPEM(identity.PublicKeyPEM)
	return nil
}

// State returns the current lifecycle state.
func (v *Vault) State() VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// IsUnlocked reports whether the private key is currently held in memory.
func (v *Vault) IsUnlocked() bool {
	return v.State() == StateUnlocked
}

// KeyID returns the fingerprint of the current public key, or "" before
// initialization.
func (v *Vault) KeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keyID
}

// PublicKeyPEM returns the PEM-encoded public key, or nil before
// initialization. Safe to publish; recipients use it to wrap keys for us.
func (v *Vault) PublicKeyPEM() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.identity.PublicKeyPEM) == 0 {
		return nil
	}
	out := make([]byte, len(v.identity.PublicKeyPEM))
	copy(out, v.identity.PublicKeyPEM)
	return out
}

// SecureMemoryProtection returns a human-readable description of the level
// of memory protection achieved on this platform.
func (v *Vault) SecureMemoryProtection() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.memoryProtectionLevel.String()
}

// GetAudit exposes the audit logger for querying.
func (v *Vault) GetAudit() audit.Logger {
	return v.audit
}

// Close locks the vault, wipes all key material from memory and releases the
// storage backend. The vault is unusable afterwards.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}

	requestID := v.newRequestID()

	v.wipeKeyMaterialLocked()
	v.derivationSaltEnclave = nil
	v.state = StateLocked
	v.closed = true

	var errs []error
	if err := v.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	v.logAudit(requestID, "VAULT_CLOSED", combinerErr(errs), nil)

	if err := v.audit.Close(); err != nil {
		log.Printf("WARNING: audit logger close failed: %v\n", err)
	}

	if v.options.EnableMemoryLock {
		_ = mem.Unlock()
	}

	return combinerErr(errs)
}

// wipeKeyMaterialLocked drops the private key enclave. Caller must hold the
// write lock.
func (v *Vault) wipeKeyMaterialLocked() {
	v.privateKeyEnclave = nil
}

func combinerErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return fmt.Errorf("%s", msg)
}

func (v *Vault) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if v.audit == nil {
		log.Printf("WARNING: skipping audit logging, logger not initialized\n")
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	// Add standard fields
	metadata["user_id"] = v.userID
	metadata["request_id"] = requestID
	metadata["timestamp"] = time.Now().UTC()

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := v.audit.Log(action, success, metadata); auditErr != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v\n", action, auditErr)
	}
}

func (v *Vault) newRequestID() string {
	return fmt.Sprintf("ev_%d", time.Now().UnixNano())
}

// withRetry executes an operation with exponential backoff retry on concurrency conflicts
func (v *Vault) withRetry(operation string, fn func() error) error {
	config := DefaultRetryConfig()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		// Check if it's a concurrency error
		if concErr, ok := err.(interface{ IsConcurrencyError() bool }); ok && concErr.IsConcurrencyError() {
			if attempt == config.MaxRetries {
				return fmt.Errorf("operation %s failed after %d attempts due to concurrent modifications: %w",
					operation, config.MaxRetries+1, err)
			}

			// Exponential backoff with 25% jitter
			delay := config.BaseDelay * (1 << attempt)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			jitter := time.Duration(float64(delay) * 0.25 * (2*mrand.Float64() - 1))
			delay += jitter

			time.Sleep(delay)
			continue
		}

		// Not a concurrency error, return immediately
		return err
	}

	return fmt.Errorf("operation %s exhausted all retry attempts", operation)
}

// saveIdentityWithRetry saves the identity record with optimistic concurrency control
func (v *Vault) saveIdentityWithRetry(data []byte) (string, error) {
	var newVersion string
	err := v.withRetry("saveIdentity", func() error {
		currentData, err := v.store.LoadIdentity()
		var currentVersion string
		if err == nil {
			currentVersion = currentData.Version
		}

		newVersion, err = v.store.SaveIdentity(data, currentVersion)
		return err
	})
	return newVersion, err
}

// saveRecordWithRetry saves a collection record with optimistic concurrency control
func (v *Vault) saveRecordWithRetry(kind persist.RecordKind, id string, data []byte) error {
	return v.withRetry(fmt.Sprintf("saveRecord(%s)", kind), func() error {
		currentData, err := v.store.LoadRecord(kind, id)
		var currentVersion string
		if err == nil {
			currentVersion = currentData.Version
		}

		_, err = v.store.SaveRecord(kind, id, data, currentVersion)
		return err
	})
}

// saveSaltWithRetry saves salt data with optimistic concurrency control
func (v *Vault) saveSaltWithRetry(data []byte) error {
	return v.withRetry("saveSalt", func() error {
		currentData, err := v.store.LoadSalt()
		var currentVersion string
		if err == nil {
			currentVersion = currentData.Version
		}

		_, err = v.store.SaveSalt(data, currentVersion)
		return err
	})
}
