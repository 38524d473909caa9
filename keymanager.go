package entryvault

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
)

// Initialize performs first-time identity setup. It derives the master key
// from the configured passphrase, generates the personal RSA keypair, wraps
// the private half under the master key and persists only the wrapped form
// together with the public key. The vault ends up unlocked.
//
// The raw private key and master key exist only inside memguard enclaves.
// Calling Initialize on a vault that already holds an identity fails with
// ErrAlreadyInitialized; use Reset first if you really want to discard the
// existing keypair (and with it every entry wrapped solely under it).
func (v *Vault) Initialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if v.state != StateUninitialized {
		v.logAudit(requestID, "IDENTITY_CREATE", ErrAlreadyInitialized, nil)
		return ErrAlreadyInitialized
	}

	masterKey, err := v.deriveMasterKey()
	if err != nil {
		v.logAudit(requestID, "IDENTITY_CREATE", err, nil)
		return err
	}
	defer masterKey.Destroy()

	privateDER, publicDER, err := v.provider.GenerateKeyPair()
	if err != nil {
		err = fmt.Errorf("failed to generate keypair: %w", err)
		v.logAudit(requestID, "IDENTITY_CREATE", err, nil)
		return err
	}
	defer memguard.WipeBytes(privateDER)

	wrappedPrivate, err := crypto.SealValue(privateDER, masterKey.Bytes())
	if err != nil {
		err = fmt.Errorf("failed to wrap private key: %w", err)
		v.logAudit(requestID, "IDENTITY_CREATE", err, nil)
		return err
	}

	keyID := crypto.CalculateChecksum(publicDER)
	identity := Identity{
		UserID:            v.userID,
		PublicKeyPEM:      crypto.EncodePublicKeyPEM(publicDER),
		KeyID:             keyID,
		WrappedPrivateKey: wrappedPrivate,
		CreatedAt:         time.Now().UTC(),
	}

	data, err := encodeIdentity(&identity)
	if err != nil {
		v.logAudit(requestID, "IDENTITY_CREATE", err, nil)
		return err
	}

	version, err := v.saveIdentityWithRetry(data)
	if err != nil {
		err = fmt.Errorf("failed to persist identity: %w", err)
		v.logAudit(requestID, "IDENTITY_CREATE", err, nil)
		return err
	}

	v.identity = identity
	v.identityVersion = version
	v.keyID = keyID
	v.publicKeyDER = publicDER
	v.privateKeyEnclave = memguard.NewEnclave(privateDER)
	v.state = StateUnlocked

	// Publish our own principal so self-lookup works like any other recipient
	_ = v.directory.Register(Principal{
		ID:        v.userID,
		Kind:      PrincipalUser,
		PublicKey: identity.PublicKeyPEM,
	})

	v.logAudit(requestID, "IDENTITY_CREATE", nil, map[string]interface{}{
		"key_id": keyID,
	})
	return nil
}

// Unlock re-derives the master key from the configured passphrase and opens
// the stored wrapped private key into memory. A wrong passphrase fails with
// ErrInvalidPassphrase and leaves the state unchanged. Unlocking an already
// unlocked vault is a no-op.
func (v *Vault) Unlock() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	switch v.state {
	case StateUninitialized:
		v.logAudit(requestID, "VAULT_UNLOCK", ErrNotInitialized, nil)
		return ErrNotInitialized
	case StateUnlocked:
		return nil
	}

	masterKey, err := v.deriveMasterKey()
	if err != nil {
		v.logAudit(requestID, "VAULT_UNLOCK", err, nil)
		return err
	}
	defer masterKey.Destroy()

	privateDER, err := crypto.OpenValue(v.identity.WrappedPrivateKey, masterKey.Bytes())
	if err != nil {
		// The wrapped private key only fails to open when the derived key is
		// wrong; report it as a bad passphrase, not corruption
		if errors.Is(err, crypto.ErrAuthentication) {
			v.logAudit(requestID, "AUTH_FAILURE", ErrInvalidPassphrase, nil)
			return ErrInvalidPassphrase
		}
		v.logAudit(requestID, "VAULT_UNLOCK", err, nil)
		return fmt.Errorf("failed to open private key: %w", err)
	}

	v.privateKeyEnclave = memguard.NewEnclave(privateDER)
	v.state = StateUnlocked

	v.logAudit(requestID, "VAULT_UNLOCK", nil, map[string]interface{}{
		"key_id": v.keyID,
	})
	return nil
}

// Lock wipes the in-memory private key. Idempotent; safe to call in any
// state. Decrypt and share operations fail with ErrKeyManagerLocked until
// the next successful Unlock.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateUnlocked {
		return
	}

	requestID := v.newRequestID()
	v.wipeKeyMaterialLocked()
	v.state = StateLocked
	v.logAudit(requestID, "VAULT_LOCK", nil, nil)
}

// RotatePassphrase re-wraps the existing private key under a master key
// derived from newPassphrase and a fresh salt. The keypair itself does not
// change, so every existing entry and share grant stays valid.
//
// Requires the unlocked state (the old passphrase must have been proven).
func (v *Vault) RotatePassphrase(newPassphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if v.state != StateUnlocked {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", ErrKeyManagerLocked, nil)
		return ErrKeyManagerLocked
	}

	if err := checkPassphraseStrength(newPassphrase); err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return err
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return err
	}

	// NewEnclave wipes its source; keep the original salt for persistence
	saltCopy := append([]byte(nil), salt...)
	newSaltEnclave := memguard.NewEnclave(saltCopy)

	passBytes := []byte(newPassphrase)
	defer memguard.WipeBytes(passBytes)
	newMaster, err := v.provider.DeriveKey(passBytes, newSaltEnclave)
	if err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return fmt.Errorf("failed to derive new master key: %w", err)
	}
	defer newMaster.Destroy()

	var wrappedPrivate []byte
	err = v.withPrivateKeyLocked(func(privateDER []byte) error {
		var sealErr error
		wrappedPrivate, sealErr = crypto.SealValue(privateDER, newMaster.Bytes())
		return sealErr
	})
	if err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return err
	}

	updated := v.identity
	updated.WrappedPrivateKey = wrappedPrivate
	updated.RotatedAt = time.Now().UTC()

	data, err := encodeIdentity(&updated)
	if err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return err
	}

	version, err := v.saveIdentityWithRetry(data)
	if err != nil {
		err = fmt.Errorf("failed to persist rotated identity: %w", err)
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return err
	}

	// A failure between the identity write and the salt write leaves the
	// passphrase path broken until retried; the recovery wrap is salt
	// independent and still restores access
	if err := v.saveSaltWithRetry(salt); err != nil {
		v.logAudit(requestID, "PASSPHRASE_ROTATE", err, nil)
		return fmt.Errorf("failed to persist new salt: %w", err)
	}

	v.identity = updated
	v.identityVersion = version
	v.derivationSaltEnclave = newSaltEnclave
	v.options.DerivationPassphrase = newPassphrase

	v.logAudit(requestID, "PASSPHRASE_ROTATE", nil, map[string]interface{}{
		"key_id": v.keyID,
	})
	return nil
}

// Reset destructively discards the current identity. Every entry and grant
// wrapped solely under the old keypair becomes permanently unreadable; the
// caller is responsible for explicit confirmation before invoking this.
// Recovery material generated for the old identity is invalidated with it.
//
// After Reset the vault is uninitialized and a fresh salt has been
// generated; Initialize starts over with a brand-new keypair.
func (v *Vault) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if v.state == StateUninitialized {
		v.logAudit(requestID, "IDENTITY_RESET", ErrNotInitialized, nil)
		return ErrNotInitialized
	}

	oldKeyID := v.keyID

	if err := v.store.DeleteIdentity(); err != nil {
		v.logAudit(requestID, "IDENTITY_RESET", err, nil)
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	v.wipeKeyMaterialLocked()
	v.identity = Identity{}
	v.identityVersion = ""
	v.keyID = ""
	v.publicKeyDER = nil
	v.state = StateUninitialized

	// New salt so the next identity never reuses the old derivation input
	salt, err := crypto.NewSalt()
	if err != nil {
		v.logAudit(requestID, "IDENTITY_RESET", err, nil)
		return err
	}
	if err := v.saveSaltWithRetry(salt); err != nil {
		v.logAudit(requestID, "IDENTITY_RESET", err, nil)
		return fmt.Errorf("failed to persist new salt: %w", err)
	}
	v.derivationSaltEnclave = memguard.NewEnclave(salt)

	v.logAudit(requestID, "IDENTITY_RESET", nil, map[string]interface{}{
		"old_key_id": oldKeyID,
	})
	return nil
}

// deriveMasterKey derives the master key from the configured passphrase and
// the persisted salt. Caller must hold the lock and destroy the result.
func (v *Vault) deriveMasterKey() (*memguard.LockedBuffer, error) {
	passphrase, err := v.options.resolvePassphrase()
	if err != nil {
		return nil, err
	}
	passBytes := []byte(passphrase)
	defer memguard.WipeBytes(passBytes)

	key, err := v.provider.DeriveKey(passBytes, v.derivationSaltEnclave)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return key, nil
}

// withPrivateKeyLocked opens the private key enclave and runs fn with the
// raw DER bytes, which are wiped when fn returns. Caller must hold at least
// a read lock and must not retain the bytes.
func (v *Vault) withPrivateKeyLocked(fn func(privateDER []byte) error) error {
	if v.state != StateUnlocked || v.privateKeyEnclave == nil {
		return ErrKeyManagerLocked
	}

	buf, err := v.privateKeyEnclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open private key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// unwrapContentKey recovers a content key from its RSA-wrapped form using
// the in-memory private key. The returned bytes must be wiped by the caller.
func (v *Vault) unwrapContentKey(wrapped []byte) ([]byte, error) {
	var contentKey []byte
	err := v.withPrivateKeyLocked(func(privateDER []byte) error {
		buf := memguard.NewBufferFromBytes(append([]byte(nil), privateDER...))
		defer buf.Destroy()

		key, unwrapErr := v.provider.UnwrapKey(wrapped, buf)
		if unwrapErr != nil {
			if errors.Is(unwrapErr, crypto.ErrUnwrap) {
				return ErrUnwrapFailure
			}
			return unwrapErr
		}
		contentKey = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contentKey, nil
}

// wrapContentKeyFor wraps a content key under a principal's published
// public key. Accepts PEM or raw DER public material.
func (v *Vault) wrapContentKeyFor(contentKey []byte, publicKey []byte) ([]byte, error) {
	der := publicKey
	if pemDER := publicKeyDERFromPEM(publicKey); pemDER != nil {
		der = pemDER
	}
	wrapped, err := v.provider.WrapKey(contentKey, der)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap content key: %w", err)
	}
	return wrapped, nil
}

// requireUnlocked returns ErrKeyManagerLocked / ErrNotInitialized unless the
// vault is unlocked. Caller must hold at least a read lock.
func (v *Vault) requireUnlockedLocked() error {
	switch v.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateLocked:
		return ErrKeyManagerLocked
	}
	if v.closed {
		return fmt.Errorf("vault is closed")
	}
	return nil
}
