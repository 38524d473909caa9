package entryvault

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/corvus-ch/shamir"
	"github.com/tyler-smith/go-bip39"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/crypto"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
)

// recoveryKeyInfo is the HKDF info string binding recovery keys to this
// subsystem and format version.
const recoveryKeyInfo = "entryvault/recovery/v1"

// GenerateRecovery creates fresh recovery material for the current
// identity and returns it as a BIP-39 mnemonic phrase.
//
// The recovery path is independent of the passphrase: random entropy is
// expanded into a recovery key which wraps a second copy of the private
// key. Knowing the mnemonic therefore restores access without the
// passphrase, and learning it reveals nothing about the passphrase.
//
// Calling GenerateRecovery again invalidates all previously issued
// recovery material, mnemonic and social shares alike.
func (v *Vault) GenerateRecovery() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return "", err
	}

	entropy, err := randomEntropy()
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return "", err
	}
	defer memguard.WipeBytes(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return "", fmt.Errorf("failed to encode mnemonic: %w", err)
	}

	if err := v.installRecoveryWrapLocked(requestID, entropy); err != nil {
		return "", err
	}

	v.logAudit(requestID, "RECOVERY_GENERATE", nil, map[string]interface{}{
		"recovery_version": v.identity.RecoveryVersion,
	})
	return mnemonic, nil
}

// GenerateRecoveryShares creates fresh recovery material and splits it into
// parts social-recovery shares of which threshold are required to
// reconstruct. Each share is an opaque string to hand to one custodian.
//
// Like GenerateRecovery, this replaces any previously issued material.
func (v *Vault) GenerateRecoveryShares(parts, threshold int) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if err := v.requireUnlockedLocked(); err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return nil, err
	}

	entropy, err := randomEntropy()
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return nil, err
	}
	defer memguard.WipeBytes(entropy)

	split, err := shamir.Split(entropy, parts, threshold)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return nil, fmt.Errorf("failed to split recovery secret: %w", err)
	}

	shares := make([]string, 0, len(split))
	for index, data := range split {
		shares = append(shares, fmt.Sprintf("%02x-%s", index, hex.EncodeToString(data)))
	}

	if err := v.installRecoveryWrapLocked(requestID, entropy); err != nil {
		return nil, err
	}

	v.logAudit(requestID, "RECOVERY_GENERATE", nil, map[string]interface{}{
		"recovery_version": v.identity.RecoveryVersion,
		"parts":            parts,
		"threshold":        threshold,
	})
	return shares, nil
}

// RecoverWithMnemonic restores the unlocked state from a recovery mnemonic
// without the passphrase. On success the caller should immediately rotate
// to a new passphrase with RotatePassphrase, since the old one is
// presumably lost.
//
// Material that does not match what was generated for this identity fails
// with ErrInvalidRecoveryMaterial.
func (v *Vault) RecoverWithMnemonic(mnemonic string) error {
	entropy, err := bip39.EntropyFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return ErrInvalidRecoveryMaterial
	}
	defer memguard.WipeBytes(entropy)
	return v.recoverWithEntropy(entropy)
}

// RecoverWithShares restores the unlocked state from a quorum of
// social-recovery shares.
func (v *Vault) RecoverWithShares(shares []string) error {
	parts := make(map[byte][]byte, len(shares))
	for _, share := range shares {
		index, data, err := decodeRecoveryShare(share)
		if err != nil {
			return ErrInvalidRecoveryMaterial
		}
		parts[index] = data
	}

	entropy, err := shamir.Combine(parts)
	if err != nil {
		return ErrInvalidRecoveryMaterial
	}
	defer memguard.WipeBytes(entropy)
	return v.recoverWithEntropy(entropy)
}

// installRecoveryWrapLocked wraps the private key under a key expanded from
// entropy and persists the updated identity. Caller holds the write lock
// with the vault unlocked.
func (v *Vault) installRecoveryWrapLocked(requestID string, entropy []byte) error {
	recoveryKey, err := crypto.ExpandKey(entropy, recoveryKeyInfo, misc.ContentKeySize)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return err
	}
	defer memguard.WipeBytes(recoveryKey)

	var wrapped []byte
	err = v.withPrivateKeyLocked(func(privateDER []byte) error {
		var sealErr error
		wrapped, sealErr = crypto.SealValue(privateDER, recoveryKey)
		return sealErr
	})
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return err
	}

	updated := v.identity
	updated.RecoveryWrappedKey = wrapped
	updated.RecoveryVersion++

	data, err := encodeIdentity(&updated)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return err
	}
	version, err := v.saveIdentityWithRetry(data)
	if err != nil {
		err = fmt.Errorf("failed to persist recovery material: %w", err)
		v.logAudit(requestID, "RECOVERY_GENERATE", err, nil)
		return err
	}

	v.identity = updated
	v.identityVersion = version
	return nil
}

func (v *Vault) recoverWithEntropy(entropy []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	requestID := v.newRequestID()

	if v.state == StateUninitialized {
		v.logAudit(requestID, "RECOVERY_RESTORE", ErrNotInitialized, nil)
		return ErrNotInitialized
	}
	if len(v.identity.RecoveryWrappedKey) == 0 {
		v.logAudit(requestID, "RECOVERY_RESTORE", ErrInvalidRecoveryMaterial, nil)
		return ErrInvalidRecoveryMaterial
	}

	recoveryKey, err := crypto.ExpandKey(entropy, recoveryKeyInfo, misc.ContentKeySize)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_RESTORE", err, nil)
		return err
	}
	defer memguard.WipeBytes(recoveryKey)

	privateDER, err := crypto.OpenValue(v.identity.RecoveryWrappedKey, recoveryKey)
	if err != nil {
		v.logAudit(requestID, "RECOVERY_RESTORE", ErrInvalidRecoveryMaterial, nil)
		return ErrInvalidRecoveryMaterial
	}

	v.privateKeyEnclave = memguard.NewEnclave(privateDER)
	v.state = StateUnlocked

	v.logAudit(requestID, "RECOVERY_RESTORE", nil, map[string]interface{}{
		"recovery_version": v.identity.RecoveryVersion,
	})
	return nil
}

func randomEntropy() ([]byte, error) {
	entropy, err := bip39.NewEntropy(misc.RecoveryEntropySize * 8)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery entropy: %w", err)
	}
	return entropy, nil
}

func decodeRecoveryShare(share string) (byte, []byte, error) {
	pieces := strings.SplitN(strings.TrimSpace(share), "-", 2)
	if len(pieces) != 2 {
		return 0, nil, fmt.Errorf("malformed share")
	}
	indexBytes, err := hex.DecodeString(pieces[0])
	if err != nil || len(indexBytes) != 1 {
		return 0, nil, fmt.Errorf("malformed share index")
	}
	data, err := hex.DecodeString(pieces[1])
	if err != nil || len(data) == 0 {
		return 0, nil, fmt.Errorf("malformed share data")
	}
	return indexBytes[0], data, nil
}
