package entryvault

import "errors"

// Sentinel errors for the key-management and sharing protocol. Callers are
// expected to test with errors.Is; everything wrapping these adds context
// without hiding the category.
var (
	// ErrWeakPassphrase is returned when a passphrase fails the minimal
	// length gate. Full strength policy lives with the external validator.
	ErrWeakPassphrase = errors.New("passphrase too weak")

	// ErrInvalidPassphrase is returned when a passphrase derives a master
	// key that cannot open the stored wrapped identity.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrAlreadyInitialized is returned by GenerateIdentity when an identity
	// already exists for this vault.
	ErrAlreadyInitialized = errors.New("identity already initialized")

	// ErrNotInitialized is returned when an operation needs an identity and
	// none has been generated yet.
	ErrNotInitialized = errors.New("identity not initialized")

	// ErrKeyManagerLocked is returned by any operation that needs the
	// private key while the key manager is locked.
	ErrKeyManagerLocked = errors.New("key manager is locked")

	// ErrUnwrapFailure is returned when a wrapped content key cannot be
	// recovered: wrong private key or corrupted wrapped blob. Never retried
	// automatically.
	ErrUnwrapFailure = errors.New("failed to unwrap content key")

	// ErrTamperedCiphertext is returned when AEAD authentication fails.
	// Surfaced as-is so corruption or tampering is never silent.
	ErrTamperedCiphertext = errors.New("ciphertext failed authentication")

	// ErrGrantRevoked is returned when resolving a share grant whose revoked
	// flag is set.
	ErrGrantRevoked = errors.New("share grant revoked")

	// ErrGrantExpired is returned when resolving a share grant past its
	// expiry. Treated identically to revocation on every read path.
	ErrGrantExpired = errors.New("share grant expired")

	// ErrGrantNotFound is returned when a grant ID resolves to nothing.
	ErrGrantNotFound = errors.New("share grant not found")

	// ErrPrivilegeEscalationDenied is returned when a granter attempts to
	// confer reshare permission without holding it.
	ErrPrivilegeEscalationDenied = errors.New("reshare permission denied")

	// ErrQuotaExceeded is returned after the one automatic evict-and-retry
	// pass fails to free enough cache space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrAnalysisProcessingFailed is the terminal state of an analysis share
	// whose processing failed or timed out.
	ErrAnalysisProcessingFailed = errors.New("analysis processing failed")

	// ErrInvalidRecoveryMaterial is returned when recovery material does not
	// reconstruct this identity's master key.
	ErrInvalidRecoveryMaterial = errors.New("invalid recovery material")
)
