package misc

const (
	// FormatVersion defines the current version of the encrypted entry format
	FormatVersion = 1

	// ArgonTime Master key derivation parameters (Argon2id)
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// SaltSize is the size in bytes of the master key derivation salt
	SaltSize = 16

	// ContentKeySize is the size in bytes of a per-entry content key
	ContentKeySize = 32

	// IdentityKeyBits is the RSA modulus size for personal keypairs
	IdentityKeyBits = 4096

	// RecoveryEntropySize is the size in bytes of recovery material entropy
	RecoveryEntropySize = 32

	// PBKDF2Iterations is used for passphrase-encrypted export blobs
	PBKDF2Iterations = 100000

	// MinPassphraseLength is the floor below which a passphrase is rejected
	// outright. Full strength policy is delegated to an external validator.
	MinPassphraseLength = 8

	FilePermissions = 0600 // user read + write
)
