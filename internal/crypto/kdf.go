package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
)

// DeriveKey stretches a passphrase into a 256-bit master key using Argon2id
// with the vault's fixed cost parameters. The salt lives in an enclave so it
// is never left lying around in regular heap memory.
func (Default) DeriveKey(passphrase []byte, salt *memguard.Enclave) (*memguard.LockedBuffer, error) {
	saltBuffer, err := salt.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open salt enclave: %w", err)
	}
	defer saltBuffer.Destroy()

	// Copy salt bytes so the buffer can be destroyed before argon2 returns.
	saltBytes := make([]byte, len(saltBuffer.Bytes()))
	copy(saltBytes, saltBuffer.Bytes())
	defer memguard.WipeBytes(saltBytes)

	derived := argon2.IDKey(
		passphrase,
		saltBytes,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	// NewBufferFromBytes wipes the source slice.
	return memguard.NewBufferFromBytes(derived), nil
}

// NewSalt generates a fresh random salt for passphrase derivation.
func NewSalt() ([]byte, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// ExpandKey derives a subkey from input keying material using HKDF-SHA256.
// Used for turning recovery entropy into a recovery wrapping key without
// tying it to the passphrase derivation path.
func ExpandKey(ikm []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(newSHA256, ikm, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to expand key: %w", err)
	}
	return out, nil
}
