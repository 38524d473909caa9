// Package crypto wraps the primitive operations the vault protocol needs
// behind a narrow Provider interface, so protocol code never touches a
// cipher or KDF directly.
package crypto

import (
	"github.com/awnumar/memguard"
)

// Provider is the narrow surface the key-management and sharing protocol is
// written against. The default implementation is backed by Argon2id,
// ChaCha20-Poly1305 and RSA-OAEP; swapping primitives means swapping the
// provider, not the protocol.
type Provider interface {
	// DeriveKey stretches a passphrase and salt into a symmetric key held in
	// a protected buffer. Deterministic for a given passphrase + salt.
	DeriveKey(passphrase []byte, salt *memguard.Enclave) (*memguard.LockedBuffer, error)

	// GenerateKeyPair creates a fresh personal keypair. The private half is
	// returned in PKCS#8 DER form for immediate wrapping; the public half in
	// PKIX DER form for publication.
	GenerateKeyPair() (privateDER, publicDER []byte, err error)

	// WrapKey encrypts a content key under a principal's public key.
	WrapKey(key, publicDER []byte) ([]byte, error)

	// UnwrapKey recovers a content key using the private key held in the
	// given buffer.
	UnwrapKey(wrapped []byte, privateKey *memguard.LockedBuffer) ([]byte, error)

	// Encrypt seals plaintext under a symmetric key with a fresh nonce.
	// The returned nonce must accompany the ciphertext.
	Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error)

	// Decrypt authenticates and opens ciphertext. Authentication failure is
	// an error, never garbage plaintext.
	Decrypt(ciphertext, nonce, key []byte) ([]byte, error)
}

// Default is the production provider.
type Default struct{}

// NewProvider returns the default provider.
func NewProvider() Provider {
	return Default{}
}
