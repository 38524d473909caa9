package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
)

// GenerateKeyPair creates a 4096-bit RSA keypair. Generation is slow by
// design and should run off the interactive path.
func (Default) GenerateKeyPair() ([]byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, misc.IdentityKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		memguard.WipeBytes(privateDER)
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return privateDER, publicDER, nil
}

// WrapKey encrypts a content key under a principal's public key using
// RSA-OAEP with SHA-256.
func (Default) WrapKey(key, publicDER []byte) ([]byte, error) {
	pub, err := ParsePublicKey(publicDER)
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey recovers a content key with the private key held in buf.
// Wrong-key and corrupted-wrap failures both surface as ErrUnwrap.
func (Default) UnwrapKey(wrapped []byte, buf *memguard.LockedBuffer) ([]byte, error) {
	priv, err := parsePrivateKey(buf.Bytes())
	if err != nil {
		return nil, err
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, ErrUnwrap
	}
	return key, nil
}

// ErrUnwrap signals that a wrapped key could not be recovered: wrong private
// key or a corrupted wrapped blob.
var ErrUnwrap = fmt.Errorf("failed to unwrap key")

// ParsePublicKey parses a PKIX DER public key, accepting PEM armor as well.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(der); block != nil {
		der = block.Bytes
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return priv, nil
}

// EncodePublicKeyPEM armors a PKIX DER public key for publication in the
// principal directory.
func EncodePublicKeyPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}
