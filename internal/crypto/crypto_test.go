package crypto

import (
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/internal/misc"
)

func TestEncryptDecrypt(t *testing.T) {
	provider := NewProvider()
	key, err := NewContentKey()
	require.NoError(t, err)

	cases := [][]byte{
		[]byte("Hello, World!"),
		[]byte("Special chars: !@#$%^&*()_+{}|"),
		[]byte("Unicode: こんにちは"),
		{},
		make([]byte, 64*1024),
	}

	for _, plaintext := range cases {
		ciphertext, nonce, err := provider.Encrypt(plaintext, key)
		require.NoError(t, err)
		require.Len(t, nonce, chacha20poly1305.NonceSize)
		if len(plaintext) > 0 {
			assert.NotEqual(t, plaintext, ciphertext)
		}

		decrypted, err := provider.Decrypt(ciphertext, nonce, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	provider := NewProvider()
	key, err := NewContentKey()
	require.NoError(t, err)

	ciphertext, nonce, err := provider.Encrypt([]byte("authenticated"), key)
	require.NoError(t, err)

	t.Run("FlippedCiphertext", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[0] ^= 0x01
		_, err := provider.Decrypt(tampered, nonce, key)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("FlippedNonce", func(t *testing.T) {
		badNonce := append([]byte(nil), nonce...)
		badNonce[0] ^= 0x01
		_, err := provider.Decrypt(ciphertext, badNonce, key)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := NewContentKey()
		require.NoError(t, err)
		_, err = provider.Decrypt(ciphertext, nonce, other)
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestDeriveKeyDeterministic(t *testing.T) {
	provider := NewProvider()
	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, misc.SaltSize)

	saltCopy := append([]byte(nil), salt...)

	first, err := provider.DeriveKey([]byte("correct horse"), memguard.NewEnclave(salt))
	require.NoError(t, err)
	defer first.Destroy()

	second, err := provider.DeriveKey([]byte("correct horse"), memguard.NewEnclave(append([]byte(nil), saltCopy...)))
	require.NoError(t, err)
	defer second.Destroy()

	assert.Equal(t, first.Bytes(), second.Bytes())

	t.Run("DifferentPassphrase", func(t *testing.T) {
		third, err := provider.DeriveKey([]byte("battery staple"), memguard.NewEnclave(saltCopy))
		require.NoError(t, err)
		defer third.Destroy()
		assert.NotEqual(t, first.Bytes(), third.Bytes())
	})
}

func TestWrapUnwrapKey(t *testing.T) {
	provider := NewProvider()
	privateDER, publicDER, err := provider.GenerateKeyPair()
	require.NoError(t, err)

	contentKey, err := NewContentKey()
	require.NoError(t, err)

	wrapped, err := provider.WrapKey(contentKey, publicDER)
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), string(contentKey))

	privateBuf := memguard.NewBufferFromBytes(append([]byte(nil), privateDER...))
	defer privateBuf.Destroy()

	unwrapped, err := provider.UnwrapKey(wrapped, privateBuf)
	require.NoError(t, err)
	assert.Equal(t, contentKey, unwrapped)

	t.Run("WrongPrivateKey", func(t *testing.T) {
		otherDER, _, err := provider.GenerateKeyPair()
		require.NoError(t, err)
		otherBuf := memguard.NewBufferFromBytes(otherDER)
		defer otherBuf.Destroy()

		_, err = provider.UnwrapKey(wrapped, otherBuf)
		assert.ErrorIs(t, err, ErrUnwrap)
	})

	t.Run("CorruptedWrap", func(t *testing.T) {
		tampered := append([]byte(nil), wrapped...)
		tampered[10] ^= 0xff
		buf := memguard.NewBufferFromBytes(append([]byte(nil), privateDER...))
		defer buf.Destroy()

		_, err := provider.UnwrapKey(tampered, buf)
		assert.ErrorIs(t, err, ErrUnwrap)
	})
}

func TestSealOpenValue(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	sealed, err := SealValue([]byte("private material"), key)
	require.NoError(t, err)

	opened, err := OpenValue(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("private material"), opened)

	t.Run("WrongKey", func(t *testing.T) {
		other, err := NewContentKey()
		require.NoError(t, err)
		_, err = OpenValue(sealed, other)
		assert.Error(t, err)
	})
}

func TestExpandKey(t *testing.T) {
	ikm := []byte("recovery entropy 32 bytes long!!")

	first, err := ExpandKey(ikm, "context/v1", misc.ContentKeySize)
	require.NoError(t, err)
	require.Len(t, first, misc.ContentKeySize)

	second, err := ExpandKey(ikm, "context/v1", misc.ContentKeySize)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := ExpandKey(ikm, "context/v2", misc.ContentKeySize)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "different info strings yield independent keys")
}

func TestPassphraseEncryption(t *testing.T) {
	encrypted, err := EncryptWithPassphrase([]byte(`{"kind":"backup"}`), "export-Phrase42")
	require.NoError(t, err)

	decrypted, err := DecryptWithPassphrase(encrypted, "export-Phrase42")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"kind":"backup"}`), decrypted)

	t.Run("WrongPassphrase", func(t *testing.T) {
		_, err := DecryptWithPassphrase(encrypted, "not-the-phrase")
		assert.Error(t, err)
	})

	t.Run("FreshSaltEachTime", func(t *testing.T) {
		again, err := EncryptWithPassphrase([]byte(`{"kind":"backup"}`), "export-Phrase42")
		require.NoError(t, err)
		assert.NotEqual(t, encrypted, again)
	})
}

func TestCalculateChecksum(t *testing.T) {
	a := CalculateChecksum([]byte("stable input"))
	b := CalculateChecksum([]byte("stable input"))
	c := CalculateChecksum([]byte("different input"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
