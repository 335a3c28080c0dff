package secret

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptorRejectsBadKeySizes(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		_, err := NewEncryptor(make([]byte, size))
		assert.ErrorIs(t, err, ErrInvalidKeySize, "size %d", size)
	}
}

func TestNewEncryptorFromBase64Key(t *testing.T) {
	b64, err := GenerateKeyBase64()
	require.NoError(t, err)

	enc, err := NewEncryptorFromBase64Key(b64)
	require.NoError(t, err)
	require.NotNil(t, enc)

	_, err = NewEncryptorFromBase64Key("")
	assert.ErrorIs(t, err, ErrNoEncryptionKey)

	_, err = NewEncryptorFromBase64Key("not-base64!!!")
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	plaintexts := []string{
		"fk_abc123",
		"short",
		strings.Repeat("x", 4096),
		`{"request_id":"r1","nested":true}`,
	}
	for _, pt := range plaintexts {
		blob, err := enc.Encrypt(pt)
		require.NoError(t, err)
		assert.True(t, IsEncrypted(blob))

		got, err := enc.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	// Random nonces mean identical plaintexts never collide.
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1 := newTestEncryptor(t)
	enc2 := newTestEncryptor(t)

	blob, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	blob, err := enc.Encrypt("secret")
	require.NoError(t, err)

	packed, err := base64.StdEncoding.DecodeString(blob[len(EncryptedPrefix):])
	require.NoError(t, err)
	packed[len(packed)-1] ^= 0xff
	tampered := EncryptedPrefix + base64.StdEncoding.EncodeToString(packed)

	_, err = enc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsUnprefixedValues(t *testing.T) {
	enc := newTestEncryptor(t)

	// Keys stored before encrypted-reveal support have no recoverable
	// plaintext; decryption must fail loudly, not return garbage.
	_, err := enc.Decrypt("legacy-plaintext-value")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = enc.Decrypt("")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestOpenRejectsShortInput(t *testing.T) {
	enc := newTestEncryptor(t)
	_, err := enc.Open(make([]byte, NonceSize+TagSize))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestSealPackaging(t *testing.T) {
	enc := newTestEncryptor(t)

	packed, err := enc.Seal([]byte("abc"))
	require.NoError(t, err)
	// nonce || ciphertext || tag with fixed-width segments.
	assert.Equal(t, NonceSize+3+TagSize, len(packed))
}
