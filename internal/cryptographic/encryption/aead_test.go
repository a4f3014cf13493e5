package encryption_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"epochchat/internal/cryptographic/encryption"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, encryption.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := randomKey(t)

	ct, nonce, err := encryption.Encrypt(key, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, nonce, encryption.NonceSize)
	require.NotEqual(t, []byte("hello"), ct)

	plain, err := encryption.Decrypt(key, nonce, ct)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plain))
}

func TestDecrypt_WrongKeyFailsClosed(t *testing.T) {
	key := randomKey(t)
	ct, nonce, err := encryption.Encrypt(key, []byte("hello"))
	require.NoError(t, err)

	// flip one bit of the key
	bad := bytes.Clone(key)
	bad[0] ^= 0x01

	plain, err := encryption.Decrypt(bad, nonce, ct)
	require.Error(t, err)
	require.Nil(t, plain)
}

func TestDecrypt_TamperedCiphertextFailsClosed(t *testing.T) {
	key := randomKey(t)
	ct, nonce, err := encryption.Encrypt(key, []byte("hello"))
	require.NoError(t, err)

	ct[len(ct)/2] ^= 0x80

	plain, err := encryption.Decrypt(key, nonce, ct)
	require.Error(t, err)
	require.Nil(t, plain)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key := randomKey(t)
	_, n1, err := encryption.Encrypt(key, []byte("x"))
	require.NoError(t, err)
	_, n2, err := encryption.Encrypt(key, []byte("x"))
	require.NoError(t, err)
	require.NotEqual(t, n1, n2)
}

func TestEncrypt_RejectsShortKey(t *testing.T) {
	_, _, err := encryption.Encrypt(make([]byte, 16), []byte("x"))
	require.Error(t, err)
}

func TestSeal_RoundTrip(t *testing.T) {
	key := randomKey(t)
	sealed, err := encryption.Seal(key, []byte("wrapped epoch key"))
	require.NoError(t, err)

	plain, err := encryption.OpenSealed(key, sealed)
	require.NoError(t, err)
	require.Equal(t, "wrapped epoch key", string(plain))
}

func TestOpenSealed_TruncatedBlob(t *testing.T) {
	key := randomKey(t)
	_, err := encryption.OpenSealed(key, []byte{1, 2, 3})
	require.Error(t, err)
}
