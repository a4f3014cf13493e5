package kdf_test

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"epochchat/internal/cryptographic/kdf"
)

func TestPasswordKey_Deterministic(t *testing.T) {
	salt := make([]byte, kdf.PasswordSaltSize)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	k1 := kdf.PasswordKey("correct horse", salt)
	k2 := kdf.PasswordKey("correct horse", salt)
	require.Equal(t, k1, k2)
	require.Len(t, k1, 32)
}

func TestPasswordKey_SensitiveToInputs(t *testing.T) {
	salt := make([]byte, kdf.PasswordSaltSize)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	base := kdf.PasswordKey("password", salt)
	require.NotEqual(t, base, kdf.PasswordKey("passwore", salt))

	salt2 := append([]byte(nil), salt...)
	salt2[0] ^= 0x01
	require.NotEqual(t, base, kdf.PasswordKey("password", salt2))
}

func TestWrappingKey_ECDHSymmetry(t *testing.T) {
	a, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)
	b, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)

	kab, err := kdf.WrappingKey(a, b.PublicKey())
	require.NoError(t, err)
	kba, err := kdf.WrappingKey(b, a.PublicKey())
	require.NoError(t, err)

	require.Equal(t, kab, kba)
	require.Len(t, kab, 32)
}

func TestWrappingKey_DistinctPerPeer(t *testing.T) {
	a, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)
	b, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := ecdh.P384().GenerateKey(rand.Reader)
	require.NoError(t, err)

	kab, err := kdf.WrappingKey(a, b.PublicKey())
	require.NoError(t, err)
	kac, err := kdf.WrappingKey(a, c.PublicKey())
	require.NoError(t, err)
	require.NotEqual(t, kab, kac)
}
