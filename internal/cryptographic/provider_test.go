package cryptographic_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"epochchat/internal/cryptographic"
)

// The core protocol invariant: a key wrapped by A for B unwraps on B's side
// with A's public key, because both derive the same wrapping key.
func TestWrapUnwrap_RoundTripAcrossPeers(t *testing.T) {
	p := cryptographic.Native{}

	a, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)
	b, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)

	raw, err := p.GenerateSymmetricKey()
	require.NoError(t, err)
	require.Len(t, raw, 32)

	blob, err := p.WrapKey(raw, a.Private, b.Public)
	require.NoError(t, err)

	// B unwraps what A wrapped.
	got, err := p.UnwrapKey(blob, b.Private, a.Public)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	// And A can unwrap its own blob too; the same blob serves both peers.
	got, err = p.UnwrapKey(blob, a.Private, b.Public)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestUnwrap_WrongPeerFailsClosed(t *testing.T) {
	p := cryptographic.Native{}

	a, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)
	b, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)
	eve, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)

	raw, err := p.GenerateSymmetricKey()
	require.NoError(t, err)

	blob, err := p.WrapKey(raw, a.Private, b.Public)
	require.NoError(t, err)

	_, err = p.UnwrapKey(blob, eve.Private, a.Public)
	require.Error(t, err)
}

func TestUnwrap_CorruptedBlobFailsClosed(t *testing.T) {
	p := cryptographic.Native{}

	a, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)
	b, err := p.GenerateIdentityKeyPair()
	require.NoError(t, err)

	raw, err := p.GenerateSymmetricKey()
	require.NoError(t, err)

	blob, err := p.WrapKey(raw, a.Private, b.Public)
	require.NoError(t, err)

	_, err = p.UnwrapKey("x"+blob[1:], b.Private, a.Public)
	require.Error(t, err)
}

func TestGenerateSymmetricKey_Unique(t *testing.T) {
	p := cryptographic.Native{}
	k1, err := p.GenerateSymmetricKey()
	require.NoError(t, err)
	k2, err := p.GenerateSymmetricKey()
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}
