// Package cryptographic exposes the protocol's cryptographic engine behind a
// single Provider interface. Exactly one production implementation exists per
// platform; application code never branches on which one is active.
package cryptographic

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"

	"epochchat/internal/cryptographic/codec"
	"epochchat/internal/cryptographic/encryption"
	"epochchat/internal/cryptographic/kdf"
	"epochchat/internal/cryptographic/keys"
)

type Provider interface {
	// GenerateIdentityKeyPair creates a long-term P-384 key pair.
	GenerateIdentityKeyPair() (*keys.KeyPair, error)

	// GenerateSymmetricKey returns 32 cryptographically random bytes.
	GenerateSymmetricKey() ([]byte, error)

	// Encrypt / Decrypt are AES-256-GCM over message payloads. Decrypt fails
	// closed on tag mismatch.
	Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(key, nonce, ciphertext []byte) ([]byte, error)

	// DerivePasswordKey is PBKDF2-HMAC-SHA256 over the user's password.
	DerivePasswordKey(password string, salt []byte) []byte

	// WrapKey seals a raw epoch key under the key-agreement-derived wrapping
	// key and returns base64(nonce || ciphertext). UnwrapKey is the inverse.
	WrapKey(raw []byte, myPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) (string, error)
	UnwrapKey(blob string, myPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error)
}

// Native is the production Provider backed by the Go standard library and
// golang.org/x/crypto.
type Native struct{}

var _ Provider = Native{}

func (Native) GenerateIdentityKeyPair() (*keys.KeyPair, error) {
	return keys.NewIdentityKeyPair()
}

func (Native) GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, encryption.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("rand.Read key: %w", err)
	}
	return key, nil
}

func (Native) Encrypt(key, plaintext []byte) ([]byte, []byte, error) {
	return encryption.Encrypt(key, plaintext)
}

func (Native) Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	return encryption.Decrypt(key, nonce, ciphertext)
}

func (Native) DerivePasswordKey(password string, salt []byte) []byte {
	return kdf.PasswordKey(password, salt)
}

func (Native) WrapKey(raw []byte, myPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) (string, error) {
	wk, err := kdf.WrappingKey(myPriv, peerPub)
	if err != nil {
		return "", err
	}
	sealed, err := encryption.Seal(wk, raw)
	if err != nil {
		return "", err
	}
	return codec.B64Encode(sealed), nil
}

func (Native) UnwrapKey(blob string, myPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	sealed, err := codec.B64Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	wk, err := kdf.WrappingKey(myPriv, peerPub)
	if err != nil {
		return nil, err
	}
	raw, err := encryption.OpenSealed(wk, sealed)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}
	return raw, nil
}
