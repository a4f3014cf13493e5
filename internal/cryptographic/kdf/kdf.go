package kdf

import (
	"crypto/ecdh"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordIterations is the PBKDF2 round count for the password key that
	// protects the identity private key at rest.
	PasswordIterations = 100_000

	// PasswordSaltSize is the per-encryption random salt length.
	PasswordSaltSize = 32
)

// wrapInfo is the HKDF context string for epoch-key wrapping. It is a wire
// constant shared by every implementation of this protocol; changing one byte
// makes peers derive different wrapping keys.
var wrapInfo = []byte("epochchat/v1 epoch-key-wrap")

// zeroSalt is the fixed all-zero HKDF salt for the same derivation, also a
// wire constant.
var zeroSalt = make([]byte, 32)

// HKDF fills buffer from HKDF-SHA256 over the given inputs.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// PasswordKey derives the 32-byte key that encrypts the identity private key,
// from the user's password and a random salt. Deterministic for fixed inputs.
func PasswordKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PasswordIterations, 32, sha256.New)
}

// WrappingKey derives the 32-byte epoch-wrapping key from an ECDH agreement.
// crypto/ecdh returns the shared x-coordinate (48 bytes for P-384) with no
// point-format prefix, so the secret is fed to HKDF as-is. ECDH symmetry makes
// WrappingKey(aPriv, bPub) == WrappingKey(bPriv, aPub).
func WrappingKey(myPriv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	shared, err := myPriv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	key := make([]byte, 32)
	if _, err := HKDF(shared, zeroSalt, wrapInfo, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
