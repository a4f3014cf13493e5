package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
)

// AES-256-GCM helpers. Message payloads carry nonce and ciphertext as separate
// fields; wrapped epoch keys travel as a single nonce||ciphertext blob.

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns ciphertext
// and nonce separately.
func Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens a ciphertext. Any tag mismatch returns an error and no
// plaintext, partial or otherwise.
func Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plain, nil
}

// Seal is Encrypt with the nonce prepended: nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	ct, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// OpenSealed is the inverse of Seal.
func OpenSealed(key, nonceAndCiphertext []byte) ([]byte, error) {
	if len(nonceAndCiphertext) < NonceSize {
		return nil, fmt.Errorf("sealed blob too short")
	}
	return Decrypt(key, nonceAndCiphertext[:NonceSize], nonceAndCiphertext[NonceSize:])
}
