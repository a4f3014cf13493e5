// Package secret is the at-rest-protected keyspace for the device's
// long-term secrets: the identity private key, the bearer token and the
// per-install device id. Everything lives in one file encrypted under a
// password-derived key; a wrong password fails closed.
package secret

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"epochchat/internal/cryptographic/encryption"
	"epochchat/internal/cryptographic/kdf"
)

const vaultFile = "vault.enc"

var ErrNoVault = errors.New("secret: no vault")

type (
	// Vault is the decrypted contents.
	Vault struct {
		Username   string `json:"username"`
		PrivateKey []byte `json:"private_key"` // PKCS#8
		Token      string `json:"token"`
		DeviceID   string `json:"device_id"`
	}

	Store struct {
		dir string
		mu  sync.Mutex
	}
)

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, vaultFile)
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// Save encrypts the vault under a fresh salt and writes it with 0600 perms.
// On-disk layout: salt || nonce || ciphertext.
func (s *Store) Save(password string, v *Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	salt := make([]byte, kdf.PasswordSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("rand.Read salt: %w", err)
	}
	sealed, err := encryption.Seal(kdf.PasswordKey(password, salt), raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path(), append(salt, sealed...), 0o600)
}

func (s *Store) Load(password string) (*Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoVault
	}
	if err != nil {
		return nil, err
	}
	if len(blob) < kdf.PasswordSaltSize {
		return nil, fmt.Errorf("vault file truncated")
	}
	salt, sealed := blob[:kdf.PasswordSaltSize], blob[kdf.PasswordSaltSize:]
	raw, err := encryption.OpenSealed(kdf.PasswordKey(password, salt), sealed)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	var v Vault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Wipe removes the vault file. Called on logout and on auth failure.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
