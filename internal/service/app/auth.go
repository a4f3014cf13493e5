package app

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/cryptographic/codec"
	"epochchat/internal/cryptographic/kdf"
	"epochchat/internal/cryptographic/keys"
	"epochchat/internal/secret"
	"epochchat/internal/session"
	"epochchat/internal/timeline"
	"epochchat/internal/utils/log"
)

// authenticate recovers the identity private key and wires up the session
// manager and syncer. A saved vault is tried first so a returning device
// needs only its password; the terminal login/signup dialog is the fallback.
// Must run before the TUI takes the terminal.
func (c *App) authenticate(ctx context.Context) error {
	if c.secrets.Exists() {
		var password string
		fmt.Print("Password: ")
		if _, err := fmt.Scan(&password); err != nil {
			return err
		}
		err := c.restoreSession(ctx, password)
		if err == nil {
			return nil
		}
		log.Warn("vault restore failed, falling back to login", zap.Error(err))
	}

	var username, password, mode string
	fmt.Print("Username: ")
	if _, err := fmt.Scan(&username); err != nil {
		return err
	}
	fmt.Print("Password: ")
	if _, err := fmt.Scan(&password); err != nil {
		return err
	}
	fmt.Print("Login or signup? [l/s]: ")
	if _, err := fmt.Scan(&mode); err != nil {
		return err
	}

	if strings.HasPrefix(strings.ToLower(mode), "s") {
		if err := c.signup(ctx, username, password); err != nil {
			return err
		}
	}
	return c.login(ctx, username, password)
}

// restoreSession opens the vault and rebuilds the authenticated state from
// it: bearer token, identity key, session manager, syncer. No network round
// trip unless the stored private key no longer decodes.
func (c *App) restoreSession(ctx context.Context, password string) error {
	vault, err := c.secrets.Load(password)
	if err != nil {
		return err
	}
	c.backend.SetToken(vault.Token)

	identity, err := keys.DecodePrivate(vault.PrivateKey)
	if err != nil {
		identity, err = c.recoverIdentity(ctx, password, vault)
		if err != nil {
			return err
		}
	}

	c.me = vault.Username
	c.sessions = session.NewManager(c.crypto, c.backend, c.store, identity)
	c.syncer = timeline.NewSyncer(c.backend, c.sessions, c.store)
	log.Info("session restored from vault", zap.String("name", vault.Username))
	return nil
}

// recoverIdentity re-fetches the server-held encrypted key blob when the
// vault's private key is unreadable, and repairs the vault with the result.
func (c *App) recoverIdentity(ctx context.Context, password string, vault *secret.Vault) (*ecdh.PrivateKey, error) {
	blob, err := c.backend.FetchKeyBlob(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch key blob: %w", err)
	}
	privDER, err := decryptKeyBlob(c, password, blob)
	if err != nil {
		return nil, err
	}
	identity, err := keys.DecodePrivate(privDER)
	if err != nil {
		return nil, fmt.Errorf("decode recovered key: %w", err)
	}
	vault.PrivateKey = privDER
	if err := c.secrets.Save(password, vault); err != nil {
		log.Warn("vault repair failed", zap.Error(err))
	}
	return identity, nil
}

// signup generates a fresh identity, encrypts the private key under the
// password, and registers the account. The password and the raw private key
// never go over the wire.
func (c *App) signup(ctx context.Context, username, password string) error {
	kp, err := c.crypto.GenerateIdentityKeyPair()
	if err != nil {
		return err
	}
	pubDER, err := keys.EncodePublic(kp.Public)
	if err != nil {
		return err
	}
	privDER, err := keys.EncodePrivate(kp.Private)
	if err != nil {
		return err
	}

	salt := make([]byte, kdf.PasswordSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	ct, nonce, err := c.crypto.Encrypt(c.crypto.DerivePasswordKey(password, salt), privDER)
	if err != nil {
		return err
	}

	err = c.backend.Signup(ctx, &backend.SignupRequest{
		Username:            username,
		Password:            password,
		PublicKey:           codec.B64Encode(pubDER),
		EncryptedPrivateKey: codec.B64Encode(ct),
		Salt:                codec.B64Encode(salt),
		Nonce:               codec.B64Encode(nonce),
	})
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	log.Info("account created", zap.String("name", username))
	return nil
}

// login fetches the encrypted identity blob, opens it with the
// password-derived key, and persists everything into the secret vault.
func (c *App) login(ctx context.Context, username, password string) error {
	resp, err := c.backend.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	privDER, err := decryptKeyBlob(c, password, &resp.KeyBlob)
	if err != nil {
		return err
	}
	identity, err := keys.DecodePrivate(privDER)
	if err != nil {
		return fmt.Errorf("decode identity key: %w", err)
	}

	vault := &secret.Vault{
		Username:   username,
		PrivateKey: privDER,
		Token:      resp.Token,
		DeviceID:   c.deviceID(),
	}
	if err := c.secrets.Save(password, vault); err != nil {
		return fmt.Errorf("save vault: %w", err)
	}

	c.me = username
	c.sessions = session.NewManager(c.crypto, c.backend, c.store, identity)
	c.syncer = timeline.NewSyncer(c.backend, c.sessions, c.store)
	log.Info("logged in", zap.String("name", username))
	return nil
}

func decryptKeyBlob(c *App, password string, blob *backend.KeyBlob) ([]byte, error) {
	salt, err := codec.B64Decode(blob.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := codec.B64Decode(blob.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := codec.B64Decode(blob.EncryptedPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode key blob: %w", err)
	}
	privDER, err := c.crypto.Decrypt(c.crypto.DerivePasswordKey(password, salt), nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("open key blob: %w", err)
	}
	return privDER, nil
}

func (c *App) deviceID() string {
	return LoadDeviceID(c.cfg.DataDir)
}

// LoadDeviceID reads the persisted per-install identifier, creating one on
// first use. Exposed so the backend client can be wired before App exists.
func LoadDeviceID(dataDir string) string {
	path := filepath.Join(dataDir, "device_id")
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return strings.TrimSpace(string(b))
	}
	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o700); err == nil {
		if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
			log.Warn("persist device id failed", zap.Error(err))
		}
	}
	return id
}
