package secret_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"epochchat/internal/secret"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := secret.NewStore(t.TempDir())
	require.False(t, s.Exists())

	v := &secret.Vault{
		Username:   "alice",
		PrivateKey: []byte("pkcs8-der-bytes"),
		Token:      "tok-1",
		DeviceID:   "dev-1",
	}
	require.NoError(t, s.Save("correct horse", v))
	require.True(t, s.Exists())

	got, err := s.Load("correct horse")
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestLoad_WrongPasswordFailsClosed(t *testing.T) {
	s := secret.NewStore(t.TempDir())
	require.NoError(t, s.Save("right", &secret.Vault{Token: "tok"}))

	_, err := s.Load("wrong")
	require.Error(t, err)
}

func TestLoad_MissingVault(t *testing.T) {
	s := secret.NewStore(t.TempDir())
	_, err := s.Load("any")
	require.ErrorIs(t, err, secret.ErrNoVault)
}

func TestSave_FreshSaltPerWrite(t *testing.T) {
	dir := t.TempDir()
	s := secret.NewStore(dir)
	v := &secret.Vault{Token: "tok"}

	require.NoError(t, s.Save("pw", v))
	first, err := os.ReadFile(filepath.Join(dir, "vault.enc"))
	require.NoError(t, err)

	require.NoError(t, s.Save("pw", v))
	second, err := os.ReadFile(filepath.Join(dir, "vault.enc"))
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	s := secret.NewStore(dir)
	require.NoError(t, s.Save("pw", &secret.Vault{}))

	info, err := os.Stat(filepath.Join(dir, "vault.enc"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWipe(t *testing.T) {
	s := secret.NewStore(t.TempDir())
	require.NoError(t, s.Save("pw", &secret.Vault{}))
	require.NoError(t, s.Wipe())
	require.False(t, s.Exists())
	// wiping an already-empty store is fine
	require.NoError(t, s.Wipe())
}
