// Package config loads the client configuration file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type (
	Config struct {
		// ServerURL is the REST base address; the realtime endpoint is
		// derived from it.
		ServerURL string `toml:"server_url"`

		// DataDir holds the local store and the secret vault.
		DataDir string `toml:"data_dir"`

		// LogFile receives client logs; the TUI owns the terminal.
		LogFile string `toml:"log_file"`
	}
)

func Default() *Config {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".epochchat")
	return &Config{
		ServerURL: "http://localhost:9090",
		DataDir:   dir,
		LogFile:   filepath.Join(dir, "client.log"),
	}
}

// Load reads the config file, falling back to defaults when it is absent.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
