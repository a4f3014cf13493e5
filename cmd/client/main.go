package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"epochchat/internal/backend"
	"epochchat/internal/config"
	"epochchat/internal/cryptographic"
	"epochchat/internal/secret"
	"epochchat/internal/service/app"
	"epochchat/internal/store"
	"epochchat/internal/utils/log"
)

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to config file")
		serverURL  = flag.String("server", "", "backend base URL (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatal("create data dir failed", zap.Error(err))
	}
	if err := log.InitFile(cfg.LogFile); err != nil {
		log.Fatal("init log file failed", zap.Error(err))
	}
	defer log.Sync()

	be, err := backend.NewClient(cfg.ServerURL, app.LoadDeviceID(cfg.DataDir))
	if err != nil {
		log.Fatal("bad server url", zap.Error(err))
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "epochchat.db"))
	if err != nil {
		log.Fatal("open local store failed", zap.Error(err))
	}
	defer st.Close()

	secrets := secret.NewStore(cfg.DataDir)

	a := app.NewApp(cfg, cryptographic.Native{}, be, st, secrets)
	defer a.Stop()

	if err := a.Run(context.Background()); err != nil {
		log.Fatal("client exited", zap.Error(err))
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".epochchat", "config.toml")
}
