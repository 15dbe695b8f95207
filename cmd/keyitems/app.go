package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"

	"github.com/benaskins/keyitems/internal/audit"
	"github.com/benaskins/keyitems/internal/config"
	"github.com/benaskins/keyitems/internal/keychain"
)

// app bundles the resolved configuration and the open store for one
// command invocation.
type app struct {
	cfg     *config.Config
	base    *keychain.Store
	store   *keychain.AuditedStore
	auditor *audit.Logger
}

// loadConfig resolves defaults, the config file, environment and flags, in
// that order of increasing precedence.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Resolve(path, os.Getenv)
	if err != nil {
		return nil, err
	}
	if flagService != "" {
		cfg.Service = flagService
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel == "" && cfg.LogLevel != "" {
		if err := setupLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp opens the configured store. surface names the caller in audit
// entries: "cli", "api" or "tui".
func openApp(ctx context.Context, surface string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := keychain.OpenOptions{Kind: cfg.Backend, DataDir: cfg.DataDir}
	if keyHex := os.Getenv("KEYITEMS_ENCRYPTION_KEY"); keyHex != "" {
		if opts.SealKey, err = keychain.DecodeSealKey(keyHex); err != nil {
			return nil, fmt.Errorf("KEYITEMS_ENCRYPTION_KEY: %w", err)
		}
	}

	backend, err := keychain.OpenBackend(ctx, opts)
	if errors.Is(err, keychain.ErrUnsupported) {
		return nil, fmt.Errorf("%w: choose another backend with --backend", err)
	}
	if err != nil {
		return nil, err
	}
	base := keychain.NewStore(backend, cfg.Service)

	auditor := audit.Discard()
	if cfg.AuditLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditLog), 0700); err != nil {
			base.Close()
			return nil, fmt.Errorf("creating audit dir: %w", err)
		}
		if auditor, err = audit.NewLogger(cfg.AuditLog); err != nil {
			base.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
	}

	// One metadata file per service.
	metaPath := ""
	if home := config.Home(); home != "" {
		if err := os.MkdirAll(home, 0700); err != nil {
			auditor.Close()
			base.Close()
			return nil, fmt.Errorf("creating home dir: %w", err)
		}
		metaPath = filepath.Join(home, "metadata-"+cfg.Service+".json")
	}
	metadata, err := keychain.NewMetadataStore(metaPath)
	if err != nil {
		auditor.Close()
		base.Close()
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	slog.Debug("store opened", "service", cfg.Service, "backend", cfg.Backend)
	return &app{
		cfg:     cfg,
		base:    base,
		store:   keychain.NewAuditedStore(base, auditor, metadata, surface+":"+username()),
		auditor: auditor,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.auditor.Close(), a.base.Close())
}

func username() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
