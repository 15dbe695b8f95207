package keychain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names accepted by OpenBackend.
const (
	BackendKeychain = "keychain"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Backends lists every backend name OpenBackend understands.
var Backends = []string{BackendKeychain, BackendBadger, BackendSQLite, BackendMemory}

// OpenOptions selects and configures a backend.
type OpenOptions struct {
	Kind    string
	DataDir string
	// SealKey, when set, seals data at rest for the file backends.
	SealKey *[sealKeySize]byte
}

// OpenBackend opens the backend named by opts.Kind.
func OpenBackend(ctx context.Context, opts OpenOptions) (Backend, error) {
	logger := slog.With("component", "keychain", "backend", opts.Kind)

	var (
		b   Backend
		err error
	)
	switch opts.Kind {
	case BackendKeychain:
		return NewSystemBackend()
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendBadger:
		dir := filepath.Join(opts.DataDir, "badger")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating badger dir: %w", err)
		}
		b, err = OpenBadger(dir)
		if err != nil {
			// Badger locks its directory, so a running daemon excludes the CLI.
			return nil, fmt.Errorf("opening badger backend (single process only, use sqlite to share with a running daemon): %w", err)
		}
	case BackendSQLite:
		if err := os.MkdirAll(opts.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		b, err = OpenSQLite(ctx, SQLitePath(opts.DataDir))
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", opts.Kind, err)
	}

	if opts.SealKey == nil {
		logger.Warn("no encryption key configured, entries are stored unsealed", "data_dir", opts.DataDir)
		return b, nil
	}
	logger.Debug("sealing entries at rest")
	return NewSealedBackend(b, opts.SealKey), nil
}

// SQLitePath returns the database file used by the sqlite backend.
func SQLitePath(dataDir string) string {
	return filepath.Join(dataDir, "keyitems.db")
}

// WatchPath returns the directory whose writes signal changes made by other
// processes, or "" when the backend has none to watch.
func WatchPath(kind, dataDir string) string {
	if kind == BackendSQLite {
		return dataDir
	}
	return ""
}
