package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/keyitems/internal/api"
	"github.com/benaskins/keyitems/internal/keychain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keyitems daemon",
	Long:  "Serve the store over the local API and publish changes made by other processes to event subscribers.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveAPIAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAPIAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, "api")
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	slog.Info("keyitems daemon starting", "service", cfg.Service, "backend", cfg.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	if cfg.Seed {
		added, err := keychain.Seed(a.store)
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
		if added {
			slog.Info("seeded empty namespace", "entries", len(keychain.SeedEntries))
		}
	}

	watcher := keychain.NewWatcher(a.base, keychain.WatchPath(cfg.Backend, cfg.DataDir), cfg.PollInterval)
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher stopped", "error", err)
		}
	}()

	socketPath := cfg.SocketPath
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(ctx, a.store, cfg.RateLimit)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	addr := serveAPIAddr
	if addr == "" {
		addr = cfg.APIAddr
	}
	if addr != "" {
		go func() {
			if err := srv.ListenTCP(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("keyitems daemon ready")

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}

	// Drain in-flight requests before cancelling the watcher and event streams.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	cancel()
	os.Remove(socketPath)

	slog.Info("keyitems daemon stopped")
	return nil
}
