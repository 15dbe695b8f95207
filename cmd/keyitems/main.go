package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "keyitems",
	Short:         "Keychain-backed key/value store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(flagLogLevel)
	},
}

var (
	flagConfig   string
	flagService  string
	flagBackend  string
	flagDataDir  string
	flagLogLevel string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default ~/.keyitems/config.yaml)")
	pf.StringVar(&flagService, "service", "", "Keychain service namespace")
	pf.StringVar(&flagBackend, "backend", "", "Storage backend: keychain, sqlite, badger (one process at a time) or memory")
	pf.StringVar(&flagDataDir, "data-dir", "", "Data directory for file backends")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// setupLogger installs a tint handler on stderr as the default logger. An
// empty level falls back to KEYITEMS_LOG_LEVEL, then info.
func setupLogger(level string) error {
	if level == "" {
		level = os.Getenv("KEYITEMS_LOG_LEVEL")
	}
	lvl := slog.LevelInfo
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	fd := os.Stderr.Fd()
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		NoColor:    !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd),
		TimeFormat: "2006-01-02 15:04:05.000",
	}))
	slog.SetDefault(logger)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
