package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/keyitems/internal/api"
	"github.com/benaskins/keyitems/internal/keychain"
	"github.com/benaskins/keyitems/internal/tui"
)

func daemonClient() (*api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewUnixClient(cfg.SocketPath), nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and what it serves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := daemonClient()
		if err != nil {
			return err
		}
		if err := client.Health(cmd.Context()); err != nil {
			return err
		}
		kl, err := client.Keys(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Daemon running, service %q, %d entries\n", kl.Service, len(kl.Keys))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print key-set changes reported by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := daemonClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = client.Events(ctx, func(c keychain.Change) {
			fmt.Fprintf(os.Stdout, "%s\t%s\n", c.Kind, c.Key)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent key-set changes recorded by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := daemonClient()
		if err != nil {
			return err
		}
		events, err := client.Changes(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No changes recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCHANGE\tKEY")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", formatTime(e.Time), e.Kind, e.Key)
		}
		return w.Flush()
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse and edit entries interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, "tui")
		if err != nil {
			return err
		}
		defer a.Close()

		// Log output would draw over the alternate screen.
		if flagLogLevel == "" {
			if err := setupLogger("error"); err != nil {
				return err
			}
		}

		// Pick up edits made by other processes while browsing.
		watcher := keychain.NewWatcher(a.base, keychain.WatchPath(a.cfg.Backend, a.cfg.DataDir), a.cfg.PollInterval)
		go watcher.Run(ctx)

		return tui.Run(ctx, a.store)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of changes to show, -1 for all")

	rootCmd.AddCommand(statusCmd, watchCmd, historyCmd, browseCmd)
}
