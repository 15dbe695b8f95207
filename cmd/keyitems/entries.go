package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/keyitems/internal/keychain"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List keys in the service namespace",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.store.Keys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No entries stored")
			return nil
		}

		meta := a.store.Metadata()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tUPDATED\tROTATED")
		for _, k := range keys.Sorted() {
			updated, rotated := "-", "-"
			if m := meta.Get(k); m != nil {
				updated = formatTime(m.UpdatedAt)
				rotated = formatTime(m.LastRotated)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", k, updated, rotated)
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		val, ok, err := a.store.Get(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no entry for key %q", args[0])
		}
		os.Stdout.Write(val)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Println()
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a value under key",
	Long:  "Store a value. If value is omitted it is read from stdin, or prompted for on a terminal. An empty value deletes the entry.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		var value []byte
		if len(args) == 2 {
			value = []byte(args[1])
		} else {
			var err error
			if value, err = readValue(os.Stdin); err != nil {
				return err
			}
		}

		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Set(key, value); err != nil {
			return err
		}
		if len(value) == 0 {
			fmt.Printf("Entry %q deleted\n", key)
		} else {
			fmt.Printf("Entry %q stored\n", key)
		}
		return nil
	},
}

// readValue prompts for a hidden value when f is a terminal, otherwise reads
// all of f with one trailing newline removed.
func readValue(f *os.File) ([]byte, error) {
	if term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Enter value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading value: %w", err)
		}
		return b, nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return []byte(strings.TrimSuffix(string(b), "\n")), nil
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Short:   "Remove the entry for key",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Entry %q deleted\n", args[0])
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry in the service namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		if !clearYes {
			ok, err := confirm(fmt.Sprintf("Remove all entries for service %q?", a.cfg.Service))
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("aborted")
			}
		}
		if err := a.store.RemoveAll(); err != nil {
			return err
		}
		fmt.Printf("All entries for service %q removed\n", a.cfg.Service)
		return nil
	},
}

func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("refusing to clear without --yes when stdin is not a terminal")
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <key> <command>",
	Short: "Replace an entry with the output of a shell command",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Rotate(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Entry %q rotated\n", args[0])
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Add demonstration entries to an empty namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := keychain.Seed(a.store)
		if err != nil {
			return err
		}
		if !added {
			fmt.Println("Namespace not empty, nothing seeded")
			return nil
		}
		fmt.Printf("Seeded %d entries\n", len(keychain.SeedEntries))
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new encryption key for KEYITEMS_ENCRYPTION_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := keychain.GenerateSealKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(listCmd, getCmd, setCmd, deleteCmd, clearCmd, rotateCmd, seedCmd, keygenCmd)
}
