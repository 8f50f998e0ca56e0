// Package threads provides CLI commands for inspecting and editing the
// persisted session to thread bindings.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tether/internal/binding"
	"github.com/Iron-Ham/tether/internal/config"
	"github.com/Iron-Ham/tether/internal/threadstate"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage session thread bindings",
	Long: `Commands for listing and removing the session to thread bindings the
bridges persist in the configured storage backend.`,
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bound sessions",
	Long: `List every session bound to a chat thread.

With --watch the list is printed again whenever the binding file changes
(json backend only). Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runThreadsList,
}

var threadsUnbindCmd = &cobra.Command{
	Use:   "unbind <session-id>",
	Short: "Release a session's thread",
	Long: `Remove a session's thread binding from storage. The next event for the
session opens a new thread.

A running bridge keeps its in-memory binding until it restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: runThreadsUnbind,
}

var (
	listPlatform string
	listJSON     bool
	listWatch    bool
)

func init() {
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsUnbindCmd)

	threadsListCmd.Flags().StringVarP(&listPlatform, "platform", "p", "", "Only show bindings on this platform")
	threadsListCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	threadsListCmd.Flags().BoolVarP(&listWatch, "watch", "w", false, "Reprint when the binding file changes")
}

// Register adds all thread-related commands to the given parent command.
// This is the main entry point for integrating the threads subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(threadsCmd)
}

// openStore opens the configured binding store
func openStore(cfg *config.Config) (threadstate.Store, error) {
	store, err := threadstate.Open(cfg.Storage.Backend, cfg.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open binding store: %w", err)
	}
	return store, nil
}

// bindingRow is one line of the list output
type bindingRow struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
	ThreadID  string `json:"thread_id"`
}

func rows(all map[string]binding.Thread, platform string) []bindingRow {
	out := make([]bindingRow, 0, len(all))
	for id, t := range all {
		if platform != "" && t.Platform != platform {
			continue
		}
		out = append(out, bindingRow{SessionID: id, Platform: t.Platform, ThreadID: t.ID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

func printBindings(w io.Writer, all map[string]binding.Thread, platform string, asJSON bool) error {
	list := rows(all, platform)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No bound sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPLATFORM\tTHREAD")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.SessionID, r.Platform, r.ThreadID)
	}
	return tw.Flush()
}

func runThreadsList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !listWatch {
		all, err := store.LoadBindings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load bindings: %w", err)
		}
		return printBindings(out, all, listPlatform, listJSON)
	}

	js, ok := store.(*threadstate.JSONStore)
	if !ok {
		return fmt.Errorf("--watch needs the json storage backend (configured: %s)", cfg.Storage.Backend)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Watching %s... (Ctrl+C to stop)\n\n", js.Path())
	return threadstate.Watch(ctx, js, func(all map[string]binding.Thread) {
		if err := printBindings(out, all, listPlatform, listJSON); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "print bindings: %v\n", err)
		}
		fmt.Fprintln(out)
	})
}

func runThreadsUnbind(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := config.Get()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reg := binding.NewRegistry(binding.WithPersister(store))
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("failed to load bindings: %w", err)
	}

	thread, ok, err := reg.Unbind(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to unbind session %s: %w", sessionID, err)
	}
	if !ok {
		return fmt.Errorf("session %s is not bound to a thread", sessionID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Unbound session %s from %s thread %s\n", sessionID, thread.Platform, thread.ID)
	return nil
}
