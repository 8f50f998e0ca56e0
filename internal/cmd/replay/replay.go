// Package replay provides the CLI command that renders a scripted agent
// session through the bridge stack.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/config"
	"github.com/Iron-Ham/tether/internal/console"
	"github.com/Iron-Ham/tether/internal/logging"
	"github.com/Iron-Ham/tether/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.jsonl>",
	Short: "Render a scripted session as the chat thread would show it",
	Long: `Replay a JSONL script of agent events and human replies through the
bridge and print the resulting threads to the terminal.

Each line of the script is one step. Agent-side steps (session, output,
permission, state, error, exit) go through the subscriber exactly as live
store events would. Human-side steps (reply, command) are routed as if a
person typed them in the thread. "advance" moves the fake clock forward
so buffered output and notification batches are released.

Pass "-" to read the script from stdin.

Examples:
  # Render a script with the configured bridge settings
  tether replay demo.jsonl

  # Show the host callbacks the bridge made
  tether replay demo.jsonl --calls

  # Render as a different platform name with typing indicators
  tether replay demo.jsonl --platform slack --typing`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayPlatform string
	replayWidth    int
	replayTyping   bool
	replayCalls    bool
	replayStats    bool
)

func init() {
	replayCmd.Flags().StringVarP(&replayPlatform, "platform", "p", console.Platform, "Platform name the console transport reports")
	replayCmd.Flags().IntVarP(&replayWidth, "width", "w", 0, "Wrap width (default: terminal width)")
	replayCmd.Flags().BoolVar(&replayTyping, "typing", false, "Show typing indicators")
	replayCmd.Flags().BoolVar(&replayCalls, "calls", false, "Print each host callback the bridge makes")
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print bridge counters when the replay ends")
}

// Register adds the replay command to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(replayCmd)
}

// terminalWidth returns the width of stdout, or console.DefaultWidth when
// stdout is not a terminal
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return console.DefaultWidth
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		return w
	}
	return console.DefaultWidth
}

// openScript opens the script path, treating "-" as stdin
func openScript(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	return f, nil
}

// newLogger builds the bridge logger from the logging section
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.LogDir(), cfg.Logging.Level, cfg.RotationConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	f, err := openScript(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	steps, err := replay.ParseScript(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("invalid script %s: %w", args[0], err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	width := replayWidth
	if width <= 0 {
		width = terminalWidth()
	}
	transport := console.New(out,
		console.WithPlatform(replayPlatform),
		console.WithWidth(width),
		console.WithTyping(replayTyping),
	)

	callStyle := lipgloss.NewRenderer(out).NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	opts := []replay.Option{
		replay.WithBridgeConfig(cfg.BridgeConfig()),
		replay.WithSubscriberConfig(cfg.SubscriberConfig()),
		replay.WithLogger(logger),
	}
	if replayCalls {
		opts = append(opts, replay.WithCallLog(func(call string) {
			fmt.Fprintln(out, callStyle.Render("  > "+call))
		}))
	}

	runner, err := replay.NewRunner([]bridge.Transport{transport}, opts...)
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	runErr := runner.Run(ctx, steps)

	if replayStats {
		if err := printStats(out, runner); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("replay finished with errors:\n%w", runErr)
	}
	return nil
}

// printStats writes the non-zero bridge counters
func printStats(w io.Writer, runner *replay.Runner) error {
	samples, err := runner.Metrics().Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Replay ended at %s\n", runner.Now().Format("15:04:05"))
	if len(samples) == 0 {
		fmt.Fprintln(w, "No counters recorded.")
		return nil
	}
	for _, s := range samples {
		fmt.Fprintf(w, "  %-50s %g\n", s.Name, s.Value)
	}
	return nil
}
