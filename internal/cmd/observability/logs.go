package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tether/internal/config"
	"github.com/Iron-Ham/tether/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View bridge logs",
	Long: `View and filter the bridge log.

The log is written as JSON lines to tether.log in the configured logging
directory. Use flags to narrow it down to one session, platform or thread.

Examples:
  # Show the last 50 lines
  tether logs

  # Show everything logged for one session
  tether logs -s 7f3a9c -n 0

  # Follow the log in real-time
  tether logs -f

  # Only warnings and errors from the slack bridge
  tether logs --platform slack --level warn

  # Show logs from the last hour
  tether logs --since 1h

  # Search for specific patterns
  tether logs --grep "transport|denied"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsPlatform  string
	logsThreadID  string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
)

func init() {
	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only show entries for this session ID")
	logsCmd.Flags().StringVarP(&logsPlatform, "platform", "p", "", "Only show entries for this platform")
	logsCmd.Flags().StringVarP(&logsThreadID, "thread", "t", "", "Only show entries for this thread ID")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// RegisterLogsCmd registers the logs command with the given parent command.
func RegisterLogsCmd(parent *cobra.Command) {
	parent.AddCommand(logsCmd)
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Extra     map[string]any `json:"-"`
}

// knownFields are the keys decoded into logEntry's named fields
var knownFields = []string{"time", "level", "msg", "session_id", "platform", "thread_id", "component"}

// UnmarshalJSON captures fields the logger adds beyond the known attributes
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

// logFilter holds the parsed command-line filters
type logFilter struct {
	minLevel  int
	since     time.Time
	grep      *regexp.Regexp
	sessionID string
	platform  string
	threadID  string
}

func newLogFilter(now time.Time) (*logFilter, error) {
	f := &logFilter{
		minLevel:  -1,
		sessionID: logsSessionID,
		platform:  logsPlatform,
		threadID:  logsThreadID,
	}
	if logsLevel != "" {
		f.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return nil, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = now.Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return nil, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}
	return f, nil
}

// passes checks if a log entry passes all filter criteria
func (f *logFilter) passes(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.sessionID != "" && entry.SessionID != f.sessionID {
		return false
	}
	if f.platform != "" && entry.Platform != f.platform {
		return false
	}
	if f.threadID != "" && entry.ThreadID != f.threadID {
		return false
	}

	// Grep searches the message and extra fields
	if f.grep != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}

// logStyles colors the formatted output
type logStyles struct {
	time   lipgloss.Style
	levels map[string]lipgloss.Style
	key    lipgloss.Style
}

func newLogStyles(w io.Writer) logStyles {
	r := lipgloss.NewRenderer(w)
	return logStyles{
		time: r.NewStyle().Foreground(lipgloss.Color("8")),
		levels: map[string]lipgloss.Style{
			logging.LevelDebug: r.NewStyle().Foreground(lipgloss.Color("8")),
			logging.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("4")),
			logging.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("3")),
			logging.LevelError: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
		key: r.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

// format renders a log entry for terminal output
func (s logStyles) format(entry *logEntry) string {
	var sb strings.Builder

	level := strings.ToUpper(entry.Level)
	levelStyle, ok := s.levels[level]
	if !ok {
		levelStyle = lipgloss.NewStyle()
	}

	sb.WriteString(s.time.Render("[" + entry.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle.Render("[" + level + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	for _, kv := range [][2]string{
		{"component", entry.Component},
		{"platform", entry.Platform},
		{"session_id", entry.SessionID},
		{"thread_id", entry.ThreadID},
	} {
		if kv[1] != "" {
			sb.WriteString(" ")
			sb.WriteString(s.key.Render(kv[0] + "=" + kv[1]))
		}
	}

	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(s.key.Render(k + "="))
		sb.WriteString(fmt.Sprintf("%v", entry.Extra[k]))
	}

	return sb.String()
}

// renderLine formats one raw log line, reporting false if it is filtered out.
// Lines that are not JSON are passed through unchanged.
func renderLine(line string, f *logFilter, s logStyles) (string, bool) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !f.passes(&entry) {
		return "", false
	}
	return s.format(&entry), true
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()
	logPath := filepath.Join(cfg.LogDir(), logging.FileName)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No logs found.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		return nil
	}

	filter, err := newLogFilter(time.Now())
	if err != nil {
		return err
	}
	styles := newLogStyles(out)

	if logsFollow {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, out, logPath, filter, styles)
	}

	return displayLogs(out, logPath, logsTail, filter, styles)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(out io.Writer, logPath string, tail int, f *logFilter, s logStyles) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if rendered, ok := renderLine(line, f, s); ok {
			entries = append(entries, rendered)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}

	for _, entry := range entries {
		fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior for the log file until ctx is done
func followLogs(ctx context.Context, out io.Writer, logPath string, f *logFilter, s logStyles) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("error reading log file: %w", err)
		}
		partial += chunk
		if err == io.EOF {
			// No complete line yet
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}

		line := strings.TrimSpace(partial)
		partial = ""
		if line == "" {
			continue
		}
		if rendered, ok := renderLine(line, f, s); ok {
			fmt.Fprintln(out, rendered)
		}
	}
}
