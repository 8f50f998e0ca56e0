// Package console is a bridge transport that renders threads to a terminal
// or any io.Writer. It backs the replay command and serves as the reference
// implementation of bridge.Transport and its optional capabilities.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Iron-Ham/tether/internal/bridge"
	"github.com/Iron-Ham/tether/internal/util"
)

// Platform is the default platform name.
const Platform = "console"

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 100

// Interface checks.
var (
	_ bridge.Transport       = (*Transport)(nil)
	_ bridge.PromptSender    = (*Transport)(nil)
	_ bridge.TypingIndicator = (*Transport)(nil)
	_ bridge.MessageLimiter  = (*Transport)(nil)
)

// Thread describes a thread the transport created.
type Thread struct {
	ID        string
	SessionID string
	Name      string
	Messages  int
}

// Transport writes every thread to one writer, prefixing messages with
// the thread name.
type Transport struct {
	mu       sync.Mutex
	w        io.Writer
	platform string
	width    int
	maxLen   int
	typing   bool
	threads  map[string]*Thread
	newID    func() string
	styles   styles
}

type styles struct {
	thread lipgloss.Style
	id     lipgloss.Style
	body   lipgloss.Style
	muted  lipgloss.Style
	prompt lipgloss.Style
	title  lipgloss.Style
	option lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	var (
		primary = lipgloss.Color("#A78BFA")
		warning = lipgloss.Color("#F59E0B")
		muted   = lipgloss.Color("#9CA3AF")
		border  = lipgloss.Color("#6B7280")
	)
	return styles{
		thread: r.NewStyle().Bold(true).Foreground(primary),
		id:     r.NewStyle().Foreground(muted),
		body:   r.NewStyle().PaddingLeft(2),
		muted:  r.NewStyle().Foreground(muted).Italic(true).PaddingLeft(2),
		prompt: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1).
			MarginLeft(2),
		title:  r.NewStyle().Bold(true).Foreground(warning),
		option: r.NewStyle().Foreground(primary),
	}
}

// Option configures a Transport.
type Option func(*Transport)

// WithPlatform overrides the platform name.
func WithPlatform(name string) Option {
	return func(t *Transport) { t.platform = name }
}

// WithWidth sets the render width in columns.
func WithWidth(cols int) Option {
	return func(t *Transport) {
		if cols > 0 {
			t.width = cols
		}
	}
}

// WithMaxMessageLen sets the size cap reported to the bridge. Zero
// disables splitting.
func WithMaxMessageLen(n int) Option {
	return func(t *Transport) { t.maxLen = n }
}

// WithTyping prints typing indicators.
func WithTyping(show bool) Option {
	return func(t *Transport) { t.typing = show }
}

// WithIDGenerator replaces the uuid thread ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(t *Transport) { t.newID = fn }
}

// New creates a Transport writing to w.
func New(w io.Writer, opts ...Option) *Transport {
	t := &Transport{
		w:        w,
		platform: Platform,
		width:    DefaultWidth,
		maxLen:   4000,
		threads:  make(map[string]*Thread),
		newID:    uuid.NewString,
		styles:   newStyles(lipgloss.NewRenderer(w)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Platform implements bridge.Transport.
func (t *Transport) Platform() string { return t.platform }

// MaxMessageLen implements bridge.MessageLimiter.
func (t *Transport) MaxMessageLen() int { return t.maxLen }

// CreateThread implements bridge.Transport.
func (t *Transport) CreateThread(_ context.Context, sessionID, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.newID()
	if _, exists := t.threads[id]; exists {
		return "", fmt.Errorf("console: duplicate thread id %s", id)
	}
	t.threads[id] = &Thread{ID: id, SessionID: sessionID, Name: name}
	t.writeLocked(t.headerLocked(id) + " " + t.styles.id.Render("thread opened"))
	return id, nil
}

// Send implements bridge.Transport. Threads the transport did not create
// (a command issued from a plain channel) are shown by ID.
func (t *Transport) Send(_ context.Context, threadID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if th, ok := t.threads[threadID]; ok {
		th.Messages++
	}
	lines := []string{t.headerLocked(threadID)}
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, t.styles.body.Render(t.fit(line, 2)))
	}
	t.writeLocked(strings.Join(lines, "\n"))
	return nil
}

// SendPrompt implements bridge.PromptSender. Options are numbered; the
// human answers with a reply like any other.
func (t *Transport) SendPrompt(_ context.Context, threadID string, p bridge.Prompt) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if th, ok := t.threads[threadID]; ok {
		th.Messages++
	}
	inner := t.width - 6
	var body []string
	body = append(body, t.styles.title.Render(util.TruncateString(p.Title, inner)))
	for _, line := range strings.Split(strings.TrimSpace(p.Body), "\n") {
		if line != "" {
			body = append(body, util.TruncateANSI(line, inner))
		}
	}
	if len(p.Options) > 0 {
		opts := make([]string, len(p.Options))
		for i, o := range p.Options {
			opts[i] = t.styles.option.Render(fmt.Sprintf("[%d] %s", i+1, o))
		}
		body = append(body, "", strings.Join(opts, "  "))
	}
	box := t.styles.prompt.Render(strings.Join(body, "\n"))
	t.writeLocked(t.headerLocked(threadID) + "\n" + box)
	return nil
}

// SendTyping implements bridge.TypingIndicator.
func (t *Transport) SendTyping(_ context.Context, threadID string) error {
	if !t.typing {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLocked(t.styles.muted.Render(t.nameLocked(threadID) + " is typing..."))
	return nil
}

// Threads returns the threads created so far, ordered by name.
func (t *Transport) Threads() []Thread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Thread, 0, len(t.threads))
	for _, th := range t.threads {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *Transport) nameLocked(threadID string) string {
	if th, ok := t.threads[threadID]; ok {
		return th.Name
	}
	return threadID
}

func (t *Transport) headerLocked(threadID string) string {
	name := t.styles.thread.Render("# " + t.nameLocked(threadID))
	if _, ok := t.threads[threadID]; !ok {
		return name
	}
	return name + " " + t.styles.id.Render(shortID(threadID))
}

// fit truncates a line to the render width minus indent.
func (t *Transport) fit(line string, indent int) string {
	return util.TruncateANSI(line, t.width-indent)
}

func (t *Transport) writeLocked(s string) {
	_, _ = io.WriteString(t.w, s+"\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
