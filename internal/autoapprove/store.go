// Package autoapprove holds time-boxed auto-approve rules. A rule is scoped
// to a session and tool, to a whole session, or to a working directory, and
// lets matching permission requests through without prompting the human
// until it expires.
package autoapprove

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/tether/internal/clock"
)

// DefaultWindow is how long a rule stays active unless configured otherwise.
const DefaultWindow = 30 * time.Minute

// ScopeKind identifies what a rule covers.
type ScopeKind int

const (
	// ScopeTool covers one tool in one session.
	ScopeTool ScopeKind = iota
	// ScopeSession covers every tool in one session.
	ScopeSession
	// ScopeDirectory covers every session working in a directory or below it.
	ScopeDirectory
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeTool:
		return "tool"
	case ScopeSession:
		return "session"
	case ScopeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Scope is the key of a rule. Use the constructors so that unused fields
// stay empty; two scopes are the same rule only if every field matches.
type Scope struct {
	Kind      ScopeKind
	SessionID string
	Tool      string
	Directory string
}

// ToolScope covers tool in session.
func ToolScope(sessionID, tool string) Scope {
	return Scope{Kind: ScopeTool, SessionID: sessionID, Tool: tool}
}

// SessionScope covers every tool in session.
func SessionScope(sessionID string) Scope {
	return Scope{Kind: ScopeSession, SessionID: sessionID}
}

// DirectoryScope covers dir and all of its subdirectories.
func DirectoryScope(dir string) Scope {
	return Scope{Kind: ScopeDirectory, Directory: cleanDir(dir)}
}

// Label is the human-readable name of the rule, used in notifications.
func (s Scope) Label() string {
	switch s.Kind {
	case ScopeTool:
		return "Allow " + s.Tool
	case ScopeSession:
		return "Allow All"
	default:
		return "Allow dir " + filepath.Base(s.Directory)
	}
}

// Rule is an active auto-approve rule.
type Rule struct {
	Scope     Scope
	ExpiresAt time.Time
}

type entry struct {
	expiresAt time.Time
	subtree   glob.Glob
}

// neverAutoApprove lists tools that always need a human, compared
// case-insensitively.
var neverAutoApprove = map[string]bool{
	"task":          true,
	"enterplanmode": true,
	"exitplanmode":  true,
}

// Store holds auto-approve rules. Expiry is evaluated lazily: an expired
// rule fails its next check and is evicted then. It is safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock
	rules map[Scope]entry
}

// New creates an empty Store. A nil clock uses the real clock.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{clock: c, rules: make(map[Scope]entry)}
}

// Set creates or replaces the rule for exactly this scope, expiring d from
// now. Rules at other scopes are left alone.
func (s *Store) Set(scope Scope, d time.Duration) time.Time {
	e := entry{expiresAt: s.clock.Now().Add(d)}
	if scope.Kind == ScopeDirectory {
		scope.Directory = cleanDir(scope.Directory)
		e.subtree = compileSubtree(scope.Directory)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[scope] = e
	return e.expiresAt
}

// Check returns the most specific active rule matching a request for tool
// in sessionID, whose working directory is directory (may be empty). The
// order is tool rule, then session rule, then directory rule; among
// directory rules the deepest directory wins.
func (s *Store) Check(sessionID, tool, directory string) (Rule, bool) {
	if neverAutoApprove[strings.ToLower(tool)] {
		return Rule{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	for _, scope := range []Scope{ToolScope(sessionID, tool), SessionScope(sessionID)} {
		if rule, ok := s.activeLocked(scope, now); ok {
			return rule, true
		}
	}

	if directory == "" {
		return Rule{}, false
	}
	dir := cleanDir(directory)

	var candidates []Scope
	for scope := range s.rules {
		if scope.Kind == ScopeDirectory {
			candidates = append(candidates, scope)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].Directory) > len(candidates[j].Directory)
	})
	for _, scope := range candidates {
		e := s.rules[scope]
		if scope.Directory != dir && (e.subtree == nil || !e.subtree.Match(dir)) {
			continue
		}
		if rule, ok := s.activeLocked(scope, now); ok {
			return rule, true
		}
	}
	return Rule{}, false
}

// activeLocked returns the rule at scope if it has not expired, evicting it
// otherwise.
func (s *Store) activeLocked(scope Scope, now time.Time) (Rule, bool) {
	e, ok := s.rules[scope]
	if !ok {
		return Rule{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.rules, scope)
		return Rule{}, false
	}
	return Rule{Scope: scope, ExpiresAt: e.expiresAt}, true
}

// Rules returns the active rules that apply to a session (tool and session
// scopes), soonest expiry first.
func (s *Store) Rules(sessionID string) []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var out []Rule
	for scope := range s.rules {
		if scope.SessionID != sessionID {
			continue
		}
		if rule, ok := s.activeLocked(scope, now); ok {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// ClearSession removes every tool and session rule for a session.
// Directory rules are shared across sessions and survive.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for scope := range s.rules {
		if scope.SessionID == sessionID {
			delete(s.rules, scope)
		}
	}
}

// Len returns the number of stored rules, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

func cleanDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir)
}

// compileSubtree matches any path strictly below dir.
func compileSubtree(dir string) glob.Glob {
	prefix := strings.TrimSuffix(dir, "/")
	g, err := glob.Compile(glob.QuoteMeta(prefix)+"/**", '/')
	if err != nil {
		return nil
	}
	return g
}
