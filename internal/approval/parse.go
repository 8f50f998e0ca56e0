package approval

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Iron-Ham/tether/internal/errors"
)

// Timer values carried by a Decision besides a tool name.
const (
	TimerAll = "all"
	TimerDir = "dir"
)

// Decision is a parsed human reply to a permission request.
type Decision struct {
	Allow bool
	// Reason is the optional free text following a denial.
	Reason string
	// Timer is empty for a one-off decision, TimerAll or TimerDir for a
	// session-wide or directory-wide auto-approve window, or a tool name.
	Timer string
}

var allowWords = map[string]bool{
	"allow": true, "yes": true, "y": true, "ok": true,
	"approve": true, "proceed": true, "continue": true,
}

var denyWords = map[string]bool{
	"deny": true, "no": true, "n": true, "reject": true, "cancel": true,
}

// ParseApproval parses a free-text reply. Keywords are matched
// case-insensitively; a tool name after "allow" keeps its original case.
//
//	allow | yes | y | ok | approve | proceed | continue
//	allow all | allow dir | allow <Tool>
//	deny | no | n | reject | cancel  [[:,-] <reason>]
//
// Anything else returns a *errors.ParseError.
func ParseApproval(text string) (Decision, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Decision{}, errors.NewParseError(text, "empty reply")
	}

	word, rest := splitKeyword(trimmed)
	keyword := strings.ToLower(word)

	switch {
	case denyWords[keyword]:
		rest = strings.TrimLeft(rest, ":,- \t")
		return Decision{Allow: false, Reason: rest}, nil

	case allowWords[keyword]:
		if rest == "" {
			return Decision{Allow: true}, nil
		}
		if keyword != "allow" || strings.HasPrefix(rest, ":") {
			return Decision{}, errors.NewParseError(text, "unexpected text after "+keyword)
		}
		fields := strings.Fields(rest)
		if len(fields) != 1 {
			return Decision{}, errors.NewParseError(text, "expected one of: allow all, allow dir, allow <Tool>")
		}
		switch target := fields[0]; strings.ToLower(target) {
		case TimerAll:
			return Decision{Allow: true, Timer: TimerAll}, nil
		case TimerDir:
			return Decision{Allow: true, Timer: TimerDir}, nil
		default:
			return Decision{Allow: true, Timer: target}, nil
		}
	}

	return Decision{}, errors.NewParseError(text, "expected allow or deny")
}

// splitKeyword returns the leading run of letters and the trimmed remainder.
func splitKeyword(s string) (string, string) {
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}

// ParseChoice maps a reply to an index into options. The reply may be a
// 1-based number or a case-insensitive label. An exact label match wins;
// otherwise the reply must be a prefix of exactly one label. The returned
// index is 0-based.
func ParseChoice(text string, options []string) (int, error) {
	reply := strings.TrimSpace(text)
	if reply == "" {
		return 0, errors.NewParseError(text, "empty reply")
	}
	if len(options) == 0 {
		return 0, errors.NewParseError(text, "no options to choose from")
	}

	if n, err := strconv.Atoi(reply); err == nil {
		if n < 1 || n > len(options) {
			return 0, errors.NewParseError(text, "choose a number between 1 and "+strconv.Itoa(len(options)))
		}
		return n - 1, nil
	}

	lower := strings.ToLower(reply)
	labels := make([]string, len(options))
	for i, opt := range options {
		labels[i] = strings.ToLower(strings.TrimSpace(opt))
		if labels[i] == lower {
			return i, nil
		}
	}
	match := -1
	for i, label := range labels {
		if strings.HasPrefix(label, lower) {
			if match >= 0 {
				return 0, errors.NewParseError(text, "ambiguous choice")
			}
			match = i
		}
	}
	if match < 0 {
		return 0, errors.NewParseError(text, "no option matches")
	}
	return match, nil
}
