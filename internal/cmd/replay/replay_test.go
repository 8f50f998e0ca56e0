package replay

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/tether/internal/config"
	"github.com/Iron-Ham/tether/internal/console"
)

const demoScript = `# approval round trip
{"op":"session","session":"s1","dir":"/src/demo"}
{"op":"permission","session":"s1","request_id":"r1","tool":"Bash","input":{"command":"go test ./..."}}
{"op":"reply","session":"s1","text":"allow","actor":"alice"}
{"op":"output","session":"s1","text":"All tests pass.","final":true}
`

func setup(t *testing.T) {
	t.Helper()
	viper.Reset()
	config.SetDefaults()
	viper.Set("logging.enabled", false)
	t.Cleanup(viper.Reset)

	reset := func() {
		replayPlatform = console.Platform
		replayWidth = 80
		replayTyping, replayCalls, replayStats = false, false, false
	}
	reset()
	t.Cleanup(reset)
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func newTestCmd(stdin string) (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestRunReplay(t *testing.T) {
	setup(t)
	replayCalls = true
	replayStats = true

	cmd, buf := newTestCmd("")
	if err := runReplay(cmd, []string{writeScript(t, demoScript)}); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Bash",
		"All tests pass.",
		"> respond s1 r1 allow actor=alice",
		`tether_approvals_total{outcome="approved"}`,
		"Replay ended at",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunReplay_Stdin(t *testing.T) {
	setup(t)

	cmd, buf := newTestCmd(`{"op":"output","session":"s1","text":"from stdin","final":true}`)
	if err := runReplay(cmd, []string{"-"}); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(buf.String(), "from stdin") {
		t.Errorf("output = %q", buf.String())
	}
	if strings.Contains(buf.String(), "Replay ended at") {
		t.Error("stats printed without --stats")
	}
}

func TestRunReplay_InvalidScript(t *testing.T) {
	setup(t)

	cmd, _ := newTestCmd("")
	err := runReplay(cmd, []string{writeScript(t, `{"op":"teleport"}`)})
	if err == nil || !strings.Contains(err.Error(), "invalid script") {
		t.Errorf("runReplay() error = %v, want invalid script", err)
	}
}

func TestRunReplay_MissingFile(t *testing.T) {
	setup(t)

	cmd, _ := newTestCmd("")
	err := runReplay(cmd, []string{filepath.Join(t.TempDir(), "nope.jsonl")})
	if err == nil || !strings.Contains(err.Error(), "failed to open script") {
		t.Errorf("runReplay() error = %v", err)
	}
}

func TestRunReplay_StepErrors(t *testing.T) {
	setup(t)

	cmd, buf := newTestCmd("")
	script := `{"op":"reply","session":"ghost","text":"anyone?"}
{"op":"output","session":"s1","text":"still rendered","final":true}
`
	err := runReplay(cmd, []string{writeScript(t, script)})
	if err == nil || !strings.Contains(err.Error(), "replay finished with errors") {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(buf.String(), "still rendered") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunReplay_Platform(t *testing.T) {
	setup(t)
	replayPlatform = "slack"
	replayCalls = true

	cmd, buf := newTestCmd("")
	if err := runReplay(cmd, []string{writeScript(t, demoScript)}); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(buf.String(), "bound s1 slack:") {
		t.Errorf("session not bound on slack:\n%s", buf.String())
	}
}
