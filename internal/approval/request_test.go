package approval

import (
	"strings"
	"testing"
	"time"
)

func TestNewRequest_Permission(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := NewRequest("sess-1", "req-1", "Bash", map[string]any{"command": "ls"}, now)

	if req.Kind != KindPermission {
		t.Errorf("Kind = %q, want permission", req.Kind)
	}
	if req.Title != "Bash" || req.ToolName != "Bash" {
		t.Errorf("Title/ToolName = %q/%q", req.Title, req.ToolName)
	}
	if req.Description != `{"command":"ls"}` {
		t.Errorf("Description = %q", req.Description)
	}
	if len(req.Options) != 2 || req.Options[0] != "Allow" {
		t.Errorf("Options = %v", req.Options)
	}
	if !req.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", req.CreatedAt)
	}
}

func TestNewRequest_DefaultToolName(t *testing.T) {
	req := NewRequest("s", "r", "", nil, time.Time{})
	if req.Title != "Permission request" {
		t.Errorf("Title = %q", req.Title)
	}
	if req.Description != "" {
		t.Errorf("Description = %q, want empty for no input", req.Description)
	}
}

func TestNewRequest_Choice(t *testing.T) {
	input := map[string]any{
		"questions": []any{
			map[string]any{
				"header":   "Deploy target",
				"question": "Where should this go?",
				"options": []any{
					map[string]any{"label": "staging", "description": "safe"},
					"not a map",
					map[string]any{"label": ""},
					map[string]any{"label": "production"},
				},
			},
		},
	}

	req := NewRequest("s", "r", "AskUserQuestion", input, time.Time{})

	if req.Kind != KindChoice {
		t.Fatalf("Kind = %q, want choice", req.Kind)
	}
	if req.Title != "Deploy target" {
		t.Errorf("Title = %q", req.Title)
	}
	if len(req.Options) != 2 || req.Options[0] != "staging" || req.Options[1] != "production" {
		t.Errorf("Options = %v", req.Options)
	}
	want := "Where should this go?\n1. staging - safe\n4. production"
	if req.Description != want {
		t.Errorf("Description = %q, want %q", req.Description, want)
	}
}

func TestNewRequest_QuestionWithoutHeader(t *testing.T) {
	input := map[string]any{"questions": []any{map[string]any{"question": "Pick"}}}
	req := NewRequest("s", "r", "AskUserQuestionTool", input, time.Time{})
	if req.Title != "Question" {
		t.Errorf("Title = %q, want Question", req.Title)
	}
	if !strings.HasPrefix(req.Description, "Pick") {
		t.Errorf("Description = %q", req.Description)
	}
}

func TestNewRequest_MalformedQuestionsFallsBack(t *testing.T) {
	req := NewRequest("s", "r", "AskUserQuestion", map[string]any{"questions": "nope"}, time.Time{})
	if req.Kind != KindPermission {
		t.Errorf("Kind = %q, want permission fallback", req.Kind)
	}
}
