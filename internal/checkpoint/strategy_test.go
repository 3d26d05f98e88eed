package checkpoint

import (
	"strings"
	"testing"
)

func TestShouldCheckpoint(t *testing.T) {
	prompt := Event{Kind: EventPromptSubmitted, Prompt: "fix the login bug"}
	edit := Event{Kind: EventToolInvoked, ToolCategory: ToolEdit, FilesTouched: []string{"main.go"}, LinesChanged: 10}
	firstEdit := edit
	firstEdit.FirstSincePrompt = true
	del := Event{Kind: EventToolInvoked, ToolCategory: ToolDelete, FilesTouched: []string{"a.go", "b.go"}}
	read := Event{Kind: EventToolInvoked, ToolCategory: ToolRead}
	manual := Event{Kind: EventManualRequest}

	tests := []struct {
		name     string
		strategy Strategy
		event    Event
		want     bool
		desc     string
	}{
		{"manual ignores prompts", StrategyManual, prompt, false, ""},
		{"manual ignores tools", StrategyManual, edit, false, ""},
		{"manual fires on request", StrategyManual, manual, true, "Manual checkpoint"},
		{"per prompt fires on prompt", StrategyPerPrompt, prompt, true, "Prompt: fix the login bug"},
		{"per prompt ignores tools", StrategyPerPrompt, edit, false, ""},
		{"per tool use fires on tool", StrategyPerToolUse, edit, true, "edit main.go"},
		{"per tool use ignores prompts", StrategyPerToolUse, prompt, false, ""},
		{"smart ignores plain edit", StrategySmart, edit, false, ""},
		{"smart fires on first tool after prompt", StrategySmart, firstEdit, true, "Start of work: edit main.go"},
		{"smart fires on delete", StrategySmart, del, true, "Before risky change: delete 2 files"},
		{"smart ignores read", StrategySmart, read, false, ""},
		{"smart ignores prompts", StrategySmart, prompt, false, ""},
		{"smart fires on request", StrategySmart, manual, true, "Manual checkpoint"},
		{"unknown strategy never fires", Strategy("bogus"), manual, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, desc := ShouldCheckpoint(tt.strategy, tt.event)
			if got != tt.want {
				t.Errorf("ShouldCheckpoint() = %v, want %v", got, tt.want)
			}
			if desc != tt.desc {
				t.Errorf("description = %q, want %q", desc, tt.desc)
			}
		})
	}
}

func TestEvaluatorSmartPolicy(t *testing.T) {
	e := NewEvaluator(SmartPolicy{
		LineThreshold:         50,
		DestructiveCategories: []ToolCategory{ToolShell},
	})

	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{"small edit", Event{Kind: EventToolInvoked, ToolCategory: ToolEdit, LinesChanged: 50}, false},
		{"large edit", Event{Kind: EventToolInvoked, ToolCategory: ToolEdit, LinesChanged: 51}, true},
		{"large write", Event{Kind: EventToolInvoked, ToolCategory: ToolWrite, LinesChanged: 200}, true},
		{"large read is not a change", Event{Kind: EventToolInvoked, ToolCategory: ToolRead, LinesChanged: 200}, false},
		{"configured destructive category", Event{Kind: EventToolInvoked, ToolCategory: ToolShell}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, desc := e.ShouldCheckpoint(StrategySmart, tt.event)
			if got != tt.want {
				t.Errorf("ShouldCheckpoint() = %v, want %v", got, tt.want)
			}
			if got && !strings.HasPrefix(desc, "Before risky change") {
				t.Errorf("description = %q", desc)
			}
		})
	}

	// A zero threshold disables the size trigger
	if got, _ := ShouldCheckpoint(StrategySmart, Event{Kind: EventToolInvoked, ToolCategory: ToolEdit, LinesChanged: 10000}); got {
		t.Error("empty policy fired on line count")
	}
}

func TestEvaluatorIsPure(t *testing.T) {
	e := NewEvaluator(SmartPolicy{})
	ev := Event{Kind: EventToolInvoked, ToolCategory: ToolEdit, FirstSincePrompt: true}
	for i := 0; i < 3; i++ {
		if got, _ := e.ShouldCheckpoint(StrategySmart, ev); !got {
			t.Fatalf("call %d: ShouldCheckpoint() = false", i)
		}
	}
}

func TestPromptDescription(t *testing.T) {
	if got := promptDescription("   "); got != "User prompt" {
		t.Errorf("empty prompt = %q", got)
	}
	if got := promptDescription("a\n\tb"); got != "Prompt: a b" {
		t.Errorf("whitespace = %q", got)
	}
	long := strings.Repeat("é", 100)
	got := promptDescription(long)
	if r := []rune(strings.TrimPrefix(got, "Prompt: ")); len(r) != 61 {
		t.Errorf("truncated prompt has %d runes, want 61", len(r))
	}
}

func TestActivity(t *testing.T) {
	var a Activity

	ev := a.Observe(Event{Kind: EventToolInvoked})
	if ev.FirstSincePrompt {
		t.Error("tool before any prompt marked first")
	}

	a.Observe(Event{Kind: EventPromptSubmitted, Prompt: "go"})
	if a.MessageIndex != 1 || a.LastPrompt != "go" {
		t.Errorf("after prompt: %+v", a)
	}
	if ev := a.Observe(Event{Kind: EventToolInvoked}); !ev.FirstSincePrompt {
		t.Error("first tool after prompt not marked")
	}
	if ev := a.Observe(Event{Kind: EventToolInvoked}); ev.FirstSincePrompt {
		t.Error("second tool after prompt marked first")
	}

	a.Observe(Event{Kind: EventPromptSubmitted})
	a.Checkpointed()
	if ev := a.Observe(Event{Kind: EventToolInvoked}); ev.FirstSincePrompt {
		t.Error("tool after a checkpoint marked first")
	}
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategyManual, StrategyPerPrompt, StrategyPerToolUse, StrategySmart} {
		if !s.Valid() {
			t.Errorf("%s not valid", s)
		}
	}
	if Strategy("auto").Valid() {
		t.Error("auto should not be valid")
	}
}
