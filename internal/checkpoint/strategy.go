// internal/checkpoint/strategy.go
package checkpoint

import (
	"fmt"
	"strings"
)

// EventKind identifies a session lifecycle event
type EventKind string

const (
	EventPromptSubmitted EventKind = "prompt_submitted"
	EventToolInvoked     EventKind = "tool_invoked"
	EventManualRequest   EventKind = "manual_request"
)

// ToolCategory classifies what a tool invocation did to the project
type ToolCategory string

const (
	ToolRead   ToolCategory = "read"
	ToolEdit   ToolCategory = "edit"
	ToolWrite  ToolCategory = "write"
	ToolDelete ToolCategory = "delete"
	ToolShell  ToolCategory = "shell"
)

// Event is one observed session event
type Event struct {
	Kind         EventKind    `json:"kind"`
	ToolCategory ToolCategory `json:"tool_category,omitempty"`
	FilesTouched []string     `json:"files_touched,omitempty"`
	LinesChanged int          `json:"lines_changed,omitempty"`
	Prompt       string       `json:"prompt,omitempty"`

	// FirstSincePrompt is set by Activity for the first tool event after a
	// prompt with no checkpoint in between.
	FirstSincePrompt bool `json:"first_since_prompt,omitempty"`
}

// SmartPolicy holds the host-configured constants of the smart strategy.
// A zero LineThreshold disables the size trigger.
type SmartPolicy struct {
	LineThreshold         int            `json:"line_threshold" yaml:"line_threshold"`
	DestructiveCategories []ToolCategory `json:"destructive_categories" yaml:"destructive_categories"`
}

// Evaluator decides whether an event should produce a checkpoint
type Evaluator struct {
	Policy SmartPolicy
}

// NewEvaluator creates an evaluator for the given smart policy
func NewEvaluator(policy SmartPolicy) *Evaluator {
	return &Evaluator{Policy: policy}
}

// ShouldCheckpoint evaluates event under strategy with an empty smart policy
func ShouldCheckpoint(strategy Strategy, event Event) (bool, string) {
	return (&Evaluator{}).ShouldCheckpoint(strategy, event)
}

// ShouldCheckpoint returns whether event triggers a checkpoint under strategy
// and the description to record. It has no side effects.
func (e *Evaluator) ShouldCheckpoint(strategy Strategy, event Event) (bool, string) {
	switch strategy {
	case StrategyManual:
		if event.Kind == EventManualRequest {
			return true, "Manual checkpoint"
		}
	case StrategyPerPrompt:
		if event.Kind == EventPromptSubmitted {
			return true, promptDescription(event.Prompt)
		}
	case StrategyPerToolUse:
		if event.Kind == EventToolInvoked {
			return true, toolDescription(event)
		}
	case StrategySmart:
		switch event.Kind {
		case EventManualRequest:
			return true, "Manual checkpoint"
		case EventToolInvoked:
			if e.isDestructive(event) {
				return true, "Before risky change: " + toolDescription(event)
			}
			if event.FirstSincePrompt {
				return true, "Start of work: " + toolDescription(event)
			}
		}
	}
	return false, ""
}

func (e *Evaluator) isDestructive(event Event) bool {
	if event.ToolCategory == ToolDelete {
		return true
	}
	for _, c := range e.Policy.DestructiveCategories {
		if c == event.ToolCategory {
			return true
		}
	}
	if e.Policy.LineThreshold > 0 && modifiesFiles(event.ToolCategory) {
		return event.LinesChanged > e.Policy.LineThreshold
	}
	return false
}

func modifiesFiles(c ToolCategory) bool {
	return c == ToolEdit || c == ToolWrite
}

func promptDescription(prompt string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if prompt == "" {
		return "User prompt"
	}
	const max = 60
	if r := []rune(prompt); len(r) > max {
		prompt = string(r[:max]) + "…"
	}
	return "Prompt: " + prompt
}

func toolDescription(event Event) string {
	category := event.ToolCategory
	if category == "" {
		category = "tool"
	}
	switch n := len(event.FilesTouched); n {
	case 0:
		return string(category)
	case 1:
		return fmt.Sprintf("%s %s", category, event.FilesTouched[0])
	default:
		return fmt.Sprintf("%s %d files", category, n)
	}
}

// Activity tracks per-session event history needed to fill Event fields the
// pure evaluator depends on.
type Activity struct {
	armed        bool
	MessageIndex int
	LastPrompt   string
}

// Observe records event and returns it with FirstSincePrompt filled in
func (a *Activity) Observe(event Event) Event {
	switch event.Kind {
	case EventPromptSubmitted:
		a.armed = true
		a.MessageIndex++
		a.LastPrompt = event.Prompt
	case EventToolInvoked:
		event.FirstSincePrompt = a.armed
		a.armed = false
	}
	return event
}

// Checkpointed disarms the first-tool trigger after a capture
func (a *Activity) Checkpointed() {
	a.armed = false
}

// Rearm restores the first-tool trigger after a capture it fired failed
func (a *Activity) Rearm() {
	a.armed = true
}
