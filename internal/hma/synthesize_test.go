package hma

import (
	"context"
	"strings"
	"testing"

	xerrors "GatewayHMA/internal/errors"
	"GatewayHMA/internal/llm"
)

func TestSynthesizerPrompt(t *testing.T) {
	s := Synthesizer{Capabilities: "- task: Aufgaben"}
	prompt := s.Prompt("Was nun?", "vorher gesagt", "## PersonalAgent\nnotiz")

	order := []string{"Was nun?", "# Kontext\nvorher gesagt", "# Fähigkeiten\n- task: Aufgaben", "# Interner Zwischenstand\n## PersonalAgent\nnotiz", "# Deine Aufgabe als SOM", `<<<ROUTE>>> {"deliver_to":"user","args":{}} <<<END>>>`}
	last := -1
	for _, part := range order {
		idx := strings.Index(prompt, part)
		if idx < 0 {
			t.Fatalf("prompt misses %q:\n%s", part, prompt)
		}
		if idx <= last {
			t.Fatalf("prompt part %q out of order", part)
		}
		last = idx
	}
}

func TestSynthesizeSingleCall(t *testing.T) {
	calls := 0
	client := llm.ClientFunc(func(_ context.Context, system, _ string) (string, error) {
		calls++
		if system != DefaultSystemPrompt {
			t.Errorf("expected default system prompt, got %q", system)
		}
		return "Antwort", nil
	})

	text, err := Synthesizer{Client: client}.Synthesize(context.Background(), "frage", "", NoContributions)
	if err != nil || text != "Antwort" {
		t.Fatalf("unexpected result %q (%v)", text, err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestSynthesizeProviderFailures(t *testing.T) {
	cases := map[string]llm.Client{
		"error": llm.ClientFunc(func(context.Context, string, string) (string, error) { return "teilweise", errBoom }),
		"panic": llm.ClientFunc(func(context.Context, string, string) (string, error) { panic("provider down") }),
		"nil":   nil,
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			text, err := Synthesizer{Client: client}.Synthesize(context.Background(), "frage", "", "")
			if text != "" {
				t.Fatalf("expected empty text, got %q", text)
			}
			if xerrors.CodeOf(err) != CodeCompletionProvider || !xerrors.IsRecoverable(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
