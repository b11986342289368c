package responder

import (
	"strings"
	"testing"

	"github.com/MrWong99/jessy/pkg/memory"
)

func TestRenderPrompt(t *testing.T) {
	window := []memory.Turn{
		{Speaker: memory.SpeakerUser, Text: "Hi"},
		{Speaker: memory.SpeakerAssistant, Text: "Hello! How can I help?"},
	}
	got := RenderPrompt("PERSONA", window, "What's up?")
	want := "PERSONA\n\nYou: Hi\nJessy: Hello! How can I help?\n\nYou: What's up?\nJessy:"
	if got != want {
		t.Errorf("RenderPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderPrompt_EmptyWindow(t *testing.T) {
	got := RenderPrompt(DefaultPersona, nil, "Hello")
	want := DefaultPersona + "\n\n\n\nYou: Hello\nJessy:"
	if got != want {
		t.Errorf("RenderPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestFallbackReply(t *testing.T) {
	got := FallbackReply("Hello")
	if !strings.HasPrefix(got, "⚠️ Jessy is temporarily unavailable due to server overload.") {
		t.Errorf("unexpected prefix: %q", got)
	}
	if !strings.HasSuffix(got, "\n\nYou said: \"Hello\"") {
		t.Errorf("unexpected suffix: %q", got)
	}
	if !memory.IsDegraded(got) {
		t.Error("fallback reply must be excluded from future context windows")
	}
}
