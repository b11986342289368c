package responder

import (
	"strings"

	"github.com/MrWong99/jessy/pkg/memory"
)

// DefaultPersona is the instruction that opens every rendered prompt.
const DefaultPersona = "You are Jessy, a friendly and helpful assistant. Respond naturally and " +
	"conversationally to the user's input, avoiding technical error messages or repeating the " +
	"user's prompt unless necessary. Use the following conversation history for context:"

// RenderPrompt builds the single user message sent to the completion
// backend:
//
//	<persona>
//
//	<Speaker>: <text>
//	…
//
//	You: <prompt>
//	Jessy:
//
// The history block is empty, not omitted, when window has no turns. The
// function is pure.
func RenderPrompt(persona string, window []memory.Turn, prompt string) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n")
	for i, t := range window {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(t.Speaker))
		sb.WriteString(": ")
		sb.WriteString(t.Text)
	}
	sb.WriteString("\n\n")
	sb.WriteString(string(memory.SpeakerUser))
	sb.WriteString(": ")
	sb.WriteString(prompt)
	sb.WriteByte('\n')
	sb.WriteString(string(memory.SpeakerAssistant))
	sb.WriteByte(':')
	return sb.String()
}

// FallbackReply is the canned reply used when the backend answer is
// degraded or echoes the prompt.
func FallbackReply(prompt string) string {
	return "⚠️ Jessy is temporarily unavailable due to server overload. " +
		"Please try again in a few minutes.\n\nYou said: \"" + prompt + "\""
}
