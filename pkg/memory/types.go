package memory

import (
	"strings"
	"time"
)

// Speaker identifies who produced a [Turn].
type Speaker string

const (
	// SpeakerUser is the human side of the conversation.
	SpeakerUser Speaker = "You"

	// SpeakerAssistant is Jessy.
	SpeakerAssistant Speaker = "Jessy"
)

// IsValid reports whether s is one of the known speakers.
func (s Speaker) IsValid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Turn is a single utterance in the conversation log.
type Turn struct {
	// Speaker is who said it.
	Speaker Speaker

	// Text is the utterance as stored. Assistant turns may hold a fallback
	// notice instead of a model reply.
	Text string

	// CreatedAt is the instant the turn was appended. Backends fill it in
	// when the caller leaves it zero.
	CreatedAt time.Time
}

// DegradedMarkers are the lower-case substrings that flag a turn as a
// service-failure notice rather than real conversation.
var DegradedMarkers = []string{"unavailable", "offline"}

// IsDegraded reports whether text contains one of [DegradedMarkers],
// ignoring case.
func IsDegraded(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range DegradedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsDegraded reports whether the turn text carries a degraded marker.
func (t Turn) IsDegraded() bool { return IsDegraded(t.Text) }

// Window applies the Recent selection rule to an in-order slice of turns.
// Backends that cannot push the filter down to storage use it directly.
func Window(turns []Turn, n int, excludeDegraded bool) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	out := make([]Turn, 0, n)
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if excludeDegraded && turns[i].IsDegraded() {
			continue
		}
		out = append(out, turns[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
