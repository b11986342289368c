package stt

import (
	"fmt"
	"strings"
	"time"
)

// DefaultConfidenceThreshold is the confidence below which a transcript is
// held for explicit confirmation.
const DefaultConfidenceThreshold = 0.7

// Result is a decoded utterance.
type Result struct {
	// Text is the segment texts joined by single spaces.
	Text string

	// Confidence is the decoder's confidence in [0, 1] for the first
	// segment. Nil means the decoder did not report one; such results are
	// accepted without gating.
	Confidence *float64

	// Segments holds the individual decoder segments, in order.
	Segments []Segment
}

// Segment is one decoder output span.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Verdict is the outcome of [Result.Gate].
type Verdict int

const (
	// VerdictAccept means the transcript can go to the responder.
	VerdictAccept Verdict = iota

	// VerdictLowConfidence means the transcript needs explicit
	// confirmation before it is used.
	VerdictLowConfidence

	// VerdictEmpty means nothing usable was heard.
	VerdictEmpty
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictLowConfidence:
		return "low_confidence"
	case VerdictEmpty:
		return "empty"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Gate classifies r against threshold. Blank text, or the decoder's "hold"
// filler on its own, counts as empty. A missing confidence never gates.
func (r Result) Gate(threshold float64) Verdict {
	t := strings.TrimSpace(r.Text)
	if t == "" || strings.EqualFold(t, "hold") {
		return VerdictEmpty
	}
	if r.Confidence != nil && *r.Confidence < threshold {
		return VerdictLowConfidence
	}
	return VerdictAccept
}

// JoinSegments concatenates trimmed segment texts with single spaces,
// skipping blank ones.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
