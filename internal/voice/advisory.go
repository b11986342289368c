package voice

import (
	"strconv"
)

// AdvisoryKind classifies a user-facing hint produced during a voice turn.
type AdvisoryKind string

const (
	// AdvisoryTooQuiet means the capture peak never reached the quiet
	// threshold.
	AdvisoryTooQuiet AdvisoryKind = "too_quiet"

	// AdvisoryNotHeard means the transcript was empty or only filler.
	AdvisoryNotHeard AdvisoryKind = "not_heard"

	// AdvisoryLowConfidence means the transcript is held until accepted.
	AdvisoryLowConfidence AdvisoryKind = "low_confidence"

	// AdvisoryRecognitionFailed means the decoder failed.
	AdvisoryRecognitionFailed AdvisoryKind = "recognition_failed"

	// AdvisorySpeechFailed means the reply could not be synthesized. The
	// text reply is still delivered.
	AdvisorySpeechFailed AdvisoryKind = "speech_failed"
)

// Advisory is a message shown to the user instead of, or next to, a reply.
type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`
}

func tooQuiet() Advisory {
	return Advisory{
		Kind:    AdvisoryTooQuiet,
		Message: "Your microphone input is too quiet. Speak louder or closer to the microphone.",
	}
}

func notHeard() Advisory {
	return Advisory{
		Kind:    AdvisoryNotHeard,
		Message: "I didn't catch that clearly. Please speak louder, closer to the microphone, or try a quieter environment.",
	}
}

func lowConfidence(text string, confidence float64) Advisory {
	pct := strconv.FormatFloat(confidence*100, 'f', 1, 64)
	return Advisory{
		Kind: AdvisoryLowConfidence,
		Message: "Transcription \"" + text + "\" has low confidence (" + pct +
			"%). Please speak clearly or try a quieter environment.",
	}
}

func recognitionFailed(err error) Advisory {
	return Advisory{
		Kind:    AdvisoryRecognitionFailed,
		Message: "Speech recognition failed: " + err.Error() + ". Please try again in a quiet environment.",
	}
}

func speechFailed(err error) Advisory {
	return Advisory{
		Kind:    AdvisorySpeechFailed,
		Message: "Failed to generate speech: " + err.Error() + ". Please try again.",
	}
}
