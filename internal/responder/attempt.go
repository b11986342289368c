package responder

import "time"

// Outcome classifies a single completion attempt.
type Outcome int

const (
	// OutcomeSuccess is a 2xx answer without degraded markers.
	OutcomeSuccess Outcome = iota + 1

	// OutcomeLowQuality is a 2xx answer containing a degraded marker.
	OutcomeLowQuality

	// OutcomeTransportError is a failed call (network, non-2xx, timeout).
	OutcomeTransportError
)

// String returns the outcome name used in logs and metric attributes.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeLowQuality:
		return "low_quality"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Attempt records one completion call.
type Attempt struct {
	// Number is 1-based.
	Number   int
	Outcome  Outcome
	Text     string
	Err      error
	Duration time.Duration
}

// TransportFailureText is the result text when the final attempt fails at
// the transport level. It contains a degraded marker, so it always ends in
// the fallback reply.
const TransportFailureText = "Service temporarily unavailable"

// EmptyCompletionText replaces a successful completion with no content.
const EmptyCompletionText = "No response generated."

// step is the retry state machine:
//
//	Attempting(n) ─ success ────────────────────────► Success
//	              ─ low quality, n < max ───────────► Retry(n+1)
//	              ─ low quality, n = max ───────────► Success (text accepted as-is)
//	              ─ transport error, n < max ───────► Retry(n+1)
//	              ─ transport error, n = max ───────► Exhausted
type step int

const (
	stepRetry step = iota
	stepDone
	stepExhausted
)

func next(a Attempt, maxAttempts int) step {
	last := a.Number >= maxAttempts
	switch a.Outcome {
	case OutcomeSuccess:
		return stepDone
	case OutcomeLowQuality:
		if last {
			return stepDone
		}
		return stepRetry
	default:
		if last {
			return stepExhausted
		}
		return stepRetry
	}
}
