// Package memory defines the conversation memory used by the Jessy responder.
//
// Memory is an ordered, append-only log of [Turn] values. The only mutation
// besides append is a full [SessionStore.Clear]. Readers take a bounded
// recency window through [SessionStore.Recent]; the responder uses that
// window as the context for each completion request.
//
// Backends live in sub-packages (inmem, postgres, redis). Every
// implementation must be safe for concurrent use, and Clear must act as a
// barrier: an Append that starts after Clear returns is never removed by it.
package memory

import "context"

// SessionStore is the conversation log shared by every pipeline stage that
// reads or writes history.
type SessionStore interface {
	// Append adds turn to the end of the log. Turns are immutable once
	// appended; insertion order is the canonical chronological order.
	Append(ctx context.Context, turn Turn) error

	// Recent returns at most n turns in chronological order (oldest first).
	// Selection happens over the filtered set: when excludeDegraded is true,
	// turns whose text carries a degraded marker are skipped before the
	// window is taken, so the result may still hold n entries.
	// n <= 0 returns an empty slice.
	Recent(ctx context.Context, n int, excludeDegraded bool) ([]Turn, error)

	// List returns the full log in chronological order.
	List(ctx context.Context) ([]Turn, error)

	// Clear removes every turn.
	Clear(ctx context.Context) error
}
