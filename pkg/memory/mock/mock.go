// Package mock provides a recording test double for [memory.SessionStore].
//
// Unlike the inmem backend, the mock lets tests inject failures and inspect
// every call. It still keeps appended turns so that Recent and List behave
// like a real store unless a canned result is configured.
//
//	store := &mock.SessionStore{AppendErr: errors.New("disk full")}
//	// inject store into the system under test …
//	if got := store.CallCount("Append"); got != 2 { … }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/jessy/pkg/memory"
)

var _ memory.SessionStore = (*SessionStore)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// SessionStore is a configurable test double for [memory.SessionStore].
type SessionStore struct {
	mu    sync.Mutex
	calls []Call
	turns []memory.Turn

	// AppendErr is returned by Append when non-nil; the turn is not kept.
	AppendErr error

	// RecentResult, when non-nil, replaces the computed window.
	RecentResult []memory.Turn

	// RecentErr is returned by Recent when non-nil.
	RecentErr error

	// ListErr is returned by List when non-nil.
	ListErr error

	// ClearErr is returned by Clear when non-nil.
	ClearErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Turns returns a copy of every successfully appended turn.
func (m *SessionStore) Turns() []memory.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.turns)
}

// Append implements [memory.SessionStore].
func (m *SessionStore) Append(_ context.Context, turn memory.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{turn}})
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.turns = append(m.turns, turn)
	return nil
}

// Recent implements [memory.SessionStore].
func (m *SessionStore) Recent(_ context.Context, n int, excludeDegraded bool) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{n, excludeDegraded}})
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	if m.RecentResult != nil {
		return slices.Clone(m.RecentResult), nil
	}
	return memory.Window(m.turns, n, excludeDegraded), nil
}

// List implements [memory.SessionStore].
func (m *SessionStore) List(_ context.Context) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "List"})
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := slices.Clone(m.turns)
	if out == nil {
		out = []memory.Turn{}
	}
	return out, nil
}

// Clear implements [memory.SessionStore].
func (m *SessionStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Clear"})
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.turns = nil
	return nil
}
