// Package inmem provides a process-local [memory.SessionStore].
//
// It is the default backend when no database is configured and the one used
// by tests. History is lost on restart.
package inmem

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/jessy/pkg/memory"
)

var _ memory.SessionStore = (*Store)(nil)

// Store is a mutex-guarded slice of turns. The zero value is ready to use.
type Store struct {
	mu    sync.Mutex
	turns []memory.Turn
	now   func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the clock used to stamp turns appended without a
// CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements [memory.SessionStore].
func (s *Store) Append(_ context.Context, turn memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.clock()
	}
	s.turns = append(s.turns, turn)
	return nil
}

// Recent implements [memory.SessionStore].
func (s *Store) Recent(_ context.Context, n int, excludeDegraded bool) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memory.Window(s.turns, n, excludeDegraded), nil
}

// List implements [memory.SessionStore].
func (s *Store) List(_ context.Context) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.turns)
	if out == nil {
		out = []memory.Turn{}
	}
	return out, nil
}

// Clear implements [memory.SessionStore].
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	return nil
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
