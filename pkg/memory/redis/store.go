// Package redis provides a Redis-backed [memory.SessionStore].
//
// The conversation is a single Redis list of JSON-encoded turns. RPUSH keeps
// insertion order, so the list order is the canonical chronological order.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/jessy/pkg/memory"
)

var _ memory.SessionStore = (*Store)(nil)

// DefaultKey is the list key used when none is configured.
const DefaultKey = "jessy:chats"

// Store keeps turns in a Redis list.
type Store struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// Option configures a [Store].
type Option func(*Store)

// WithKey sets the list key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithTTL expires the whole conversation after d without an append. The
// list is dropped as one key, never trimmed. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// New wraps client. The caller owns the client and closes it.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, key: DefaultKey}
	for _, o := range opts {
		o(s)
	}
	return s
}

type record struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Append implements [memory.SessionStore].
func (s *Store) Append(ctx context.Context, turn memory.Turn) error {
	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(record{Sender: string(turn.Speaker), Message: turn.Text, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("redis store: marshal turn: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: append to %s: %w", s.key, err)
	}
	return nil
}

// Recent implements [memory.SessionStore]. Without filtering only the tail
// of the list is fetched; with filtering the whole list is read so the
// window can be taken over the filtered set.
func (s *Store) Recent(ctx context.Context, n int, excludeDegraded bool) ([]memory.Turn, error) {
	if n <= 0 {
		return []memory.Turn{}, nil
	}
	start := int64(-n)
	if excludeDegraded {
		start = 0
	}
	turns, err := s.lrange(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("redis store: recent: %w", err)
	}
	return memory.Window(turns, n, excludeDegraded), nil
}

// List implements [memory.SessionStore].
func (s *Store) List(ctx context.Context) ([]memory.Turn, error) {
	turns, err := s.lrange(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("redis store: list: %w", err)
	}
	return turns, nil
}

// Clear implements [memory.SessionStore].
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis store: clear: %w", err)
	}
	return nil
}

func (s *Store) lrange(ctx context.Context, start int64) ([]memory.Turn, error) {
	vals, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", s.key, err)
	}
	turns := make([]memory.Turn, 0, len(vals))
	for _, v := range vals {
		var r record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue // skip malformed entries
		}
		turns = append(turns, memory.Turn{
			Speaker:   memory.Speaker(r.Sender),
			Text:      r.Message,
			CreatedAt: r.Timestamp,
		})
	}
	return turns, nil
}
