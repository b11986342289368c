package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jessy/pkg/memory"
)

var _ memory.SessionStore = (*Store)(nil)

// Store is the PostgreSQL conversation log. All methods are safe for
// concurrent use; ordering between concurrent writers follows the id
// sequence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks that the database is still reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements [memory.SessionStore].
func (s *Store) Append(ctx context.Context, turn memory.Turn) error {
	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `INSERT INTO chats (sender, message, timestamp) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, string(turn.Speaker), turn.Text, ts); err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// Recent implements [memory.SessionStore]. The degraded filter and the limit
// run in SQL, newest first, and the rows are reversed into chronological
// order.
func (s *Store) Recent(ctx context.Context, n int, excludeDegraded bool) ([]memory.Turn, error) {
	if n <= 0 {
		return []memory.Turn{}, nil
	}

	q := `SELECT sender, message, timestamp FROM chats`
	args := []any{n}
	if excludeDegraded {
		conds := make([]string, 0, len(memory.DegradedMarkers))
		for _, m := range memory.DegradedMarkers {
			args = append(args, m)
			conds = append(conds, fmt.Sprintf("message NOT ILIKE '%%' || $%d || '%%'", len(args)))
		}
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// List implements [memory.SessionStore].
func (s *Store) List(ctx context.Context) ([]memory.Turn, error) {
	rows, err := s.pool.Query(ctx, `SELECT sender, message, timestamp FROM chats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return turns, nil
}

// Clear implements [memory.SessionStore].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chats`); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t      memory.Turn
			sender string
		)
		if err := row.Scan(&sender, &t.Text, &t.CreatedAt); err != nil {
			return memory.Turn{}, err
		}
		t.Speaker = memory.Speaker(sender)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}
