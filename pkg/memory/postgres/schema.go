// Package postgres provides a PostgreSQL-backed [memory.SessionStore].
//
// Turns are kept in a single chats table keyed by a monotonically
// increasing id, which is the canonical conversation order. [Migrate] creates
// the table if it is missing.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, memory.Turn{Speaker: memory.SpeakerUser, Text: "hi"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChats = `
CREATE TABLE IF NOT EXISTS chats (
    id        BIGSERIAL    PRIMARY KEY,
    sender    TEXT         NOT NULL,
    message   TEXT         NOT NULL,
    timestamp TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate applies the schema to the database reachable through pool. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChats); err != nil {
		return fmt.Errorf("postgres migrate: chats: %w", err)
	}
	return nil
}
