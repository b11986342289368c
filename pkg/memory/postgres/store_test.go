package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/jessy/pkg/memory"
	"github.com/MrWong99/jessy/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if JESSY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("JESSY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JESSY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] over an empty chats table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS chats"); err != nil {
		t.Fatalf("drop chats: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_RecentOrderAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, txt := range []string{"a", "b", "Service temporarily unavailable", "c", "OFFLINE again", "d"} {
		if err := store.Append(ctx, memory.Turn{Speaker: memory.SpeakerUser, Text: txt}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Recent(ctx, 3, true)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d turns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("turn[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}

	all, err := store.Recent(ctx, 2, false)
	if err != nil {
		t.Fatalf("Recent unfiltered: %v", err)
	}
	if all[0].Text != "OFFLINE again" || all[1].Text != "d" {
		t.Errorf("unfiltered window = %+v", all)
	}
}

func TestStore_ClearAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Append(ctx, memory.Turn{Speaker: memory.SpeakerUser, Text: "hello"})
	_ = store.Append(ctx, memory.Turn{Speaker: memory.SpeakerAssistant, Text: "hi"})

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].Speaker != memory.SpeakerAssistant {
		t.Fatalf("List = %+v", list)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := store.Recent(ctx, 5, false)
	if len(got) != 0 {
		t.Errorf("expected empty after Clear, got %d", len(got))
	}
}
