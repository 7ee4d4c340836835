package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/pokercoach/internal/movelog"
	"github.com/MrWong99/pokercoach/internal/movelog/postgres"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if POKERCOACH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POKERCOACH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POKERCOACH_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.NewStore(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_WriteAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := fmt.Sprintf("test-%d", time.Now().UnixNano())

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	moves := []poker.Move{
		{HandNumber: 1, Street: poker.StreetPreflop, Action: poker.ActionCall, Amount: 0.2,
			Equity: poker.Ptr(48.5), OptimalMove: poker.OptimalCall, Pot: poker.Ptr(0.3), ToCall: poker.Ptr(0.2), Timestamp: ts},
		{HandNumber: 1, Street: poker.StreetFlop, Action: poker.ActionRaise, Amount: 1,
			OptimalMove: poker.OptimalRaise, SuggestedRaise: poker.Ptr(0.5), Timestamp: ts.Add(time.Minute)},
	}
	for i, m := range moves {
		if err := store.WriteMove(ctx, session, i, m); err != nil {
			t.Fatalf("WriteMove(%d): %v", i, err)
		}
	}
	// Duplicate writes are ignored.
	if err := store.WriteMove(ctx, session, 0, moves[0]); err != nil {
		t.Fatalf("duplicate WriteMove: %v", err)
	}

	got, err := store.LoadMoves(ctx, session)
	if err != nil {
		t.Fatalf("LoadMoves: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Equity == nil || *got[0].Equity != 48.5 {
		t.Errorf("equity = %v, want 48.5", got[0].Equity)
	}
	if got[1].Equity != nil {
		t.Errorf("absent equity came back as %v", *got[1].Equity)
	}
	if got[1].SuggestedRaise == nil || *got[1].SuggestedRaise != 0.5 {
		t.Errorf("suggested raise = %v, want 0.5", got[1].SuggestedRaise)
	}
}

func TestStore_AsMoveLogSink(t *testing.T) {
	store := newTestStore(t)
	session := fmt.Sprintf("sink-%d", time.Now().UnixNano())

	log := movelog.New(movelog.WithSink(store), movelog.WithSession(session))
	log.Append(context.Background(), poker.Move{Street: poker.StreetTurn, Action: poker.ActionFold, OptimalMove: poker.OptimalFold})
	if err := log.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored := movelog.New(movelog.WithSession(session))
	n, err := restored.Restore(context.Background(), store)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 {
		t.Errorf("restored %d moves, want 1", n)
	}
}
