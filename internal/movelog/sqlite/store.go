// Package sqlite persists the move log in a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/pokercoach/internal/movelog"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

var (
	_ movelog.Sink   = (*Store)(nil)
	_ movelog.Loader = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS moves (
    session_id      TEXT    NOT NULL,
    seq             INTEGER NOT NULL,
    hand_number     INTEGER NOT NULL,
    street          TEXT    NOT NULL,
    action          TEXT    NOT NULL,
    amount          REAL    NOT NULL DEFAULT 0,
    equity          REAL,
    optimal_move    TEXT    NOT NULL,
    suggested_raise REAL,
    pot             REAL,
    to_call         REAL,
    recorded_at     INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);`

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Store is a SQLite-backed [movelog.Sink] and [movelog.Loader].
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("movelog sqlite: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("movelog sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("movelog sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("movelog sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WriteMove implements [movelog.Sink].
func (s *Store) WriteMove(ctx context.Context, session string, seq int, m poker.Move) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO moves (
		   session_id, seq, hand_number, street, action, amount, equity,
		   optimal_move, suggested_raise, pot, to_call, recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, seq, m.HandNumber, string(m.Street), string(m.Action), m.Amount,
		nullable(m.Equity), string(m.OptimalMove), nullable(m.SuggestedRaise),
		nullable(m.Pot), nullable(m.ToCall), toMillis(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("movelog sqlite: write move: %w", err)
	}
	return nil
}

// LoadMoves implements [movelog.Loader].
func (s *Store) LoadMoves(ctx context.Context, session string) ([]poker.Move, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hand_number, street, action, amount, equity, optimal_move,
		        suggested_raise, pot, to_call, recorded_at
		   FROM moves
		  WHERE session_id = ?
		  ORDER BY seq`, session)
	if err != nil {
		return nil, fmt.Errorf("movelog sqlite: load moves: %w", err)
	}
	defer rows.Close()

	var moves []poker.Move
	for rows.Next() {
		var (
			m                          poker.Move
			street, action, optimal    string
			equity, suggested, pot, tc sql.NullFloat64
			recorded                   int64
		)
		if err := rows.Scan(&m.HandNumber, &street, &action, &m.Amount, &equity,
			&optimal, &suggested, &pot, &tc, &recorded); err != nil {
			return nil, fmt.Errorf("movelog sqlite: scan move: %w", err)
		}
		m.Street = poker.Street(street)
		m.Action = poker.Action(action)
		m.OptimalMove = poker.OptimalMove(optimal)
		m.Equity = fromNull(equity)
		m.SuggestedRaise = fromNull(suggested)
		m.Pot = fromNull(pot)
		m.ToCall = fromNull(tc)
		m.Timestamp = fromMillis(recorded)
		moves = append(moves, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("movelog sqlite: iterate moves: %w", err)
	}
	return moves, nil
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
