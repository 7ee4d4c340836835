// Package postgres persists the move log in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	log := movelog.New(movelog.WithSink(store))
//	defer log.Close(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/pokercoach/internal/movelog"
	"github.com/MrWong99/pokercoach/pkg/poker"
)

var (
	_ movelog.Sink   = (*Store)(nil)
	_ movelog.Loader = (*Store)(nil)
)

const ddlMoves = `
CREATE TABLE IF NOT EXISTS moves (
    session_id      TEXT             NOT NULL,
    seq             INTEGER          NOT NULL,
    hand_number     INTEGER          NOT NULL,
    street          TEXT             NOT NULL,
    action          TEXT             NOT NULL,
    amount          DOUBLE PRECISION NOT NULL DEFAULT 0,
    equity          DOUBLE PRECISION,
    optimal_move    TEXT             NOT NULL,
    suggested_raise DOUBLE PRECISION,
    pot             DOUBLE PRECISION,
    to_call         DOUBLE PRECISION,
    recorded_at     TIMESTAMPTZ      NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_moves_recorded_at ON moves (recorded_at);
`

// Migrate creates the moves table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMoves); err != nil {
		return fmt.Errorf("migrate moves: %w", err)
	}
	return nil
}

// Store is a [movelog.Sink] and [movelog.Loader] backed by a pgx pool.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("movelog postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("movelog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("movelog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("movelog postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable. Used as a readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WriteMove implements [movelog.Sink]. Re-writing an existing (session, seq)
// pair is ignored so a retried append cannot duplicate a move.
func (s *Store) WriteMove(ctx context.Context, session string, seq int, m poker.Move) error {
	const q = `
		INSERT INTO moves
		    (session_id, seq, hand_number, street, action, amount, equity,
		     optimal_move, suggested_raise, pot, to_call, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, seq) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		session,
		seq,
		m.HandNumber,
		string(m.Street),
		string(m.Action),
		m.Amount,
		m.Equity,
		string(m.OptimalMove),
		m.SuggestedRaise,
		m.Pot,
		m.ToCall,
		m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("movelog postgres: write move: %w", err)
	}
	return nil
}

// LoadMoves implements [movelog.Loader]. Moves are returned in append order.
func (s *Store) LoadMoves(ctx context.Context, session string) ([]poker.Move, error) {
	const q = `
		SELECT hand_number, street, action, amount, equity, optimal_move,
		       suggested_raise, pot, to_call, recorded_at
		FROM   moves
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, session)
	if err != nil {
		return nil, fmt.Errorf("movelog postgres: load moves: %w", err)
	}
	moves, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (poker.Move, error) {
		var (
			m                       poker.Move
			street, action, optimal string
		)
		if err := row.Scan(
			&m.HandNumber,
			&street,
			&action,
			&m.Amount,
			&m.Equity,
			&optimal,
			&m.SuggestedRaise,
			&m.Pot,
			&m.ToCall,
			&m.Timestamp,
		); err != nil {
			return poker.Move{}, err
		}
		m.Street = poker.Street(street)
		m.Action = poker.Action(action)
		m.OptimalMove = poker.OptimalMove(optimal)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("movelog postgres: scan moves: %w", err)
	}
	return moves, nil
}
