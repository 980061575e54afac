package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
	CREATE TABLE IF NOT EXISTS settlements (
		id          UUID PRIMARY KEY,
		request_id  TEXT NOT NULL,
		route       TEXT NOT NULL,
		payer       TEXT NOT NULL,
		network     TEXT NOT NULL,
		amount      NUMERIC NOT NULL,
		transaction TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// EnsureSchema creates the settlements table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create settlements table: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSettlement(ctx context.Context, st *Settlement) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}

	query := `
		INSERT INTO settlements (id, request_id, route, payer, network, amount, transaction)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		st.ID, st.RequestID, st.Route, st.Payer, st.Network, st.Amount, st.Transaction,
	).Scan(&st.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record settlement: %w", err)
	}

	return nil
}
