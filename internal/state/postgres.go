package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps snapshots as JSONB rows, one per environment.
// Schema: migrations/001_create_build_states.sql.
type PostgresStore struct {
	db    *pgxpool.Pool
	table string
}

// NewPostgresStore returns a store writing to table. The table name comes from
// validated configuration and is quoted as an identifier.
func NewPostgresStore(db *pgxpool.Pool, table string) *PostgresStore {
	if db == nil {
		panic("state: database pool cannot be nil")
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, environment string) (*Snapshot, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE environment = $1`, s.table)

	var data []byte
	err := s.db.QueryRow(ctx, query, environment).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of %q: %w", environment, err)
	}
	return Decode(data)
}

// Save implements Store with an upsert keyed on environment.
func (s *PostgresStore) Save(ctx context.Context, environment string, snapshot *Snapshot) error {
	data, err := Encode(snapshot)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (environment, revision, snapshot, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (environment) DO UPDATE
		SET revision = EXCLUDED.revision,
		    snapshot = EXCLUDED.snapshot,
		    updated_at = NOW()
	`, s.table)

	if _, err := s.db.Exec(ctx, query, environment, snapshot.Revision, data); err != nil {
		var pgErr *pgconn.PgError
		// 42P01: undefined_table
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return fmt.Errorf("state table %s does not exist, run the migrations: %w", s.table, err)
		}
		return fmt.Errorf("failed to save state of %q: %w", environment, err)
	}
	return nil
}
