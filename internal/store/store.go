// Package store keeps known identities and attendance in PostgreSQL with pgvector.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Store manages the PostgreSQL pool. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Identity summarizes the templates enrolled under one name.
type Identity struct {
	ID        int
	Name      string
	Count     int
	CreatedAt time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS known_identities_name_idx ON known_identities (name);
		CREATE TABLE IF NOT EXISTS attendance (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			day DATE NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			UNIQUE (name, day)
		);
	`, types.EncodingDim)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func toVector(enc types.FaceEncoding) pgvector.Vector {
	vec := make([]float32, len(enc))
	for i, v := range enc {
		vec[i] = float32(v)
	}
	return pgvector.NewVector(vec)
}

// AddIdentities inserts templates in order within one transaction.
func (s *Store) AddIdentities(ctx context.Context, ids []encodings.KnownIdentity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		if _, err := tx.Exec(ctx,
			"INSERT INTO known_identities (name, embedding) VALUES ($1, $2)",
			id.Name, toVector(id.Encoding)); err != nil {
			return fmt.Errorf("inserting %q: %w", id.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadEncodings reads every template ordered by insertion, preserving the
// matcher's first-in-store-order tie-break across processes.
func (s *Store) LoadEncodings(ctx context.Context) (*encodings.Store, error) {
	rows, err := s.pool.Query(ctx, "SELECT name, embedding FROM known_identities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := encodings.New()
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, err
		}
		enc, err := encodings.FromSlice(float32To64(vec.Slice()))
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", name, err)
		}
		if err := out.Add(name, enc); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func float32To64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// ListIdentities returns one row per name with the number of templates enrolled.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT MIN(id), name, COUNT(*), MIN(created_at)
		FROM known_identities
		GROUP BY name
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Identity, error) {
		var id Identity
		err := row.Scan(&id.ID, &id.Name, &id.Count, &id.CreatedAt)
		return id, err
	})
}

// Record implements attendance.Recorder with one row per (name, day).
func (s *Store) Record(ctx context.Context, name string, at time.Time) (bool, error) {
	if !attendance.Recordable(name) {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (name, day, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, day) DO NOTHING
	`, name, at.Local().Format(attendance.DateLayout), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List implements attendance.Lister.
func (s *Store) List(ctx context.Context, day time.Time) ([]attendance.Record, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT name, recorded_at FROM attendance WHERE day = $1 ORDER BY recorded_at, id",
		day.Local().Format(attendance.DateLayout))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (attendance.Record, error) {
		var rec attendance.Record
		err := row.Scan(&rec.Name, &rec.Time)
		return rec, err
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendance CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
	`)
	return err
}
