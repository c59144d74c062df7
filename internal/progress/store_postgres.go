package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Repository. Documents live in the
// learning_progress table as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed progress store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (*Document, error) {
	doc := &Document{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT document, version, updated_at
		 FROM learning_progress
		 WHERE user_id = $1`,
		userID,
	).Scan(&doc.Data, &doc.Version, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) Save(ctx context.Context, userID string, data []byte, expectedVersion int64) (int64, error) {
	var version int64
	var err error
	if expectedVersion == 0 {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO learning_progress (user_id, document, version, updated_at)
			 VALUES ($1, $2::jsonb, 1, NOW())
			 ON CONFLICT (user_id) DO NOTHING
			 RETURNING version`,
			userID,
			string(data),
		).Scan(&version)
	} else {
		err = s.pool.QueryRow(ctx,
			`UPDATE learning_progress
			 SET document = $2::jsonb, version = version + 1, updated_at = NOW()
			 WHERE user_id = $1 AND version = $3
			 RETURNING version`,
			userID,
			string(data),
			expectedVersion,
		).Scan(&version)
	}
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("save progress: %w", err)
	}

	current, err := s.currentVersion(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, &VersionConflictError{Expected: expectedVersion, Current: current}
}

func (s *PostgresStore) currentVersion(ctx context.Context, userID string) (int64, error) {
	var current int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM learning_progress WHERE user_id = $1`,
		userID,
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("read progress version: %w", err)
	}
	return current, nil
}

// HealthCheck verifies the database connection is alive.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}
