package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-progress/internal/platform/sqlite"
)

// SQLiteStore is a SQLite-backed Repository for single-node deployments.
type SQLiteStore struct {
	db *sqlite.DB
}

// NewSQLiteStore creates a SQLite-backed progress store. The schema must be migrated.
func NewSQLiteStore(db *sqlite.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db is nil")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (*Document, error) {
	doc := &Document{UserID: userID}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version, updated_at FROM learning_progress WHERE user_id = ?`,
		userID,
	).Scan(&data, &doc.Version, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	doc.Data = []byte(data)
	return doc, nil
}

func (s *SQLiteStore) Save(ctx context.Context, userID string, data []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO learning_progress (user_id, document, version, updated_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, string(data), now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE learning_progress
			 SET document = ?, version = version + 1, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			string(data), now, userID, expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("save progress: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save progress: %w", err)
	}
	if n == 1 {
		return expectedVersion + 1, nil
	}

	var current int64
	err = s.db.QueryRowContext(ctx,
		`SELECT version FROM learning_progress WHERE user_id = ?`, userID,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read progress version: %w", err)
	}
	return 0, &VersionConflictError{Expected: expectedVersion, Current: current}
}

// HealthCheck verifies the database file is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
