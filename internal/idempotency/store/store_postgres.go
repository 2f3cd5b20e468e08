package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"covenant/internal/idempotency/models"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
)

// PostgresStore persists idempotency records in idempotency_keys. The primary
// key on key is what enforces execute-once across processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Find(ctx context.Context, key string) (*models.Record, error) {
	query := `
		SELECT key, user_id, operation, result_data, result_hash, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1
	`
	var rec models.Record
	var data []byte
	err := s.execer(ctx).QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.UserID, &rec.Operation, &data, &rec.ResultHash, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}
	rec.ResultData = data
	return &rec, nil
}

// Insert writes rec. An expired row under the same key is replaced; a live
// one yields sentinel.ErrDuplicate.
func (s *PostgresStore) Insert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO idempotency_keys (key, user_id, operation, result_data, result_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			operation = EXCLUDED.operation,
			result_data = EXCLUDED.result_data,
			result_hash = EXCLUDED.result_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		rec.Key, rec.UserID, rec.Operation, []byte(rec.ResultData), rec.ResultHash, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", sentinel.FromPostgres(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	if n == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return n, nil
}
