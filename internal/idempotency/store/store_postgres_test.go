package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covenant/internal/idempotency/models"
	"covenant/pkg/platform/sentinel"
)

func TestPostgresStore_Find(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgres(db)
	now := time.Now().UTC()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM idempotency_keys")).
			WithArgs("k1").
			WillReturnRows(sqlmock.NewRows([]string{"key", "user_id", "operation", "result_data", "result_hash", "created_at", "expires_at"}).
				AddRow("k1", "u1", "create_dispute", []byte(`{"id":"d1"}`), "abc", now, now.Add(time.Hour)))

		rec, err := store.Find(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, "create_dispute", rec.Operation)
		assert.JSONEq(t, `{"id":"d1"}`, string(rec.ResultData))
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM idempotency_keys")).
			WithArgs("k2").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Find(context.Background(), "k2")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLiveConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgres(db).Insert(context.Background(), &models.Record{
		Key: "k1", CreatedAt: now, ExpiresAt: now.Add(time.Hour), ResultData: []byte(`{}`),
	})
	assert.True(t, errors.Is(err, sentinel.ErrDuplicate))
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_keys WHERE expires_at < $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewPostgres(db).DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
