package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covenant/internal/adminaudit/models"
	"covenant/pkg/platform/sentinel"
)

var cols = []string{"id", "sequence", "admin_id", "action", "entity_type", "entity_id",
	"before_value", "after_value", "reason", "ip_address", "user_agent", "request_id",
	"timestamp", "previous_audit_hash", "audit_hash", "hash_version"}

func TestPostgresStore_LatestEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = NewPostgres(db).Latest(context.Background())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresStore_InsertReturnsSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO admin_audit_log")).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(42)))

	e := &models.Entry{ID: "a", AdminID: "admin", Action: "X", Timestamp: time.Now(), AuditHash: "h", HashVersion: "v1"}
	require.NoError(t, NewPostgres(db).Insert(context.Background(), e))
	assert.Equal(t, int64(42), e.Sequence)
}

func TestPostgresStore_ListBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE admin_id = $1 AND timestamp >= $2 ORDER BY timestamp DESC, sequence DESC LIMIT $3")).
		WithArgs("admin-1", from, 1000).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"a", int64(1), "admin-1", "RESOLVE_DISPUTE", "DISPUTE", "d-1",
			nil, []byte(`{"status":"APPROVED"}`), "ok", "10.0.0.1", "Mozilla/5.0", "req",
			now, nil, "hash", "v1",
		))

	entries, err := NewPostgres(db).List(context.Background(), models.ReportFilter{AdminID: "admin-1", From: from})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "", entries[0].PreviousAuditHash)
	assert.JSONEq(t, `{"status":"APPROVED"}`, string(entries[0].After))
}
