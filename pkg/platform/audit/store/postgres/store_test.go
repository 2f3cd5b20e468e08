package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "covenant/pkg/platform/audit"
)

func TestStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	ts := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_events")).
		WithArgs(sqlmock.AnyArg(), "compliance", ts, "u-1", "FREEZE_VIOLATION_BLOCKED",
			"INVOICE", "inv-1", "HIGH", "frozen", []byte(`{"fields":["amount"]}`), "req-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Append(context.Background(), audit.Event{
		Category:   audit.CategoryCompliance,
		Timestamp:  ts,
		ActorID:    "u-1",
		Action:     string(audit.EventFreezeViolationBlocked),
		EntityType: "INVOICE",
		EntityID:   "inv-1",
		Severity:   audit.SeverityHigh,
		Reason:     "frozen",
		Details:    map[string]any{"fields": []string{"amount"}},
		RequestID:  "req-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListByEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "category", "timestamp", "actor_id", "action",
		"entity_type", "entity_id", "severity", "reason", "details", "request_id"}).
		AddRow("a1", "compliance", time.Now(), "u-1", "FREEZE_VIOLATION_BLOCKED",
			"INVOICE", "inv-1", "HIGH", "frozen", []byte(`{"fields":["amount"]}`), "")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE entity_type = $1 AND entity_id = $2")).
		WithArgs("INVOICE", "inv-1").
		WillReturnRows(rows)

	events, err := New(db).ListByEntity(context.Background(), "INVOICE", "inv-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, []any{"amount"}, events[0].Details["fields"])
}
