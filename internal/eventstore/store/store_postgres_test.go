package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covenant/internal/eventstore/models"
	"covenant/pkg/platform/sentinel"
)

var eventRowColumns = []string{
	"id", "event_type", "causation_id", "correlation_id", "aggregate_id", "aggregate_type",
	"aggregate_version", "payload", "metadata", "previous_event_hash", "event_hash", "hash_version", "occurred_at",
}

func TestPostgresStore_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	ctx := context.Background()
	occurred := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	t.Run("scans the newest row", func(t *testing.T) {
		rows := sqlmock.NewRows(eventRowColumns).AddRow(
			"3c0b7f38-27a4-4f7e-8a43-6b3d6c1f9e10", "INVOICE_PAID", nil, "flow-1", "inv-1", "INVOICE",
			int64(3), []byte(`{"amount":10}`), []byte(`{"actorId":"u-1","actorRole":"TENANT","timestamp":"2025-02-01T08:00:00Z"}`),
			"prevhash", "thishash", "v1", occurred,
		)
		mock.ExpectQuery(regexp.QuoteMeta("FROM domain_events\n\t\tWHERE aggregate_type = $1 AND aggregate_id = $2\n\t\tORDER BY aggregate_version DESC")).
			WithArgs("INVOICE", "inv-1").
			WillReturnRows(rows)

		e, err := store.Latest(ctx, "INVOICE", "inv-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), e.AggregateVersion)
		assert.Equal(t, "prevhash", e.PreviousEventHash)
		assert.Empty(t, e.CausationID)
		assert.Equal(t, "u-1", e.Metadata.ActorID)
		assert.Equal(t, "v1", string(e.HashVersion))
	})

	t.Run("no rows maps to not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM domain_events")).
			WithArgs("INVOICE", "inv-2").
			WillReturnRows(sqlmock.NewRows(eventRowColumns))

		_, err := store.Latest(ctx, "INVOICE", "inv-2")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	ctx := context.Background()
	e := &models.DomainEvent{
		ID:               "3c0b7f38-27a4-4f7e-8a43-6b3d6c1f9e10",
		Type:             "INVOICE_CREATED",
		AggregateID:      "inv-1",
		AggregateType:    "INVOICE",
		AggregateVersion: 1,
		CorrelationID:    "flow-1",
		Payload:          json.RawMessage(`{"amount":10}`),
		Metadata:         models.Metadata{ActorID: "u-1"},
		EventHash:        "h1",
		HashVersion:      "v1",
		OccurredAt:       time.Now(),
	}

	t.Run("writes every column", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO domain_events")).
			WithArgs(e.ID, e.Type, sqlmock.AnyArg(), "flow-1", "inv-1", "INVOICE", int64(1),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "h1", "v1", sqlmock.AnyArg(), "u-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, store.Insert(ctx, e))
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO domain_events")).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.Insert(ctx, e)
		assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM domain_events WHERE aggregate_type = $1 AND correlation_id = $2 AND occurred_at >= $3 ORDER BY occurred_at ASC, aggregate_version ASC LIMIT $4")).
		WithArgs("DISPUTE", "flow-9", from, 1000).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	events, err := store.Query(context.Background(), models.Filter{
		AggregateType: "DISPUTE",
		CorrelationID: "flow-9",
		From:          from,
	})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByIDRejectsMalformedID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPostgres(db).FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
