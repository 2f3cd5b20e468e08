package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"covenant/internal/eventstore/models"
	"covenant/internal/integrity/hash"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
)

// PostgresStore persists domain events in the append-only domain_events table.
// The schema rejects UPDATE and DELETE with a trigger; this type has no
// mutation path besides Insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const eventColumns = `id, event_type, causation_id, correlation_id, aggregate_id, aggregate_type,
	aggregate_version, payload, metadata, previous_event_hash, event_hash, hash_version, occurred_at`

func (s *PostgresStore) Latest(ctx context.Context, aggregateType, aggregateID string) (*models.DomainEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM domain_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY aggregate_version DESC
		LIMIT 1`
	e, err := scanEvent(s.execer(ctx).QueryRowContext(ctx, query, aggregateType, aggregateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest event: %w", sentinel.FromPostgres(err))
	}
	return e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *models.DomainEvent) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO domain_events (` + eventColumns + `, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		e.ID,
		e.Type,
		nullString(e.CausationID),
		e.CorrelationID,
		e.AggregateID,
		e.AggregateType,
		e.AggregateVersion,
		[]byte(payload),
		metadata,
		nullString(e.PreviousEventHash),
		e.EventHash,
		string(e.HashVersion),
		e.OccurredAt,
		e.Metadata.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert domain event: %w", sentinel.FromPostgres(err))
	}
	return nil
}

func (s *PostgresStore) Stream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) ([]*models.DomainEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM domain_events
		WHERE aggregate_type = $1 AND aggregate_id = $2 AND aggregate_version >= $3
		ORDER BY aggregate_version ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, aggregateType, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Query(ctx context.Context, f models.Filter) ([]*models.DomainEvent, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AggregateID != "" {
		add("aggregate_id = $%d", f.AggregateID)
	}
	if f.AggregateType != "" {
		add("aggregate_type = $%d", f.AggregateType)
	}
	if len(f.EventTypes) > 0 {
		add("event_type = ANY($%d)", pq.Array(f.EventTypes))
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}

	query := `SELECT ` + eventColumns + ` FROM domain_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY occurred_at ASC, aggregate_version ASC LIMIT $%d", len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domain events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID string) (*models.DomainEvent, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, sentinel.ErrNotFound
	}
	query := `SELECT ` + eventColumns + ` FROM domain_events WHERE id = $1`
	e, err := scanEvent(s.execer(ctx).QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find event by id: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListAggregates(ctx context.Context) ([]models.AggregateKey, error) {
	query := `
		SELECT DISTINCT aggregate_type, aggregate_id
		FROM domain_events
		ORDER BY aggregate_type, aggregate_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var keys []models.AggregateKey
	for rows.Next() {
		var k models.AggregateKey
		if err := rows.Scan(&k.AggregateType, &k.AggregateID); err != nil {
			return nil, fmt.Errorf("scan aggregate key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}
	return keys, nil
}

// FindOrphanCausations lists events whose causation id matches no stored event.
func (s *PostgresStore) FindOrphanCausations(ctx context.Context) ([]models.OrphanCausation, error) {
	query := `
		SELECT e.id, e.causation_id
		FROM domain_events e
		LEFT JOIN domain_events parent ON parent.id::text = e.causation_id
		WHERE e.causation_id IS NOT NULL AND parent.id IS NULL
		ORDER BY e.occurred_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query orphan causations: %w", err)
	}
	defer rows.Close()

	var orphans []models.OrphanCausation
	for rows.Next() {
		var o models.OrphanCausation
		if err := rows.Scan(&o.EventID, &o.CausationID); err != nil {
			return nil, fmt.Errorf("scan orphan causation: %w", err)
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan causations: %w", err)
	}
	return orphans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.DomainEvent, error) {
	var (
		e           models.DomainEvent
		causationID sql.NullString
		prevHash    sql.NullString
		payload     []byte
		metadata    []byte
		hashVersion string
	)
	err := row.Scan(
		&e.ID,
		&e.Type,
		&causationID,
		&e.CorrelationID,
		&e.AggregateID,
		&e.AggregateType,
		&e.AggregateVersion,
		&payload,
		&metadata,
		&prevHash,
		&e.EventHash,
		&hashVersion,
		&e.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	e.CausationID = causationID.String
	e.PreviousEventHash = prevHash.String
	e.Payload = json.RawMessage(payload)
	e.HashVersion = hash.Version(hashVersion)
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal event metadata: %w", err)
	}
	e.OccurredAt = e.OccurredAt.UTC()
	e.Metadata.Timestamp = e.Metadata.Timestamp.UTC()
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*models.DomainEvent, error) {
	var events []*models.DomainEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain events: %w", err)
	}
	return events, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
