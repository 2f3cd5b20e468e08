package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"covenant/internal/adminaudit/models"
	"covenant/internal/integrity/hash"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
)

// PostgresStore persists the admin chain in admin_audit_log. The table is
// insert-only; the application role holds no UPDATE or DELETE grant on it.
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

const entryColumns = `
	id, sequence, admin_id, action, entity_type, entity_id,
	before_value, after_value, reason, ip_address, user_agent, request_id,
	timestamp, previous_audit_hash, audit_hash, hash_version
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		e           models.Entry
		before      []byte
		after       []byte
		prev        sql.NullString
		hashVersion string
	)
	err := row.Scan(
		&e.ID, &e.Sequence, &e.AdminID, &e.Action, &e.EntityType, &e.EntityID,
		&before, &after, &e.Reason, &e.IPAddress, &e.UserAgent, &e.RequestID,
		&e.Timestamp, &prev, &e.AuditHash, &hashVersion,
	)
	if err != nil {
		return nil, err
	}
	e.Before = before
	e.After = after
	e.PreviousAuditHash = prev.String
	e.HashVersion = hash.Version(hashVersion)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	defer rows.Close()
	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin audit entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin audit entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Latest(ctx context.Context) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM admin_audit_log ORDER BY sequence DESC LIMIT 1`
	e, err := scanEntry(s.execer(ctx).QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest admin audit entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *models.Entry) error {
	query := `
		INSERT INTO admin_audit_log (
			id, admin_id, action, entity_type, entity_id,
			before_value, after_value, reason, ip_address, user_agent, request_id,
			timestamp, previous_audit_hash, audit_hash, hash_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING sequence
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		e.ID, e.AdminID, e.Action, e.EntityType, e.EntityID,
		nullJSON(e.Before), nullJSON(e.After), e.Reason, e.IPAddress, e.UserAgent, e.RequestID,
		e.Timestamp, nullString(e.PreviousAuditHash), e.AuditHash, string(e.HashVersion),
	).Scan(&e.Sequence)
	if err != nil {
		return fmt.Errorf("insert admin audit entry: %w", sentinel.FromPostgres(err))
	}
	return nil
}

func (s *PostgresStore) CountSince(ctx context.Context, adminID string, since time.Time) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_audit_log WHERE admin_id = $1 AND timestamp >= $2`,
		adminID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admin actions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListChain(ctx context.Context) ([]models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM admin_audit_log ORDER BY sequence ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list admin audit chain: %w", err)
	}
	return scanEntries(rows)
}

func (s *PostgresStore) List(ctx context.Context, f models.ReportFilter) ([]models.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AdminID != "" {
		add("admin_id = $%d", f.AdminID)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= $%d", f.To)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + entryColumns + ` FROM admin_audit_log`)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, f.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY timestamp DESC, sequence DESC LIMIT $%d", len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list admin audit entries: %w", err)
	}
	return scanEntries(rows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
