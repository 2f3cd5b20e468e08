package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"covenant/internal/dispute/models"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
)

// PostgresStore keeps disputes, their evidence and financial outcomes. A
// partial unique index on (contract_id, claimant_id) WHERE status = 'OPEN'
// enforces one open dispute per claimant and contract.
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

const disputeColumns = `
	id, contract_id, claimant_id, claimant_role, claim_amount, description,
	internal_notes, status, approved_amount, deadline,
	resolved_by, resolved_at, resolution_reason,
	escalated_by, escalated_at, escalation_reason,
	version, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var (
		d                             models.Dispute
		role, status                  string
		approved                      sql.NullInt64
		resolvedBy, resolutionReason  sql.NullString
		escalatedBy, escalationReason sql.NullString
		resolvedAt, escalatedAt       sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.ContractID, &d.ClaimantID, &role, &d.ClaimAmount, &d.Description,
		&d.InternalNotes, &status, &approved, &d.Deadline,
		&resolvedBy, &resolvedAt, &resolutionReason,
		&escalatedBy, &escalatedAt, &escalationReason,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ClaimantRole = models.ClaimantRole(role)
	d.Status = models.Status(status)
	if approved.Valid {
		v := approved.Int64
		d.ApprovedAmount = &v
	}
	if resolvedAt.Valid {
		d.Resolution = &models.Resolution{
			ResolvedBy: resolvedBy.String,
			ResolvedAt: resolvedAt.Time.UTC(),
			Reason:     resolutionReason.String,
		}
	}
	if escalatedAt.Valid {
		d.Escalation = &models.Escalation{
			EscalatedBy: escalatedBy.String,
			EscalatedAt: escalatedAt.Time.UTC(),
			Reason:      escalationReason.String,
		}
	}
	d.Deadline = d.Deadline.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func (s *PostgresStore) Insert(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (
			id, contract_id, claimant_id, claimant_role, claim_amount, description,
			internal_notes, status, deadline, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		d.ID, d.ContractID, d.ClaimantID, string(d.ClaimantRole), d.ClaimAmount, d.Description,
		d.InternalNotes, string(d.Status), d.Deadline, d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", sentinel.FromPostgres(err))
	}
	return s.AddEvidence(ctx, d.ID, d.Evidence)
}

func (s *PostgresStore) AddEvidence(ctx context.Context, disputeID string, evidence []models.Evidence) error {
	query := `
		INSERT INTO dispute_evidence (id, dispute_id, url, submitted_by, type, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range evidence {
		_, err := s.execer(ctx).ExecContext(ctx, query,
			e.ID, disputeID, e.URL, e.SubmittedBy, string(e.Type), e.Order, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert dispute evidence: %w", sentinel.FromPostgres(err))
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	d, err := scanDispute(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find dispute: %w", err)
	}
	if err := s.loadEvidence(ctx, []*models.Dispute{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) loadEvidence(ctx context.Context, disputes []*models.Dispute) error {
	if len(disputes) == 0 {
		return nil
	}
	byID := make(map[string]*models.Dispute, len(disputes))
	ids := make([]string, 0, len(disputes))
	for _, d := range disputes {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	query := `
		SELECT id, dispute_id, url, submitted_by, type, position, created_at
		FROM dispute_evidence
		WHERE dispute_id = ANY($1)
		ORDER BY dispute_id, position ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query dispute evidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e models.Evidence
		var typ string
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.URL, &e.SubmittedBy, &typ, &e.Order, &e.CreatedAt); err != nil {
			return fmt.Errorf("scan dispute evidence: %w", err)
		}
		e.Type = models.EvidenceType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		if d, ok := byID[e.DisputeID]; ok {
			d.Evidence = append(d.Evidence, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate dispute evidence: %w", err)
	}
	return nil
}

// Update writes the mutable columns and bumps the version, guarded by the
// version the caller read.
func (s *PostgresStore) Update(ctx context.Context, d *models.Dispute, expectedVersion int64) error {
	var (
		resolvedBy, resolutionReason  sql.NullString
		escalatedBy, escalationReason sql.NullString
		resolvedAt, escalatedAt       sql.NullTime
		approved                      sql.NullInt64
	)
	if d.ApprovedAmount != nil {
		approved = sql.NullInt64{Int64: *d.ApprovedAmount, Valid: true}
	}
	if r := d.Resolution; r != nil {
		resolvedBy = sql.NullString{String: r.ResolvedBy, Valid: true}
		resolvedAt = sql.NullTime{Time: r.ResolvedAt, Valid: true}
		resolutionReason = sql.NullString{String: r.Reason, Valid: true}
	}
	if e := d.Escalation; e != nil {
		escalatedBy = sql.NullString{String: e.EscalatedBy, Valid: true}
		escalatedAt = sql.NullTime{Time: e.EscalatedAt, Valid: true}
		escalationReason = sql.NullString{String: e.Reason, Valid: true}
	}

	query := `
		UPDATE disputes SET
			description = $1,
			internal_notes = $2,
			status = $3,
			approved_amount = $4,
			resolved_by = $5,
			resolved_at = $6,
			resolution_reason = $7,
			escalated_by = $8,
			escalated_at = $9,
			escalation_reason = $10,
			version = $11,
			updated_at = $12
		WHERE id = $13 AND version = $14
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		d.Description, d.InternalNotes, string(d.Status), approved,
		resolvedBy, resolvedAt, resolutionReason,
		escalatedBy, escalatedAt, escalationReason,
		d.Version, d.UpdatedAt,
		d.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", sentinel.FromPostgres(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) InsertOutcome(ctx context.Context, o *models.FinancialOutcome) error {
	query := `
		INSERT INTO dispute_outcomes (
			dispute_id, contract_id, status, claim_amount, approved_amount, refund_due, payee_id, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		o.DisputeID, o.ContractID, string(o.Status), o.ClaimAmount, o.ApprovedAmount, o.RefundDue, o.PayeeID, o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute outcome: %w", sentinel.FromPostgres(err))
	}
	return nil
}

func (s *PostgresStore) FindOutcome(ctx context.Context, disputeID string) (*models.FinancialOutcome, error) {
	query := `
		SELECT dispute_id, contract_id, status, claim_amount, approved_amount, refund_due, payee_id, recorded_at
		FROM dispute_outcomes
		WHERE dispute_id = $1
	`
	var o models.FinancialOutcome
	var status string
	err := s.execer(ctx).QueryRowContext(ctx, query, disputeID).Scan(
		&o.DisputeID, &o.ContractID, &status, &o.ClaimAmount, &o.ApprovedAmount, &o.RefundDue, &o.PayeeID, &o.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find dispute outcome: %w", err)
	}
	o.Status = models.Status(status)
	o.RecordedAt = o.RecordedAt.UTC()
	return &o, nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + `
		FROM disputes
		WHERE status = 'OPEN' AND deadline < $1
		ORDER BY deadline ASC
	`
	return s.list(ctx, query, now)
}

func (s *PostgresStore) List(ctx context.Context, q models.ListQuery) ([]*models.Dispute, error) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Status != "" {
		conds = append(conds, "status = "+next(string(q.Status)))
	}
	if q.ContractID != "" {
		conds = append(conds, "contract_id = "+next(q.ContractID))
	}
	if v := q.Visibility; v != nil {
		conds = append(conds, fmt.Sprintf("(claimant_id = %s OR contract_id = ANY(%s))",
			next(v.UserID), next(pq.Array(v.ContractIDs))))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + disputeColumns + ` FROM disputes`)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	return s.list(ctx, b.String(), args...)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Dispute, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query disputes: %w", err)
	}
	var out []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disputes: %w", err)
	}
	if err := s.loadEvidence(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostgresDirectory reads contract parties from the contracts table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return d.db
}

func (d *PostgresDirectory) GetParties(ctx context.Context, contractID string) (*models.ContractParties, error) {
	var p models.ContractParties
	err := d.execer(ctx).QueryRowContext(ctx,
		`SELECT id, tenant_id, landlord_id FROM contracts WHERE id = $1`, contractID,
	).Scan(&p.ContractID, &p.TenantID, &p.LandlordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find contract parties: %w", err)
	}
	return &p, nil
}

func (d *PostgresDirectory) ContractsForParty(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.execer(ctx).QueryContext(ctx,
		`SELECT id FROM contracts WHERE tenant_id = $1 OR landlord_id = $1 ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query party contracts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contract id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate party contracts: %w", err)
	}
	return ids, nil
}
