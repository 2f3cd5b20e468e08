// Package service runs the dispute workflow: claims, counter-evidence,
// resolution, escalation and the deadline sweep. Every state change is
// written together with its domain event in one transaction.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	adminmodels "covenant/internal/adminaudit/models"
	"covenant/internal/dispute/metrics"
	"covenant/internal/dispute/models"
	esmodels "covenant/internal/eventstore/models"
	"covenant/internal/statemachine"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/sentinel"
	pstrings "covenant/pkg/platform/strings"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

const (
	EventDisputeCreated           = "DISPUTE_CREATED"
	EventDisputeEvidenceSubmitted = "DISPUTE_EVIDENCE_SUBMITTED"
	EventDisputeUpdated           = "DISPUTE_UPDATED"
	EventDisputeResolved          = "DISPUTE_RESOLVED"
	EventDisputeEscalated         = "DISPUTE_ESCALATED"

	ActionResolveDispute  = "RESOLVE_DISPUTE"
	ActionEscalateDispute = "ESCALATE_DISPUTE"
	ActionUpdateDispute   = "UPDATE_DISPUTE"
)

var aggregateType = statemachine.Dispute.String()

type Service struct {
	store       Store
	contracts   ContractDirectory
	events      EventAppender
	tx          txcontext.Runner
	transitions TransitionValidator
	freeze      FreezeGuard
	admin       AdminAuditor
	compliance  ComplianceEmitter
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTransitionValidator(v TransitionValidator) Option {
	return func(s *Service) {
		s.transitions = v
	}
}

func WithFreezeGuard(g FreezeGuard) Option {
	return func(s *Service) {
		s.freeze = g
	}
}

func WithAdminAuditor(a AdminAuditor) Option {
	return func(s *Service) {
		s.admin = a
	}
}

func WithComplianceEmitter(c ComplianceEmitter) Option {
	return func(s *Service) {
		s.compliance = c
	}
}

func New(store Store, contracts ContractDirectory, events EventAppender, runner txcontext.Runner, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("dispute store is required")
	}
	if contracts == nil {
		return nil, fmt.Errorf("contract directory is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event appender is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	s := &Service{
		store:     store,
		contracts: contracts,
		events:    events,
		tx:        runner,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transitions == nil {
		s.transitions = statemachine.NewGuard(statemachine.WithLogger(s.logger))
	}
	return s, nil
}

// CreateDispute opens a claim against a contract. The claimant must be a
// party to it and may hold at most one open dispute per contract.
func (s *Service) CreateDispute(ctx context.Context, cmd models.CreateCommand) (*models.Dispute, error) {
	urls, err := validateCreate(cmd)
	if err != nil {
		return nil, err
	}
	parties, err := s.contracts.GetParties(ctx, cmd.ContractID)
	if err != nil {
		return nil, s.translate(err, "contract not found")
	}
	if !parties.IsParty(cmd.ClaimantID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "claimant is not a party to this contract")
	}
	if (cmd.ClaimantRole == models.RoleTenant) != (cmd.ClaimantID == parties.TenantID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "claimant role does not match the contract")
	}

	now := s.now(ctx)
	d := &models.Dispute{
		ID:           uuid.NewString(),
		ContractID:   cmd.ContractID,
		ClaimantID:   cmd.ClaimantID,
		ClaimantRole: cmd.ClaimantRole,
		ClaimAmount:  cmd.ClaimAmount,
		Description:  strings.TrimSpace(cmd.Description),
		Status:       models.StatusOpen,
		Deadline:     now.Add(models.DeadlineWindow),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d.Evidence = newEvidence(d.ID, urls, cmd.ClaimantID, models.EvidenceClaimant, 0, now)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, d); err != nil {
			return err
		}
		return s.appendEvent(ctx, d, EventDisputeCreated, cmd.ClaimantID, string(cmd.ClaimantRole), map[string]any{
			"contractId":    d.ContractID,
			"claimantId":    d.ClaimantID,
			"claimantRole":  d.ClaimantRole,
			"claimAmount":   d.ClaimAmount,
			"description":   d.Description,
			"deadline":      d.Deadline,
			"evidenceCount": len(d.Evidence),
		})
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "an open dispute already exists for this contract and claimant")
		}
		return nil, s.translate(err, "dispute not found")
	}

	if s.metrics != nil {
		s.metrics.IncCreated()
	}
	s.logger.InfoContext(ctx, "dispute created",
		"dispute_id", d.ID,
		"contract_id", d.ContractID,
		"claimant_id", d.ClaimantID,
		"claim_amount", d.ClaimAmount,
		"deadline", d.Deadline,
	)
	return d, nil
}

func validateCreate(cmd models.CreateCommand) ([]string, error) {
	if cmd.ContractID == "" || cmd.ClaimantID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "contract id and claimant id are required")
	}
	if !cmd.ClaimantRole.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "claimant role must be TENANT or LANDLORD")
	}
	if cmd.ClaimAmount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "claim amount must be greater than zero")
	}
	urls, err := validateURLs(cmd.EvidenceURLs)
	if err != nil {
		return nil, err
	}
	if len(urls) > models.MaxEvidencePerSide {
		return nil, dErrors.Newf(dErrors.CodeValidation, "maximum %d evidence items allowed", models.MaxEvidencePerSide)
	}
	return urls, nil
}

// validateURLs rejects blank entries and collapses repeated URLs.
func validateURLs(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one evidence item is required")
	}
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "evidence URL must not be empty")
		}
	}
	return pstrings.DedupeAndTrim(urls), nil
}

func newEvidence(disputeID string, urls []string, submitter string, typ models.EvidenceType, startOrder int, now time.Time) []models.Evidence {
	out := make([]models.Evidence, 0, len(urls))
	for i, u := range urls {
		out = append(out, models.Evidence{
			ID:          uuid.NewString(),
			DisputeID:   disputeID,
			URL:         u,
			SubmittedBy: submitter,
			Type:        typ,
			Order:       startOrder + i,
			CreatedAt:   now,
		})
	}
	return out
}

// SubmitCounterEvidence lets the other party answer before the deadline.
func (s *Service) SubmitCounterEvidence(ctx context.Context, disputeID, submitterID string, urls []string) (*models.Dispute, error) {
	urls, err := validateURLs(urls)
	if err != nil {
		return nil, err
	}
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	if d.Status != models.StatusOpen {
		return nil, dErrors.New(dErrors.CodeConflict, "can only add evidence to open disputes")
	}
	now := s.now(ctx)
	if !now.Before(d.Deadline) {
		return nil, dErrors.New(dErrors.CodeConflict, "dispute deadline has passed")
	}
	parties, err := s.contracts.GetParties(ctx, d.ContractID)
	if err != nil {
		return nil, s.translate(err, "contract not found")
	}
	if submitterID == d.ClaimantID || !parties.IsParty(submitterID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to submit counter evidence")
	}
	if len(d.Evidence)+len(urls) > models.MaxEvidenceTotal {
		return nil, dErrors.Newf(dErrors.CodeValidation, "total evidence limit exceeded (max %d)", models.MaxEvidenceTotal)
	}
	if _, respondent := d.CountEvidence(); respondent+len(urls) > models.MaxEvidencePerSide {
		return nil, dErrors.Newf(dErrors.CodeValidation, "respondent evidence limit exceeded (max %d)", models.MaxEvidencePerSide)
	}

	added := newEvidence(d.ID, urls, submitterID, models.EvidenceRespondent, len(d.Evidence), now)
	role := string(models.RoleLandlord)
	if submitterID == parties.TenantID {
		role = string(models.RoleTenant)
	}
	prev := d.Version
	d.Version++
	d.UpdatedAt = now

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// The version check runs first so a lost race writes nothing.
		if err := s.store.Update(ctx, d, prev); err != nil {
			return err
		}
		if err := s.store.AddEvidence(ctx, d.ID, added); err != nil {
			return err
		}
		evidenceURLs := make([]string, len(added))
		for i, e := range added {
			evidenceURLs[i] = e.URL
		}
		return s.appendEvent(ctx, d, EventDisputeEvidenceSubmitted, submitterID, role, map[string]any{
			"submittedBy": submitterID,
			"type":        models.EvidenceRespondent,
			"urls":        evidenceURLs,
		})
	})
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	d.Evidence = append(d.Evidence, added...)

	s.logger.InfoContext(ctx, "counter evidence submitted",
		"dispute_id", d.ID,
		"submitted_by", submitterID,
		"count", len(added),
	)
	return d, nil
}

// UpdateDispute edits descriptive fields. Once the dispute is resolved only
// internal notes stay writable.
func (s *Service) UpdateDispute(ctx context.Context, cmd models.UpdateCommand) (*models.Dispute, error) {
	fields := map[string]any{}
	if cmd.Description != nil {
		fields["description"] = *cmd.Description
	}
	if cmd.InternalNotes != nil {
		fields["internalNotes"] = *cmd.InternalNotes
	}
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no fields to update")
	}
	d, err := s.store.FindByID(ctx, cmd.DisputeID)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	if cmd.InternalNotes != nil && cmd.ActorRole != models.ActorAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may edit internal notes")
	}
	if cmd.Description != nil && cmd.ActorID != d.ClaimantID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the claimant may edit the description")
	}
	if s.freeze != nil {
		if err := s.freeze.EnforceImmutability(ctx, statemachine.Dispute, d.ID, string(d.Status), fields, cmd.ActorID); err != nil {
			return nil, err
		}
	}

	before, err := snapshot(map[string]any{"description": d.Description, "internalNotes": d.InternalNotes})
	if err != nil {
		return nil, err
	}
	if cmd.Description != nil {
		d.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.InternalNotes != nil {
		d.InternalNotes = *cmd.InternalNotes
	}
	after, err := snapshot(map[string]any{"description": d.Description, "internalNotes": d.InternalNotes})
	if err != nil {
		return nil, err
	}
	prev := d.Version
	d.Version++
	d.UpdatedAt = s.now(ctx)

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, d, prev); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, d, EventDisputeUpdated, cmd.ActorID, cmd.ActorRole, map[string]any{
			"fields": names,
		}); err != nil {
			return err
		}
		return s.logAdmin(ctx, cmd.ActorRole, adminmodels.Entry{
			AdminID:    cmd.ActorID,
			Action:     ActionUpdateDispute,
			EntityType: aggregateType,
			EntityID:   d.ID,
			Before:     before,
			After:      after,
		})
	})
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	return d, nil
}

func (s *Service) appendEvent(ctx context.Context, d *models.Dispute, eventType, actorID, actorRole string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	ctx = requestcontext.WithActor(ctx, actorID, actorRole)
	_, err = s.events.Append(ctx, &esmodels.DomainEvent{
		Type:             eventType,
		AggregateID:      d.ID,
		AggregateType:    aggregateType,
		AggregateVersion: d.Version,
		Payload:          data,
	})
	return err
}

// logAdmin writes to the admin trail when an admin acted. It runs inside the
// caller's transaction so the trail and the change commit together.
func (s *Service) logAdmin(ctx context.Context, actorRole string, entry adminmodels.Entry) error {
	if s.admin == nil || actorRole != models.ActorAdmin {
		return nil
	}
	_, err := s.admin.LogAdminAction(ctx, entry)
	return err
}

// snapshot encodes the before/after state recorded in the admin trail.
func snapshot(fields map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return data, nil
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
}

// translate maps store facts to coded errors. Coded errors pass through.
func (s *Service) translate(err error, notFoundMsg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrDuplicate):
		return dErrors.Wrap(err, dErrors.CodeConflict, "dispute was modified concurrently, reload and retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "dispute operation failed")
	}
}
