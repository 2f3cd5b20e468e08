package service

import (
	"context"
	"encoding/json"
	"strings"

	adminmodels "covenant/internal/adminaudit/models"
	"covenant/internal/dispute/models"
	"covenant/internal/statemachine"
	dErrors "covenant/pkg/domain-errors"
)

func isPrivileged(role string) bool {
	return role == models.ActorAdmin || role == models.ActorSystem
}

// ResolveDispute closes an open dispute with a decision and records the
// money owed.
func (s *Service) ResolveDispute(ctx context.Context, cmd models.ResolveCommand) (*models.Dispute, error) {
	if cmd.ResolvedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "resolver is required")
	}
	if !isPrivileged(cmd.ActorRole) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins can resolve disputes")
	}
	if !cmd.Status.IsResolution() {
		return nil, dErrors.New(dErrors.CodeValidation, "resolution must be APPROVED, REJECTED or PARTIAL")
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "resolution reason is required")
	}
	d, err := s.store.FindByID(ctx, cmd.DisputeID)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	if d.Status != models.StatusOpen {
		return nil, dErrors.New(dErrors.CodeConflict, "dispute already resolved")
	}

	approved := cmd.ApprovedAmount
	if cmd.Status == models.StatusRejected {
		approved = 0
	}
	if approved < 0 || approved > d.ClaimAmount {
		return nil, dErrors.New(dErrors.CodeValidation, "approved amount must be between 0 and the claim amount")
	}
	if cmd.Status == models.StatusApproved && approved < d.ClaimAmount {
		return nil, dErrors.New(dErrors.CodeValidation, "an approved dispute must award the full claim; use PARTIAL for less")
	}

	if err := s.resolve(ctx, d, cmd.Status, approved, cmd.ResolvedBy, cmd.ActorRole, cmd.Reason); err != nil {
		return nil, err
	}
	return d, nil
}

// resolve validates the transition and writes the resolution, the financial
// outcome and the event atomically. d is updated in place.
func (s *Service) resolve(ctx context.Context, d *models.Dispute, status models.Status, approved int64, actorID, actorRole, reason string) error {
	if err := s.transitions.ValidateTransition(ctx, statemachine.Dispute, d.ID,
		string(d.Status), string(status), actorID, reason); err != nil {
		return err
	}

	now := s.now(ctx)
	before, err := snapshot(map[string]any{"status": d.Status, "approvedAmount": d.ApprovedAmount})
	if err != nil {
		return err
	}
	prev := d.Version
	next := d.Clone()
	next.Status = status
	next.ApprovedAmount = &approved
	next.Resolution = &models.Resolution{ResolvedBy: actorID, ResolvedAt: now, Reason: reason}
	next.Version++
	next.UpdatedAt = now
	after, err := snapshot(map[string]any{"status": next.Status, "approvedAmount": approved})
	if err != nil {
		return err
	}

	outcome := &models.FinancialOutcome{
		DisputeID:      d.ID,
		ContractID:     d.ContractID,
		Status:         status,
		ClaimAmount:    d.ClaimAmount,
		ApprovedAmount: approved,
		RefundDue:      (status == models.StatusApproved || status == models.StatusPartial) && approved > 0,
		PayeeID:        d.ClaimantID,
		RecordedAt:     now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, next, prev); err != nil {
			return err
		}
		if err := s.store.InsertOutcome(ctx, outcome); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, next, EventDisputeResolved, actorID, actorRole, map[string]any{
			"status":         status,
			"approvedAmount": approved,
			"claimAmount":    d.ClaimAmount,
			"refundDue":      outcome.RefundDue,
			"reason":         reason,
			"resolvedBy":     actorID,
		}); err != nil {
			return err
		}
		return s.logAdmin(ctx, actorRole, adminmodels.Entry{
			AdminID:    actorID,
			Action:     ActionResolveDispute,
			EntityType: aggregateType,
			EntityID:   d.ID,
			Before:     before,
			After:      after,
			Reason:     reason,
		})
	})
	if err != nil {
		return s.translate(err, "dispute not found")
	}
	*d = *next

	if s.metrics != nil {
		s.metrics.IncResolved(string(status), actorRole)
	}
	s.logger.InfoContext(ctx, "dispute resolved",
		"dispute_id", d.ID,
		"status", status,
		"approved_amount", approved,
		"refund_due", outcome.RefundDue,
		"resolved_by", actorID,
	)
	return nil
}

// EscalateDispute hands an open dispute to manual or offline handling.
func (s *Service) EscalateDispute(ctx context.Context, disputeID, escalatedBy, actorRole, reason string) (*models.Dispute, error) {
	if !isPrivileged(actorRole) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins or the system can escalate disputes")
	}
	if escalatedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "escalating actor is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "escalation reason is required")
	}
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	if d.Status != models.StatusOpen {
		return nil, dErrors.New(dErrors.CodeConflict, "only open disputes can be escalated")
	}
	if err := s.escalate(ctx, d, escalatedBy, actorRole, reason); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) escalate(ctx context.Context, d *models.Dispute, actorID, actorRole, reason string) error {
	if err := s.transitions.ValidateTransition(ctx, statemachine.Dispute, d.ID,
		string(d.Status), string(models.StatusEscalated), actorID, reason); err != nil {
		return err
	}

	now := s.now(ctx)
	prev := d.Version
	next := d.Clone()
	next.Status = models.StatusEscalated
	next.Escalation = &models.Escalation{EscalatedBy: actorID, EscalatedAt: now, Reason: reason}
	next.Version++
	next.UpdatedAt = now

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, next, prev); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, next, EventDisputeEscalated, actorID, actorRole, map[string]any{
			"reason":      reason,
			"escalatedBy": actorID,
		}); err != nil {
			return err
		}
		return s.logAdmin(ctx, actorRole, adminmodels.Entry{
			AdminID:    actorID,
			Action:     ActionEscalateDispute,
			EntityType: aggregateType,
			EntityID:   d.ID,
			Before:     json.RawMessage(`{"status":"OPEN"}`),
			After:      json.RawMessage(`{"status":"ESCALATED"}`),
			Reason:     reason,
		})
	})
	if err != nil {
		return s.translate(err, "dispute not found")
	}
	*d = *next

	if s.metrics != nil {
		s.metrics.IncResolved(string(models.StatusEscalated), actorRole)
	}
	s.logger.InfoContext(ctx, "dispute escalated",
		"dispute_id", d.ID,
		"escalated_by", actorID,
		"reason", reason,
	)
	return nil
}
