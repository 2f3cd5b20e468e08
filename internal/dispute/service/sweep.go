package service

import (
	"context"
	"fmt"

	"covenant/internal/dispute/models"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/requestcontext"
)

const (
	ReasonNoEvidence         = "Auto-resolved: No evidence from either party"
	ReasonNoCounterEvidence  = "Auto-resolved: No counter-evidence submitted by respondent"
	ReasonNoClaimantEvidence = "Auto-resolved: Insufficient claimant evidence"
	ReasonBothSubmitted      = "Auto-escalated: Both parties submitted evidence, requires manual review"
)

type autoOutcome struct {
	status   models.Status
	approved int64
	reason   string
}

// decideExpired picks the outcome for a dispute whose deadline passed,
// based only on which sides submitted evidence.
func decideExpired(d *models.Dispute) autoOutcome {
	claimant, respondent := d.CountEvidence()
	switch {
	case claimant > 0 && respondent > 0:
		return autoOutcome{status: models.StatusEscalated, reason: ReasonBothSubmitted}
	case claimant > 0:
		return autoOutcome{status: models.StatusApproved, approved: d.ClaimAmount, reason: ReasonNoCounterEvidence}
	case respondent > 0:
		return autoOutcome{status: models.StatusRejected, reason: ReasonNoClaimantEvidence}
	default:
		return autoOutcome{status: models.StatusRejected, reason: ReasonNoEvidence}
	}
}

// ProcessExpiredDisputes closes every open dispute past its deadline. Each
// dispute is handled on its own; a failure is counted and the sweep moves on.
func (s *Service) ProcessExpiredDisputes(ctx context.Context) (*models.SweepResult, error) {
	ctx = requestcontext.WithActor(ctx, models.ActorSystem, models.ActorSystem)
	expired, err := s.store.ListExpired(ctx, s.now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expired disputes")
	}

	result := &models.SweepResult{}
	for _, d := range expired {
		result.Processed++
		outcome := decideExpired(d)
		if err := s.autoClose(ctx, d, outcome); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.ID, err))
			if s.metrics != nil {
				s.metrics.IncSweepFailure()
			}
			s.logger.ErrorContext(ctx, "failed to auto-resolve expired dispute",
				"dispute_id", d.ID,
				"outcome", outcome.status,
				"error", err,
			)
			continue
		}
		switch outcome.status {
		case models.StatusApproved:
			result.Approved++
		case models.StatusRejected:
			result.Rejected++
		case models.StatusEscalated:
			result.Escalated++
		}
		if s.metrics != nil {
			s.metrics.IncAutoResolved(string(outcome.status))
		}
	}

	s.logger.InfoContext(ctx, "expired dispute sweep finished",
		"processed", result.Processed,
		"approved", result.Approved,
		"rejected", result.Rejected,
		"escalated", result.Escalated,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Service) autoClose(ctx context.Context, d *models.Dispute, o autoOutcome) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if o.status == models.StatusEscalated {
			err = s.escalate(ctx, d, models.ActorSystem, models.ActorSystem, o.reason)
		} else {
			err = s.resolve(ctx, d, o.status, o.approved, models.ActorSystem, models.ActorSystem, o.reason)
		}
		if err != nil {
			return err
		}
		if s.compliance == nil {
			return nil
		}
		return s.compliance.Emit(ctx, audit.ComplianceEvent{
			ActorID:    models.ActorSystem,
			Action:     audit.EventDisputeAutoResolved,
			EntityType: aggregateType,
			EntityID:   d.ID,
			Severity:   audit.SeverityMedium,
			Reason:     o.reason,
			Details: map[string]any{
				"status":         string(o.status),
				"approvedAmount": o.approved,
				"claimAmount":    d.ClaimAmount,
			},
		})
	})
}
