package service

import (
	"context"

	"covenant/internal/dispute/models"
	dErrors "covenant/pkg/domain-errors"
)

// GetDispute returns a dispute to an admin, its claimant or a contract party.
func (s *Service) GetDispute(ctx context.Context, disputeID, viewerID, viewerRole string) (*models.Dispute, error) {
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	if viewerRole == models.ActorAdmin || viewerID == d.ClaimantID {
		return d, nil
	}
	parties, err := s.contracts.GetParties(ctx, d.ContractID)
	if err != nil {
		return nil, s.translate(err, "contract not found")
	}
	if !parties.IsParty(viewerID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to view this dispute")
	}
	return d, nil
}

// ListDisputes returns every dispute to admins, and to anyone else the
// disputes they filed or that concern their contracts. Newest first.
func (s *Service) ListDisputes(ctx context.Context, viewerID, viewerRole string, filter models.ListFilter) ([]*models.Dispute, error) {
	switch filter.Status {
	case "", models.StatusOpen, models.StatusApproved, models.StatusRejected, models.StatusPartial, models.StatusEscalated:
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown dispute status: "+string(filter.Status))
	}
	q := models.ListQuery{Status: filter.Status, ContractID: filter.ContractID}
	if viewerRole != models.ActorAdmin {
		if viewerID == "" {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "viewer is required")
		}
		contracts, err := s.contracts.ContractsForParty(ctx, viewerID)
		if err != nil {
			return nil, s.translate(err, "contract not found")
		}
		q.Visibility = &models.Visibility{UserID: viewerID, ContractIDs: contracts}
	}
	disputes, err := s.store.List(ctx, q)
	if err != nil {
		return nil, s.translate(err, "dispute not found")
	}
	return disputes, nil
}

// GetFinancialOutcome returns the money consequence of a resolved dispute
// under the same access rule as GetDispute.
func (s *Service) GetFinancialOutcome(ctx context.Context, disputeID, viewerID, viewerRole string) (*models.FinancialOutcome, error) {
	if _, err := s.GetDispute(ctx, disputeID, viewerID, viewerRole); err != nil {
		return nil, err
	}
	o, err := s.store.FindOutcome(ctx, disputeID)
	if err != nil {
		return nil, s.translate(err, "no financial outcome recorded for this dispute")
	}
	return o, nil
}
