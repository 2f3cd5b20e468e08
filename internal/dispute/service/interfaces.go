package service

import (
	"context"
	"time"

	adminmodels "covenant/internal/adminaudit/models"
	"covenant/internal/dispute/models"
	esmodels "covenant/internal/eventstore/models"
	"covenant/internal/statemachine"
	audit "covenant/pkg/platform/audit"
)

//go:generate mockgen -source=interfaces.go -destination=../mocks/mocks.go -package=mocks ContractDirectory,EventAppender,AdminAuditor

type Store interface {
	Insert(ctx context.Context, d *models.Dispute) error
	FindByID(ctx context.Context, id string) (*models.Dispute, error)
	AddEvidence(ctx context.Context, disputeID string, evidence []models.Evidence) error
	Update(ctx context.Context, d *models.Dispute, expectedVersion int64) error
	InsertOutcome(ctx context.Context, o *models.FinancialOutcome) error
	FindOutcome(ctx context.Context, disputeID string) (*models.FinancialOutcome, error)
	ListExpired(ctx context.Context, now time.Time) ([]*models.Dispute, error)
	List(ctx context.Context, q models.ListQuery) ([]*models.Dispute, error)
}

// ContractDirectory answers who the parties to a contract are.
type ContractDirectory interface {
	GetParties(ctx context.Context, contractID string) (*models.ContractParties, error)
	ContractsForParty(ctx context.Context, userID string) ([]string, error)
}

// EventAppender writes to the hash-chained event log.
type EventAppender interface {
	Append(ctx context.Context, event *esmodels.DomainEvent) (*esmodels.DomainEvent, error)
}

// AdminAuditor records privileged actions.
type AdminAuditor interface {
	LogAdminAction(ctx context.Context, entry adminmodels.Entry) (*adminmodels.Entry, error)
}

type TransitionValidator interface {
	ValidateTransition(ctx context.Context, entityType statemachine.EntityType, entityID, from, to, actorID, reason string) error
}

// FreezeGuard rejects writes to fields frozen by a milestone status.
type FreezeGuard interface {
	EnforceImmutability(ctx context.Context, entityType statemachine.EntityType, entityID, currentStatus string, updateFields map[string]any, userID string) error
}

// ComplianceEmitter records auto-resolutions for the compliance trail.
type ComplianceEmitter interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}
