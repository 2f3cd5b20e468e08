package service

import (
	"context"

	"covenant/internal/eventstore/models"
)

// Store is the persistence port for the event log. Implementations join the
// transaction carried by ctx when present.
type Store interface {
	Latest(ctx context.Context, aggregateType, aggregateID string) (*models.DomainEvent, error)
	Insert(ctx context.Context, e *models.DomainEvent) error
	Stream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) ([]*models.DomainEvent, error)
	Query(ctx context.Context, f models.Filter) ([]*models.DomainEvent, error)
	FindByID(ctx context.Context, eventID string) (*models.DomainEvent, error)
	ListAggregates(ctx context.Context) ([]models.AggregateKey, error)
	FindOrphanCausations(ctx context.Context) ([]models.OrphanCausation, error)
}
