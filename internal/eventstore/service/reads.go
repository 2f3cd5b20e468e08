package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"covenant/internal/eventstore/models"
	"covenant/internal/integrity/hash"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/sentinel"
)

// GetEventStream returns an aggregate's events in version order, starting at
// fromVersion (values below 1 read from the beginning).
func (s *Service) GetEventStream(ctx context.Context, aggregateID, aggregateType string, fromVersion int64) ([]*models.DomainEvent, error) {
	if strings.TrimSpace(aggregateID) == "" || strings.TrimSpace(aggregateType) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "aggregate id and type are required")
	}
	if fromVersion < 1 {
		fromVersion = 1
	}
	events, err := s.store.Stream(ctx, aggregateType, aggregateID, fromVersion)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read event stream")
	}
	return events, nil
}

// Query supports investigative reads. Results are capped at 1000 events.
func (s *Service) Query(ctx context.Context, f models.Filter) ([]*models.DomainEvent, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, dErrors.New(dErrors.CodeValidation, "time range end precedes start")
	}
	if f.Limit < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "limit must not be negative")
	}
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query events")
	}
	return events, nil
}

// GetCorrelationGroup returns every event of one business flow.
func (s *Service) GetCorrelationGroup(ctx context.Context, correlationID string) ([]*models.DomainEvent, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation id is required")
	}
	return s.Query(ctx, models.Filter{CorrelationID: correlationID})
}

// GetCausationChain walks causation links back from eventID and returns the
// chain root first. A parent missing from the log ends the walk at the last
// event found; a cycle is an integrity violation.
func (s *Service) GetCausationChain(ctx context.Context, eventID string) ([]*models.DomainEvent, error) {
	current, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}

	chain := []*models.DomainEvent{current}
	seen := map[string]bool{current.ID: true}
	for current.CausationID != "" {
		if seen[current.CausationID] {
			s.logger.ErrorContext(ctx, "causation cycle detected",
				"event_id", eventID,
				"cycle_at", current.CausationID,
			)
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "causation chain contains a cycle")
		}
		parent, err := s.store.FindByID(ctx, current.CausationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				s.logger.WarnContext(ctx, "causation parent missing",
					"event_id", current.ID,
					"causation_id", current.CausationID,
				)
				break
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load causation parent")
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if s.metrics != nil {
		s.metrics.ObserveCausationDepth(len(chain))
	}
	return chain, nil
}

// VerifyIntegrity replays a stream and reports every broken invariant:
// version gaps, broken links and hashes that no longer match their fields.
// Errors describe what was found; the returned error is reserved for
// failures to read the stream at all.
func (s *Service) VerifyIntegrity(ctx context.Context, aggregateID, aggregateType string) (*models.IntegrityReport, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.VerifyIntegrity", trace.WithAttributes(
		attribute.String("aggregate.type", aggregateType),
		attribute.String("aggregate.id", aggregateID),
	))
	defer span.End()

	events, err := s.GetEventStream(ctx, aggregateID, aggregateType, 1)
	if err != nil {
		return nil, err
	}

	report := &models.IntegrityReport{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventCount:    len(events),
		Errors:        VerifyChain(events),
	}
	report.IsValid = len(report.Errors) == 0
	span.SetAttributes(attribute.Bool("integrity.valid", report.IsValid))

	if s.metrics != nil {
		s.metrics.IncrementIntegrityCheck(aggregateType, report.IsValid)
	}
	if !report.IsValid {
		s.logger.ErrorContext(ctx, "event stream integrity violation",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"errors", report.Errors,
		)
	}
	return report, nil
}

// VerifyChain checks an ordered stream against the log invariants.
func VerifyChain(events []*models.DomainEvent) []string {
	var problems []string
	for i, e := range events {
		expected := int64(i + 1)
		if e.AggregateVersion != expected {
			problems = append(problems, fmt.Sprintf(
				"version gap at event %s: expected version %d, found %d", e.ID, expected, e.AggregateVersion))
		}
		if i == 0 {
			if e.PreviousEventHash != "" {
				problems = append(problems, fmt.Sprintf(
					"first event %s carries a previous hash", e.ID))
			}
		} else if e.PreviousEventHash != events[i-1].EventHash {
			problems = append(problems, fmt.Sprintf(
				"hash chain broken at version %d: previous hash does not match event %s",
				e.AggregateVersion, events[i-1].ID))
		}
		recomputed, err := hash.EventHash(e.HashVersion, e.HashFields())
		if err != nil {
			problems = append(problems, fmt.Sprintf("cannot rehash event %s: %v", e.ID, err))
			continue
		}
		if recomputed != e.EventHash {
			problems = append(problems, fmt.Sprintf(
				"hash mismatch at version %d: event %s was modified after write", e.AggregateVersion, e.ID))
		}
	}
	return problems
}

// ListAggregates returns every stream key in the log.
func (s *Service) ListAggregates(ctx context.Context) ([]models.AggregateKey, error) {
	keys, err := s.store.ListAggregates(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list aggregates")
	}
	return keys, nil
}

// FindOrphanCausations returns events whose causation id resolves to nothing.
func (s *Service) FindOrphanCausations(ctx context.Context) ([]models.OrphanCausation, error) {
	orphans, err := s.store.FindOrphanCausations(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find orphan causations")
	}
	return orphans, nil
}
