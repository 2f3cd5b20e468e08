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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"covenant/internal/eventstore/metrics"
	"covenant/internal/eventstore/models"
	"covenant/internal/integrity/hash"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

// Service is the write and read boundary of the hash-chained event log. The
// log is the source of truth; any current-state table is a projection of it.
type Service struct {
	store   Store
	tx      txcontext.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
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

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, runner txcontext.Runner, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	svc := &Service{
		store:  store,
		tx:     runner,
		logger: slog.Default(),
		tracer: otel.Tracer("covenant/eventstore"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Append writes one event after checking it is the next version of its
// aggregate. The check and the insert share a serializable transaction, so
// two writers racing for the same version cannot both commit. Conflicts are
// returned to the caller, who decides whether to reload and retry.
func (s *Service) Append(ctx context.Context, event *models.DomainEvent) (*models.DomainEvent, error) {
	if event == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "event is required")
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "eventstore.Append", trace.WithAttributes(
		attribute.String("aggregate.type", event.AggregateType),
		attribute.String("aggregate.id", event.AggregateID),
		attribute.Int64("aggregate.version", event.AggregateVersion),
	))
	defer span.End()

	prepared, err := s.prepare(ctx, event)
	if err != nil {
		return nil, err
	}

	var stored *models.DomainEvent
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.link(ctx, prepared, nil); err != nil {
			return err
		}
		stored = prepared
		return s.store.Insert(ctx, prepared)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.translateAppendErr(ctx, err, prepared.AggregateType, prepared.AggregateID)
	}

	if s.metrics != nil {
		s.metrics.ObserveAppend(start)
		s.metrics.IncrementAppended(stored.AggregateType, 1)
	}
	s.logger.DebugContext(ctx, "domain event appended",
		"event_id", stored.ID,
		"event_type", stored.Type,
		"aggregate_type", stored.AggregateType,
		"aggregate_id", stored.AggregateID,
		"version", stored.AggregateVersion,
	)
	return stored, nil
}

// AppendBatch writes events in submission order within one transaction,
// chaining each to its predecessor, including predecessors earlier in the
// same batch. Intended for migrations and seeding.
func (s *Service) AppendBatch(ctx context.Context, events []*models.DomainEvent) ([]*models.DomainEvent, error) {
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "batch must contain at least one event")
	}
	ctx, span := s.tracer.Start(ctx, "eventstore.AppendBatch", trace.WithAttributes(
		attribute.Int("batch.size", len(events)),
	))
	defer span.End()

	prepared := make([]*models.DomainEvent, 0, len(events))
	for i, e := range events {
		p, err := s.prepare(ctx, e)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.GetCode(err), fmt.Sprintf("batch event %d", i))
		}
		prepared = append(prepared, p)
	}

	// Link the whole batch before inserting anything so a version conflict
	// anywhere leaves the log untouched even without a rollback.
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		pending := make(map[models.AggregateKey]*models.DomainEvent)
		for _, p := range prepared {
			if err := s.link(ctx, p, pending); err != nil {
				return err
			}
		}
		for _, p := range prepared {
			if err := s.store.Insert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.translateAppendErr(ctx, err, "batch", "")
	}

	if s.metrics != nil {
		for _, e := range prepared {
			s.metrics.IncrementAppended(e.AggregateType, 1)
		}
	}
	s.logger.InfoContext(ctx, "domain event batch appended", "count", len(prepared))
	return prepared, nil
}

// AppendCompensation records a compensating event against a frozen aggregate
// instead of rewriting it. The reversed event must belong to the same stream;
// it becomes the causation of the compensating event.
func (s *Service) AppendCompensation(ctx context.Context, in CompensationInput) (*models.DomainEvent, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "compensation reason is required")
	}
	if in.EventType == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "compensation event type is required")
	}
	reversed, err := s.store.FindByID(ctx, in.ReversedEventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "reversed event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reversed event")
	}
	if reversed.AggregateType != in.AggregateType || reversed.AggregateID != in.AggregateID {
		return nil, dErrors.New(dErrors.CodeValidation, "reversed event belongs to a different aggregate")
	}

	payload, err := json.Marshal(map[string]any{
		"reversedEventId":   reversed.ID,
		"reversedEventType": reversed.Type,
		"reason":            in.Reason,
		"details":           in.Details,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode compensation payload")
	}

	var stored *models.DomainEvent
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		latest, err := s.store.Latest(ctx, in.AggregateType, in.AggregateID)
		if err != nil {
			return err
		}
		prepared, err := s.prepare(ctx, &models.DomainEvent{
			Type:             in.EventType,
			CausationID:      reversed.ID,
			CorrelationID:    reversed.CorrelationID,
			AggregateID:      in.AggregateID,
			AggregateType:    in.AggregateType,
			AggregateVersion: latest.AggregateVersion + 1,
			Payload:          payload,
		})
		if err != nil {
			return err
		}
		if err := s.link(ctx, prepared, nil); err != nil {
			return err
		}
		stored = prepared
		return s.store.Insert(ctx, prepared)
	})
	if err != nil {
		return nil, s.translateAppendErr(ctx, err, in.AggregateType, in.AggregateID)
	}
	s.logger.WarnContext(ctx, "compensating event recorded",
		"event_type", stored.Type,
		"aggregate_type", stored.AggregateType,
		"aggregate_id", stored.AggregateID,
		"reversed_event_id", reversed.ID,
		"actor_id", stored.Metadata.ActorID,
		"reason", in.Reason,
	)
	return stored, nil
}

// CompensationInput describes a compensating event.
type CompensationInput struct {
	AggregateType   string
	AggregateID     string
	EventType       string
	ReversedEventID string
	Reason          string
	Details         map[string]any
}

// link checks e is the next version of its aggregate and sets both hashes.
// pending holds predecessors not yet visible in the store (batch appends).
func (s *Service) link(ctx context.Context, e *models.DomainEvent, pending map[models.AggregateKey]*models.DomainEvent) error {
	key := models.AggregateKey{AggregateType: e.AggregateType, AggregateID: e.AggregateID}

	prev, ok := pending[key]
	if !ok {
		latest, err := s.store.Latest(ctx, e.AggregateType, e.AggregateID)
		switch {
		case err == nil:
			prev = latest
		case errors.Is(err, sentinel.ErrNotFound):
			prev = nil
		default:
			return err
		}
	}

	if prev == nil {
		if e.AggregateVersion != 1 {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf(
				"version conflict for %s %s: first event must be version 1, got %d",
				e.AggregateType, e.AggregateID, e.AggregateVersion))
		}
		e.PreviousEventHash = ""
	} else {
		if e.AggregateVersion != prev.AggregateVersion+1 {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf(
				"version conflict for %s %s: expected %d, got %d",
				e.AggregateType, e.AggregateID, prev.AggregateVersion+1, e.AggregateVersion))
		}
		e.PreviousEventHash = prev.EventHash
	}

	e.HashVersion = hash.Current
	digest, err := hash.EventHash(e.HashVersion, e.HashFields())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "failed to hash event")
	}
	e.EventHash = digest

	if pending != nil {
		pending[key] = e
	}
	return nil
}

// prepare validates caller input and stamps server-owned fields. The caller's
// event is not modified.
func (s *Service) prepare(ctx context.Context, in *models.DomainEvent) (*models.DomainEvent, error) {
	if in == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "event is required")
	}
	e := *in
	if strings.TrimSpace(e.Type) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "event type is required")
	}
	if strings.TrimSpace(e.AggregateID) == "" || strings.TrimSpace(e.AggregateType) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "aggregate id and type are required")
	}
	if e.AggregateVersion < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "aggregate version must be at least 1")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, err := uuid.Parse(e.ID); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event id must be a UUID")
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	} else if !json.Valid(e.Payload) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event payload must be valid JSON")
	}
	e.Payload = append(json.RawMessage(nil), e.Payload...)

	if e.Metadata.ActorID == "" {
		e.Metadata.ActorID = requestcontext.ActorID(ctx)
	}
	if e.Metadata.ActorRole == "" {
		e.Metadata.ActorRole = requestcontext.ActorRole(ctx)
	}
	if e.Metadata.ActorID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "actor id is required")
	}
	if e.Metadata.IPAddress == "" {
		e.Metadata.IPAddress = requestcontext.ClientIP(ctx)
	}
	if e.Metadata.UserAgent == "" {
		e.Metadata.UserAgent = requestcontext.UserAgent(ctx)
	}
	if e.Metadata.Source == "" {
		e.Metadata.Source = requestcontext.Source(ctx)
	}
	now := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	e.Metadata.Timestamp = now
	e.OccurredAt = now

	if e.CorrelationID == "" {
		e.CorrelationID = requestcontext.CorrelationID(ctx)
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.ID
	}
	e.PreviousEventHash = ""
	e.EventHash = ""
	return &e, nil
}

func (s *Service) translateAppendErr(ctx context.Context, err error, aggregateType, aggregateID string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		if de.Code == dErrors.CodeConflict {
			s.recordConflict(ctx, aggregateType, aggregateID, err)
		}
		return err
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrDuplicate):
		s.recordConflict(ctx, aggregateType, aggregateID, err)
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent append to the same aggregate")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "aggregate not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append event")
	}
}

func (s *Service) recordConflict(ctx context.Context, aggregateType, aggregateID string, err error) {
	if s.metrics != nil {
		s.metrics.IncrementConflicts()
	}
	s.logger.WarnContext(ctx, "event append conflict",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"error", err,
	)
}
