// Package immutability blocks writes to entities that have reached a freeze
// milestone. Blocked attempts are recorded in the compliance audit log.
package immutability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"covenant/internal/statemachine"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
)

// ViolationSink records blocked writes. compliance.Publisher satisfies it.
type ViolationSink interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type Guard struct {
	sink    ViolationSink
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func New(sink ViolationSink, opts ...Option) *Guard {
	g := &Guard{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnforceImmutability returns nil when the update may proceed. Once the
// entity sits at a milestone, any key of updateFields outside the allow-list
// rejects the whole update.
func (g *Guard) EnforceImmutability(
	ctx context.Context,
	entityType statemachine.EntityType,
	entityID, currentStatus string,
	updateFields map[string]any,
	userID string,
) error {
	rule, ok := ruleFor(entityType)
	if !ok {
		g.logger.WarnContext(ctx, "no freeze rule defined for entity type",
			"entity_type", entityType.String(),
			"entity_id", entityID,
		)
		return nil
	}
	if !rule.isMilestone(currentStatus) {
		return nil
	}

	var forbidden []string
	for field := range updateFields {
		if !rule.allows(field) {
			forbidden = append(forbidden, field)
		}
	}
	if len(forbidden) == 0 {
		return nil
	}
	sort.Strings(forbidden)

	if g.metrics != nil {
		g.metrics.IncViolation(entityType.String())
	}
	g.logger.ErrorContext(ctx, "freeze violation blocked",
		"entity_type", entityType.String(),
		"entity_id", entityID,
		"status", currentStatus,
		"forbidden_fields", forbidden,
		"actor_id", userID,
	)
	g.record(ctx, rule, entityID, currentStatus, forbidden, userID)

	msg := fmt.Sprintf("%s %s is frozen at status %s: %s. Cannot modify fields: %s",
		entityType, entityID, currentStatus, rule.Reason, strings.Join(forbidden, ", "))
	if len(rule.AllowedFields) > 0 {
		msg += ". Allowed fields: " + strings.Join(rule.AllowedFields, ", ")
	}
	return dErrors.New(dErrors.CodeIntegrity, msg)
}

func (g *Guard) record(ctx context.Context, rule FreezeRule, entityID, status string, forbidden []string, userID string) {
	if g.sink == nil {
		return
	}
	err := g.sink.Emit(ctx, audit.ComplianceEvent{
		ActorID:    userID,
		Action:     audit.EventFreezeViolationBlocked,
		EntityType: rule.EntityType.String(),
		EntityID:   entityID,
		Severity:   audit.SeverityHigh,
		Reason:     rule.Reason,
		Details: map[string]any{
			"status":           status,
			"forbidden_fields": forbidden,
		},
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to record freeze violation",
			"entity_type", rule.EntityType.String(),
			"entity_id", entityID,
			"error", err,
		)
	}
}

// IsFrozen reports whether status is a freeze milestone for the entity type.
func (g *Guard) IsFrozen(entityType statemachine.EntityType, status string) bool {
	rule, ok := ruleFor(entityType)
	return ok && rule.isMilestone(status)
}

// GetFreezeReason returns the human-readable reason for the entity type's rule.
func (g *Guard) GetFreezeReason(entityType statemachine.EntityType) (string, bool) {
	rule, ok := ruleFor(entityType)
	if !ok {
		return "", false
	}
	return rule.Reason, true
}
