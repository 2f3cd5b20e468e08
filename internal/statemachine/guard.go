package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	dErrors "covenant/pkg/domain-errors"
)

// Guard validates proposed status changes. It never touches storage.
type Guard struct {
	logger *slog.Logger
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateTransition returns nil when from -> to is permitted for the entity.
// A same-state change is a no-op. An unknown source state means stored data
// is outside the model and is reported as an invariant violation, distinct
// from an ordinary illegal transition.
func (g *Guard) ValidateTransition(ctx context.Context, entityType EntityType, entityID, from, to, actorID, reason string) error {
	table := entityType.table()
	if table == nil {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("no transition table for entity type %d", entityType))
	}

	if from == to {
		g.logger.DebugContext(ctx, "same-state transition ignored",
			"entity_type", entityType.String(),
			"entity_id", entityID,
			"state", from,
		)
		return nil
	}

	allowed, known := table[from]
	if !known {
		g.logger.ErrorContext(ctx, "transition from unknown state",
			"entity_type", entityType.String(),
			"entity_id", entityID,
			"from_state", from,
			"to_state", to,
			"actor_id", actorID,
		)
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf(
			"%s %s is in unknown state %q", entityType, entityID, from))
	}

	if slices.Contains(allowed, to) {
		return nil
	}

	g.logger.WarnContext(ctx, "illegal state transition blocked",
		"entity_type", entityType.String(),
		"entity_id", entityID,
		"from_state", from,
		"to_state", to,
		"actor_id", actorID,
		"reason", reason,
	)
	if len(allowed) == 0 {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf(
			"invalid transition for %s %s: %s is terminal, cannot move to %s",
			entityType, entityID, from, to))
	}
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf(
		"invalid transition for %s %s: %s -> %s (allowed: %s)",
		entityType, entityID, from, to, strings.Join(allowed, ", ")))
}

// IsTerminalState reports whether no transition leaves state. Unknown states
// are treated as terminal.
func (g *Guard) IsTerminalState(entityType EntityType, state string) bool {
	return len(entityType.table()[state]) == 0
}

// GetAllowedTransitions returns a copy of the states reachable from state.
func (g *Guard) GetAllowedTransitions(entityType EntityType, state string) []string {
	return slices.Clone(entityType.table()[state])
}

// IsValidState reports whether state belongs to the entity's model.
func (g *Guard) IsValidState(entityType EntityType, state string) bool {
	_, ok := entityType.table()[state]
	return ok
}

// States returns every state of the entity's model, sorted.
func (g *Guard) States(entityType EntityType) []string {
	table := entityType.table()
	states := make([]string, 0, len(table))
	for s := range table {
		states = append(states, s)
	}
	slices.Sort(states)
	return states
}
