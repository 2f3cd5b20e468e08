package immutability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"covenant/internal/statemachine"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/audit/publishers/compliance"
	"covenant/pkg/platform/audit/store/memory"
)

type GuardSuite struct {
	suite.Suite
	store *memory.InMemoryStore
	guard *Guard
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.guard = New(compliance.New(s.store))
}

type brokenSink struct{}

func (brokenSink) Emit(context.Context, audit.ComplianceEvent) error {
	return errors.New("audit store down")
}

func (s *GuardSuite) TestEnforceImmutability() {
	ctx := context.Background()

	s.Run("not at milestone allows any field", func() {
		err := s.guard.EnforceImmutability(ctx, statemachine.Invoice, "inv-1", "PENDING",
			map[string]any{"amount": 100}, "user-1")
		s.Require().NoError(err)
	})

	s.Run("allowed fields pass after freeze", func() {
		err := s.guard.EnforceImmutability(ctx, statemachine.Invoice, "inv-1", "PAID",
			map[string]any{"internalNotes": "x", "tags": []string{"a"}}, "user-1")
		s.Require().NoError(err)
		s.Empty(s.store.ListByAction(audit.EventFreezeViolationBlocked))
	})

	s.Run("forbidden field rejects and records violation", func() {
		s.store.Clear()
		err := s.guard.EnforceImmutability(ctx, statemachine.Invoice, "inv-1", "PAID",
			map[string]any{"amount": 200, "internalNotes": "x", "dueDate": "2025-01-01"}, "user-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
		s.Contains(err.Error(), "amount, dueDate")
		s.Contains(err.Error(), "Allowed fields: internalNotes, tags")

		events := s.store.ListByAction(audit.EventFreezeViolationBlocked)
		s.Require().Len(events, 1)
		s.Equal(audit.SeverityHigh, events[0].Severity)
		s.Equal("INVOICE", events[0].EntityType)
		s.Equal("user-1", events[0].ActorID)
		s.Equal([]string{"amount", "dueDate"}, events[0].Details["forbidden_fields"])
	})

	s.Run("payment has no allowed fields", func() {
		err := s.guard.EnforceImmutability(ctx, statemachine.Payment, "pay-1", "COMPLETED",
			map[string]any{"notes": "x"}, "user-1")
		s.Require().Error(err)
		s.NotContains(err.Error(), "Allowed fields")
	})

	s.Run("resolved dispute is frozen", func() {
		err := s.guard.EnforceImmutability(ctx, statemachine.Dispute, "d-1", "ESCALATED",
			map[string]any{"claimAmount": 1}, "admin-1")
		s.Require().Error(err)
	})

	s.Run("sink failure never turns a rejection into an allow", func() {
		g := New(brokenSink{})
		err := g.EnforceImmutability(ctx, statemachine.Contract, "c-1", "ACTIVE",
			map[string]any{"rent": 1}, "user-1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))
	})

	s.Run("undeclared entity type is allowed", func() {
		err := s.guard.EnforceImmutability(ctx, statemachine.EntityType(99), "x", "PAID",
			map[string]any{"amount": 1}, "user-1")
		s.Require().NoError(err)
	})
}

func (s *GuardSuite) TestHelpers() {
	s.True(s.guard.IsFrozen(statemachine.Invoice, "BAD_DEBT"))
	s.False(s.guard.IsFrozen(statemachine.Invoice, "OVERDUE"))
	s.False(s.guard.IsFrozen(statemachine.EntityType(99), "PAID"))

	reason, ok := s.guard.GetFreezeReason(statemachine.Maintenance)
	s.True(ok)
	s.Equal("Completed maintenance cannot be modified. Quality audit trail.", reason)

	_, ok = s.guard.GetFreezeReason(statemachine.EntityType(0))
	s.False(ok)
}

// Freeze milestones must be real states of the entity's state machine.
func (s *GuardSuite) TestMilestonesAreKnownStates() {
	sm := statemachine.NewGuard()
	for _, et := range statemachine.EntityTypes {
		rule, ok := ruleFor(et)
		s.Require().True(ok, et.String())
		for _, status := range rule.MilestoneStatus {
			s.True(sm.IsValidState(et, status), "%s %s", et, status)
		}
	}
	// A paid invoice can neither change fields nor leave PAID.
	s.True(sm.IsTerminalState(statemachine.Invoice, "PAID"))
}
