package immutability

import "covenant/internal/statemachine"

// FreezeRule names the statuses after which an entity stops accepting writes,
// and the fields that remain writable. Anything not listed is frozen, so a
// field added to an entity later is frozen by default.
type FreezeRule struct {
	EntityType      statemachine.EntityType
	MilestoneStatus []string
	AllowedFields   []string
	Reason          string
}

// ruleFor returns the freeze rule for an entity type. Every declared type
// has one.
func ruleFor(t statemachine.EntityType) (FreezeRule, bool) {
	switch t {
	case statemachine.Invoice:
		return FreezeRule{
			EntityType:      t,
			MilestoneStatus: []string{"PAID", "BAD_DEBT"},
			AllowedFields:   []string{"internalNotes", "tags"},
			Reason:          "Invoice cannot be modified after payment. Legal requirement.",
		}, true
	case statemachine.Contract:
		return FreezeRule{
			EntityType:      t,
			MilestoneStatus: []string{"ACTIVE", "TERMINATED", "EXPIRED"},
			AllowedFields:   []string{"internalNotes", "handoverChecklist"},
			Reason:          "Contract cannot be modified after activation. Legal binding.",
		}, true
	case statemachine.Payment:
		return FreezeRule{
			EntityType:      t,
			MilestoneStatus: []string{"COMPLETED", "REFUNDED"},
			Reason:          "Payment records are immutable after completion. Financial audit requirement.",
		}, true
	case statemachine.Maintenance:
		return FreezeRule{
			EntityType:      t,
			MilestoneStatus: []string{"COMPLETED"},
			AllowedFields:   []string{"feedbackNotes", "rating"},
			Reason:          "Completed maintenance cannot be modified. Quality audit trail.",
		}, true
	case statemachine.Dispute:
		return FreezeRule{
			EntityType:      t,
			MilestoneStatus: []string{"APPROVED", "REJECTED", "PARTIAL", "ESCALATED"},
			AllowedFields:   []string{"internalNotes"},
			Reason:          "Resolved disputes are final. Legal requirement.",
		}, true
	}
	return FreezeRule{}, false
}

func (r FreezeRule) isMilestone(status string) bool {
	for _, s := range r.MilestoneStatus {
		if s == status {
			return true
		}
	}
	return false
}

func (r FreezeRule) allows(field string) bool {
	for _, f := range r.AllowedFields {
		if f == field {
			return true
		}
	}
	return false
}
