// Package statemachine validates status changes against per-entity
// transition tables before anything is written.
//
// Entity types form a closed set. Each variant owns its table through an
// exhaustive switch, so adding a type without a table fails review rather
// than surfacing as a runtime lookup miss.
package statemachine

import (
	"strings"

	dErrors "covenant/pkg/domain-errors"
)

// EntityType is one of the regulated entity kinds.
type EntityType int

const (
	Invoice EntityType = iota + 1
	Contract
	Payment
	Maintenance
	Dispute
)

// EntityTypes lists every variant.
var EntityTypes = []EntityType{Invoice, Contract, Payment, Maintenance, Dispute}

func (t EntityType) String() string {
	switch t {
	case Invoice:
		return "INVOICE"
	case Contract:
		return "CONTRACT"
	case Payment:
		return "PAYMENT"
	case Maintenance:
		return "MAINTENANCE"
	case Dispute:
		return "DISPUTE"
	}
	return "UNKNOWN"
}

// IsValid reports whether t is a declared variant.
func (t EntityType) IsValid() bool {
	return t >= Invoice && t <= Dispute
}

// ParseEntityType maps a stored or wire name to its variant.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INVOICE":
		return Invoice, nil
	case "CONTRACT":
		return Contract, nil
	case "PAYMENT":
		return Payment, nil
	case "MAINTENANCE":
		return Maintenance, nil
	case "DISPUTE":
		return Dispute, nil
	}
	return 0, dErrors.New(dErrors.CodeValidation, "unknown entity type: "+s)
}

// transitions maps a state to the states reachable from it. A state with an
// empty list is terminal; a state absent from the map is not a state of the
// entity at all.
type transitions map[string][]string

func (t EntityType) table() transitions {
	switch t {
	case Invoice:
		// PAID is a freeze milestone; reversals are compensating events, not transitions.
		return transitions{
			"DRAFT":     {"PENDING", "CANCELLED"},
			"PENDING":   {"PAID", "OVERDUE", "CANCELLED"},
			"OVERDUE":   {"PAID", "BAD_DEBT"},
			"PAID":      {},
			"CANCELLED": {},
			"BAD_DEBT":  {},
		}
	case Contract:
		return transitions{
			"DRAFT":             {"PENDING_SIGNATURE", "CANCELLED"},
			"PENDING_SIGNATURE": {"DEPOSIT_PENDING", "CANCELLED"},
			"DEPOSIT_PENDING":   {"ACTIVE", "CANCELLED"},
			"ACTIVE":            {"TERMINATED", "EXPIRED"},
			"TERMINATED":        {},
			"EXPIRED":           {},
			"CANCELLED":         {},
		}
	case Payment:
		return transitions{
			"PENDING":   {"COMPLETED", "FAILED"},
			"COMPLETED": {"REFUNDED"},
			"FAILED":    {"PENDING"},
			"REFUNDED":  {},
		}
	case Maintenance:
		return transitions{
			"PENDING":     {"IN_PROGRESS", "CANCELLED"},
			"IN_PROGRESS": {"COMPLETED", "CANCELLED"},
			"COMPLETED":   {},
			"CANCELLED":   {},
		}
	case Dispute:
		return transitions{
			"OPEN":      {"APPROVED", "REJECTED", "PARTIAL", "ESCALATED"},
			"APPROVED":  {},
			"REJECTED":  {},
			"PARTIAL":   {},
			"ESCALATED": {},
		}
	}
	return nil
}
