package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: blocked
	// writes to frozen records, integrity verification results.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that feed alerting: admin anomalies,
	// broken hash chains.
	CategorySecurity EventCategory = "security"
)

// Severity ranks events for routing and paging.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Event is the stored form of every audit record.
type Event struct {
	ID         string
	Category   EventCategory
	Timestamp  time.Time
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Severity   Severity
	Reason     string
	Details    map[string]any
	RequestID  string
}

type AuditEvent string

const (
	EventFreezeViolationBlocked  AuditEvent = "FREEZE_VIOLATION_BLOCKED"
	EventLegalIntegrityVerified  AuditEvent = "LEGAL_INTEGRITY_VERIFIED"
	EventLegalIntegrityFailed    AuditEvent = "LEGAL_INTEGRITY_FAILED"
	EventDisputeAutoResolved     AuditEvent = "DISPUTE_AUTO_RESOLVED"
	EventAdminAnomalyDetected    AuditEvent = "ADMIN_ANOMALY_DETECTED"
	EventAuditChainBroken        AuditEvent = "AUDIT_CHAIN_BROKEN"
	EventEventChainBroken        AuditEvent = "EVENT_CHAIN_BROKEN"
	EventIdempotencyRaceResolved AuditEvent = "IDEMPOTENCY_RACE_RESOLVED"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventFreezeViolationBlocked: CategoryCompliance,
	EventLegalIntegrityVerified: CategoryCompliance,
	EventLegalIntegrityFailed:   CategoryCompliance,
	EventDisputeAutoResolved:    CategoryCompliance,

	EventAdminAnomalyDetected:    CategorySecurity,
	EventAuditChainBroken:        CategorySecurity,
	EventEventChainBroken:        CategorySecurity,
	EventIdempotencyRaceResolved: CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategorySecurity so they are never sampled away.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategorySecurity
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// -----------------------------------------------------------------------------
// Right-sized event types for the two publishers
// -----------------------------------------------------------------------------

// ComplianceEvent is persisted synchronously; a failed write fails the caller.
type ComplianceEvent struct {
	Timestamp  time.Time
	ActorID    string
	Action     AuditEvent
	EntityType string
	EntityID   string
	Severity   Severity
	Reason     string
	Details    map[string]any
	RequestID  string
}

// ToEvent converts to the stored form.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:   CategoryCompliance,
		Timestamp:  e.Timestamp,
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Severity:   e.Severity,
		Reason:     e.Reason,
		Details:    e.Details,
		RequestID:  e.RequestID,
	}
}

// SecurityEvent is buffered and delivered asynchronously.
type SecurityEvent struct {
	Timestamp  time.Time
	ActorID    string
	Action     AuditEvent
	EntityType string
	EntityID   string
	Severity   Severity
	Reason     string
	IP         string
	Details    map[string]any
	RequestID  string
}

// ToEvent converts to the stored form. The client IP travels in Details.
func (e SecurityEvent) ToEvent() Event {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	if e.IP != "" {
		details["ip"] = e.IP
	}
	return Event{
		Category:   CategorySecurity,
		Timestamp:  e.Timestamp,
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Severity:   e.Severity,
		Reason:     e.Reason,
		Details:    details,
		RequestID:  e.RequestID,
	}
}
