package models

import (
	"encoding/json"
	"time"

	"covenant/internal/integrity/hash"
)

const (
	DefaultQueryLimit = 1000
	MaxQueryLimit     = 1000
)

// DomainEvent is an immutable fact about one aggregate. Once written it is
// never updated or deleted.
type DomainEvent struct {
	ID                string
	Type              string
	CausationID       string
	CorrelationID     string
	AggregateID       string
	AggregateType     string
	AggregateVersion  int64
	Payload           json.RawMessage
	Metadata          Metadata
	PreviousEventHash string
	EventHash         string
	HashVersion       hash.Version
	OccurredAt        time.Time
}

// Metadata describes who caused the event and when. Timestamp comes from the
// authoritative clock, never from caller input.
type Metadata struct {
	ActorID   string    `json:"actorId"`
	ActorRole string    `json:"actorRole"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// HashFields returns the tuple the event hash is computed over.
func (e *DomainEvent) HashFields() hash.EventFields {
	md := e.Metadata
	md.Timestamp = md.Timestamp.UTC().Truncate(time.Microsecond)
	return hash.EventFields{
		EventID:           e.ID,
		EventType:         e.Type,
		AggregateID:       e.AggregateID,
		AggregateType:     e.AggregateType,
		AggregateVersion:  e.AggregateVersion,
		Payload:           e.Payload,
		Metadata:          md,
		CausationID:       e.CausationID,
		CorrelationID:     e.CorrelationID,
		PreviousEventHash: e.PreviousEventHash,
	}
}

// AggregateKey identifies one event stream.
type AggregateKey struct {
	AggregateType string
	AggregateID   string
}

// Filter narrows Query results. Zero-valued fields are ignored.
type Filter struct {
	AggregateID   string
	AggregateType string
	EventTypes    []string
	CorrelationID string
	ActorID       string
	From          time.Time
	To            time.Time
	Limit         int
}

// EffectiveLimit applies the default and the cap.
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return f.Limit
}

// Matches reports whether e satisfies every set criterion.
func (f Filter) Matches(e *DomainEvent) bool {
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.ActorID != "" && e.Metadata.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.OccurredAt.After(f.To) {
		return false
	}
	return true
}

// IntegrityReport is the outcome of replaying one stream.
type IntegrityReport struct {
	AggregateID   string   `json:"aggregateId"`
	AggregateType string   `json:"aggregateType"`
	IsValid       bool     `json:"isValid"`
	EventCount    int      `json:"eventCount"`
	Errors        []string `json:"errors,omitempty"`
}

// OrphanCausation is an event whose causation id resolves to no event.
type OrphanCausation struct {
	EventID     string
	CausationID string
}
