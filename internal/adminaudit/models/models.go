package models

import (
	"encoding/json"
	"time"

	"covenant/internal/integrity/hash"
)

// Entry is one privileged action in the global admin chain.
type Entry struct {
	ID                string
	Sequence          int64
	AdminID           string
	Action            string
	EntityType        string
	EntityID          string
	Before            json.RawMessage
	After             json.RawMessage
	Reason            string
	IPAddress         string
	UserAgent         string
	RequestID         string
	Timestamp         time.Time
	PreviousAuditHash string
	AuditHash         string
	HashVersion       hash.Version
}

func (e *Entry) HashFields() hash.AuditFields {
	return hash.AuditFields{
		AdminID:           e.AdminID,
		Action:            e.Action,
		EntityType:        e.EntityType,
		EntityID:          e.EntityID,
		Before:            e.Before,
		After:             e.After,
		Reason:            e.Reason,
		Timestamp:         e.Timestamp,
		PreviousAuditHash: e.PreviousAuditHash,
	}
}

// ReportFilter selects entries for the activity report. Zero values are unset.
type ReportFilter struct {
	AdminID string
	From    time.Time
	To      time.Time
	Limit   int
}

const MaxReportLimit = 1000

func (f ReportFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxReportLimit {
		return MaxReportLimit
	}
	return f.Limit
}

type IntegrityReport struct {
	IsValid    bool      `json:"isValid"`
	EntryCount int       `json:"entryCount"`
	Errors     []string  `json:"errors"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Sensitive actions raise an anomaly every time they are performed.
var SensitiveActions = map[string]bool{
	"DELETE_INVOICE":   true,
	"DELETE_CONTRACT":  true,
	"DELETE_PAYMENT":   true,
	"BULK_DELETE":      true,
	"EXPORT_ALL_DATA":  true,
	"MODIFY_AUDIT_LOG": true,
}

type AnomalyKind string

const (
	AnomalyHighVolume      AnomalyKind = "HIGH_VOLUME"
	AnomalySensitiveAction AnomalyKind = "SENSITIVE_ACTION"
	AnomalyScriptedAccess  AnomalyKind = "SCRIPTED_ADMIN_ACCESS"
)
