// Package alerts delivers integrity and security alerts to operators.
// Publishers are best effort from the caller's point of view: a failed alert
// is logged by the caller and never fails the action that raised it.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"

	audit "covenant/pkg/platform/audit"
)

// Kind groups alerts for routing on the consumer side.
type Kind string

const (
	KindAdminAnomaly      Kind = "ADMIN_ANOMALY"
	KindAuditChainBroken  Kind = "AUDIT_CHAIN_BROKEN"
	KindEventChainBroken  Kind = "EVENT_CHAIN_BROKEN"
	KindIntegrityJobFault Kind = "INTEGRITY_JOB_FAILED"
)

type Alert struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"kind"`
	Severity audit.Severity `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Subject  string         `json:"subject,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	RaisedAt time.Time      `json:"raisedAt"`
}

// Publisher sends alerts.
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
}

func (a *Alert) normalize(now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = now.UTC()
	}
	if a.Severity == "" {
		a.Severity = audit.SeverityHigh
	}
}
