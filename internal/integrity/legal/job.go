// Package legal runs the daily legal-integrity verification: every event
// stream, causation references, the admin audit chain and idempotency key
// expiry. The result is signed and recorded as a compliance event so the
// verification itself is evidence.
package legal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	adminmodels "covenant/internal/adminaudit/models"
	"covenant/internal/alerts"
	esmodels "covenant/internal/eventstore/models"
	"covenant/internal/integrity/attest"
	"covenant/internal/integrity/hash"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/requestcontext"
)

// AttestationPurpose binds summary signatures to this job.
const AttestationPurpose = "legal-integrity-summary"

const (
	systemActor        = "SYSTEM"
	defaultConcurrency = 8
)

type EventVerifier interface {
	ListAggregates(ctx context.Context) ([]esmodels.AggregateKey, error)
	VerifyIntegrity(ctx context.Context, aggregateID, aggregateType string) (*esmodels.IntegrityReport, error)
	FindOrphanCausations(ctx context.Context) ([]esmodels.OrphanCausation, error)
}

type AuditVerifier interface {
	VerifyAuditIntegrity(ctx context.Context) (*adminmodels.IntegrityReport, error)
}

type KeyCleaner interface {
	CleanupExpiredKeys(ctx context.Context) (int64, error)
}

type ComplianceEmitter interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type Signer interface {
	Sign(purpose, digest string) (attest.Signature, error)
}

type Verifier interface {
	Verify(purpose, digest string, sig attest.Signature) error
}

// Summary is the attested result of one run.
type Summary struct {
	RunAt              time.Time                  `json:"runAt"`
	AggregatesChecked  int                        `json:"aggregatesChecked"`
	EventsChecked      int                        `json:"eventsChecked"`
	BrokenAggregates   []esmodels.IntegrityReport `json:"brokenAggregates,omitempty"`
	OrphanCausations   []esmodels.OrphanCausation `json:"orphanCausations,omitempty"`
	AdminAuditValid    bool                       `json:"adminAuditValid"`
	AdminAuditEntries  int                        `json:"adminAuditEntries"`
	AdminAuditErrors   []string                   `json:"adminAuditErrors,omitempty"`
	ExpiredKeysDeleted int64                      `json:"expiredKeysDeleted"`
	// Failures lists checks that could not run at all.
	Failures  []string          `json:"failures,omitempty"`
	Passed    bool              `json:"passed"`
	Digest    string            `json:"digest"`
	Signature *attest.Signature `json:"signature,omitempty"`
}

// ComputeDigest hashes every field except the digest and the signature.
func (s *Summary) ComputeDigest() (string, error) {
	c := *s
	c.Digest = ""
	c.Signature = nil
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal integrity summary: %w", err)
	}
	return hash.ResultHash(data), nil
}

// VerifyAttestation checks that s is unaltered and was signed by a key in v.
func VerifyAttestation(v Verifier, s *Summary) error {
	digest, err := s.ComputeDigest()
	if err != nil {
		return err
	}
	if digest != s.Digest {
		return fmt.Errorf("integrity summary digest mismatch")
	}
	if s.Signature == nil {
		return fmt.Errorf("integrity summary is not signed")
	}
	return v.Verify(AttestationPurpose, digest, *s.Signature)
}

type Job struct {
	events      EventVerifier
	audit       AuditVerifier
	keys        KeyCleaner
	compliance  ComplianceEmitter
	signer      Signer
	alerts      alerts.Publisher
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Job)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

func WithSigner(s Signer) Option {
	return func(j *Job) {
		j.signer = s
	}
}

func WithAlerts(p alerts.Publisher) Option {
	return func(j *Job) {
		j.alerts = p
	}
}

// WithConcurrency bounds how many streams are verified at once.
func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

func New(events EventVerifier, auditVerifier AuditVerifier, keys KeyCleaner, compliance ComplianceEmitter, opts ...Option) (*Job, error) {
	if events == nil || auditVerifier == nil || keys == nil || compliance == nil {
		return nil, fmt.Errorf("event verifier, audit verifier, key cleaner and compliance emitter are required")
	}
	j := &Job{
		events:      events,
		audit:       auditVerifier,
		keys:        keys,
		compliance:  compliance,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer("covenant/integrity/legal"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run performs every check, records the signed summary and alerts on
// failures. Individual check failures are part of the summary; the returned
// error means the summary itself could not be recorded.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	ctx = requestcontext.WithActor(ctx, systemActor, systemActor)
	ctx, span := j.tracer.Start(ctx, "legal.IntegrityJob.Run")
	defer span.End()

	start := time.Now()
	summary := &Summary{RunAt: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)}

	j.verifyStreams(ctx, summary)

	orphans, err := j.events.FindOrphanCausations(ctx)
	if err != nil {
		summary.Failures = append(summary.Failures, "orphan causation scan: "+err.Error())
	} else {
		summary.OrphanCausations = orphans
	}

	report, err := j.audit.VerifyAuditIntegrity(ctx)
	if err != nil {
		summary.Failures = append(summary.Failures, "admin audit verification: "+err.Error())
	} else {
		summary.AdminAuditValid = report.IsValid
		summary.AdminAuditEntries = report.EntryCount
		summary.AdminAuditErrors = report.Errors
	}

	deleted, err := j.keys.CleanupExpiredKeys(ctx)
	if err != nil {
		summary.Failures = append(summary.Failures, "idempotency cleanup: "+err.Error())
	}
	summary.ExpiredKeysDeleted = deleted

	summary.Passed = len(summary.BrokenAggregates) == 0 &&
		len(summary.OrphanCausations) == 0 &&
		summary.AdminAuditValid &&
		len(summary.Failures) == 0

	if err := j.attest(summary); err != nil {
		summary.Failures = append(summary.Failures, err.Error())
		summary.Passed = false
		// Re-seal so the recorded digest covers the failure.
		if digest, derr := summary.ComputeDigest(); derr == nil {
			summary.Digest = digest
		}
	}

	span.SetAttributes(
		attribute.Int("integrity.aggregates", summary.AggregatesChecked),
		attribute.Bool("integrity.passed", summary.Passed),
	)

	if !summary.Passed {
		j.raiseAlerts(ctx, summary)
	}
	if err := j.record(ctx, summary); err != nil {
		j.logger.ErrorContext(ctx, "CRITICAL: failed to record legal integrity summary",
			"digest", summary.Digest,
			"error", err,
		)
		return summary, err
	}

	log := j.logger.InfoContext
	if !summary.Passed {
		log = j.logger.ErrorContext
	}
	log(ctx, "legal integrity verification finished",
		"passed", summary.Passed,
		"aggregates", summary.AggregatesChecked,
		"events", summary.EventsChecked,
		"broken_aggregates", len(summary.BrokenAggregates),
		"orphan_causations", len(summary.OrphanCausations),
		"admin_audit_valid", summary.AdminAuditValid,
		"expired_keys_deleted", summary.ExpiredKeysDeleted,
		"failures", summary.Failures,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (j *Job) verifyStreams(ctx context.Context, summary *Summary) {
	keys, err := j.events.ListAggregates(ctx)
	if err != nil {
		summary.Failures = append(summary.Failures, "list aggregates: "+err.Error())
		return
	}
	summary.AggregatesChecked = len(keys)

	var (
		mu  sync.Mutex
		g   errgroup.Group
		bad []esmodels.IntegrityReport
	)
	g.SetLimit(j.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			report, err := j.events.VerifyIntegrity(ctx, key.AggregateID, key.AggregateType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures = append(summary.Failures,
					fmt.Sprintf("verify %s %s: %v", key.AggregateType, key.AggregateID, err))
				return nil
			}
			summary.EventsChecked += report.EventCount
			if !report.IsValid {
				bad = append(bad, *report)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(bad, func(a, b int) bool {
		if bad[a].AggregateType != bad[b].AggregateType {
			return bad[a].AggregateType < bad[b].AggregateType
		}
		return bad[a].AggregateID < bad[b].AggregateID
	})
	summary.BrokenAggregates = bad
}

func (j *Job) attest(summary *Summary) error {
	digest, err := summary.ComputeDigest()
	if err != nil {
		return err
	}
	summary.Digest = digest
	if j.signer == nil {
		j.logger.Warn("legal integrity summary recorded unsigned: no keyring configured")
		return nil
	}
	sig, err := j.signer.Sign(AttestationPurpose, digest)
	if err != nil {
		return fmt.Errorf("sign integrity summary: %w", err)
	}
	summary.Signature = &sig
	return nil
}

func (j *Job) record(ctx context.Context, summary *Summary) error {
	action, severity := audit.EventLegalIntegrityVerified, audit.SeverityLow
	if !summary.Passed {
		action, severity = audit.EventLegalIntegrityFailed, audit.SeverityCritical
	}
	var details map[string]any
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal integrity summary: %w", err)
	}
	if err := json.Unmarshal(data, &details); err != nil {
		return fmt.Errorf("unmarshal integrity summary: %w", err)
	}
	return j.compliance.Emit(ctx, audit.ComplianceEvent{
		ActorID:    systemActor,
		Action:     action,
		EntityType: "SYSTEM",
		EntityID:   "LEGAL_INTEGRITY",
		Severity:   severity,
		Details:    details,
	})
}

// raiseAlerts never fails the run; publish errors are logged.
func (j *Job) raiseAlerts(ctx context.Context, summary *Summary) {
	if j.alerts == nil {
		return
	}
	var out []alerts.Alert
	if len(summary.BrokenAggregates) > 0 || len(summary.OrphanCausations) > 0 {
		ids := make([]string, 0, len(summary.BrokenAggregates))
		for _, r := range summary.BrokenAggregates {
			ids = append(ids, r.AggregateType+":"+r.AggregateID)
		}
		out = append(out, alerts.Alert{
			Kind:     alerts.KindEventChainBroken,
			Severity: audit.SeverityCritical,
			Title:    "Event store integrity violation",
			Message: fmt.Sprintf("%d aggregate(s) failed verification, %d orphan causation reference(s)",
				len(summary.BrokenAggregates), len(summary.OrphanCausations)),
			Subject: "domain_events",
			Details: map[string]any{"aggregates": ids, "digest": summary.Digest},
		})
	}
	if len(summary.Failures) > 0 {
		out = append(out, alerts.Alert{
			Kind:     alerts.KindIntegrityJobFault,
			Severity: audit.SeverityCritical,
			Title:    "Legal integrity verification incomplete",
			Message:  fmt.Sprintf("%d check(s) could not run", len(summary.Failures)),
			Details:  map[string]any{"failures": summary.Failures},
		})
	}
	for _, a := range out {
		if err := j.alerts.Publish(ctx, a); err != nil {
			j.logger.ErrorContext(ctx, "failed to publish integrity alert",
				"kind", a.Kind,
				"error", err,
			)
		}
	}
}
