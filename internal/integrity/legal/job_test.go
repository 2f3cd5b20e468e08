package legal

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"covenant/internal/adminaudit"
	adminmodels "covenant/internal/adminaudit/models"
	adminstore "covenant/internal/adminaudit/store"
	"covenant/internal/alerts"
	esmodels "covenant/internal/eventstore/models"
	esservice "covenant/internal/eventstore/service"
	esstore "covenant/internal/eventstore/store"
	"covenant/internal/idempotency"
	idemstore "covenant/internal/idempotency/store"
	"covenant/internal/integrity/attest"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/audit/publishers/compliance"
	auditmemory "covenant/pkg/platform/audit/store/memory"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

type JobSuite struct {
	suite.Suite
	events     *esservice.Service
	admin      *adminaudit.Service
	idem       *idempotency.Guard
	auditStore *auditmemory.InMemoryStore
	compliance *compliance.Publisher
	keyring    *attest.Keyring
	alerts     *alerts.MemoryPublisher
	ctx        context.Context
}

func TestJobSuite(t *testing.T) {
	suite.Run(t, new(JobSuite))
}

func (s *JobSuite) SetupTest() {
	runner := txcontext.NewMemoryRunner()
	var err error
	s.events, err = esservice.New(esstore.NewInMemoryStore(), runner)
	s.Require().NoError(err)
	s.admin, err = adminaudit.New(adminstore.NewInMemory(), runner)
	s.Require().NoError(err)
	s.idem, err = idempotency.New(idemstore.NewInMemory())
	s.Require().NoError(err)
	s.auditStore = auditmemory.NewInMemoryStore()
	s.compliance = compliance.New(s.auditStore)
	s.keyring, err = attest.NewKeyring(map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)}, "k1")
	s.Require().NoError(err)
	s.alerts = alerts.NewMemoryPublisher()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithActor(context.Background(), "u-1", "TENANT"), now)
	s.seed()
}

func (s *JobSuite) seed() {
	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		for v := int64(1); v <= 2; v++ {
			_, err := s.events.Append(s.ctx, &esmodels.DomainEvent{
				Type: "INVOICE_UPDATED", AggregateID: id, AggregateType: "INVOICE", AggregateVersion: v,
			})
			s.Require().NoError(err)
		}
	}
	_, err := s.admin.LogAdminAction(s.ctx, adminmodels.Entry{
		AdminID: "admin-1", Action: "RESOLVE_DISPUTE", EntityType: "DISPUTE", EntityID: "d-1", Reason: "ok",
	})
	s.Require().NoError(err)
	_, err = idempotency.Execute(s.ctx, s.idem, "key-1", "create", "u-1",
		func(context.Context) (string, error) { return "done", nil },
		idempotency.WithTTL(time.Hour))
	s.Require().NoError(err)
}

func (s *JobSuite) newJob(events EventVerifier, keys KeyCleaner) *Job {
	job, err := New(events, s.admin, keys, s.compliance,
		WithSigner(s.keyring), WithAlerts(s.alerts), WithConcurrency(2))
	s.Require().NoError(err)
	return job
}

func (s *JobSuite) TestCleanRunIsAttested() {
	later := requestcontext.WithTime(s.ctx, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	summary, err := s.newJob(s.events, s.idem).Run(later)
	s.Require().NoError(err)
	s.True(summary.Passed)
	s.Equal(3, summary.AggregatesChecked)
	s.Equal(6, summary.EventsChecked)
	s.True(summary.AdminAuditValid)
	s.Equal(1, summary.AdminAuditEntries)
	s.Equal(int64(1), summary.ExpiredKeysDeleted)
	s.Require().NotNil(summary.Signature)
	s.Equal("k1", summary.Signature.KeyID)
	s.NoError(VerifyAttestation(s.keyring, summary))
	s.Empty(s.alerts.Alerts())

	recorded := s.auditStore.ListByAction(audit.EventLegalIntegrityVerified)
	s.Require().Len(recorded, 1)
	s.Equal(summary.Digest, recorded[0].Details["digest"])

	s.Run("tampered summary fails verification", func() {
		summary.EventsChecked++
		s.Error(VerifyAttestation(s.keyring, summary))
	})
}

type brokenStream struct {
	*esservice.Service
	broken string
}

func (b brokenStream) VerifyIntegrity(ctx context.Context, aggregateID, aggregateType string) (*esmodels.IntegrityReport, error) {
	report, err := b.Service.VerifyIntegrity(ctx, aggregateID, aggregateType)
	if err != nil || aggregateID != b.broken {
		return report, err
	}
	report.IsValid = false
	report.Errors = []string{"hash mismatch at version 2"}
	return report, nil
}

type failingCleaner struct{}

func (failingCleaner) CleanupExpiredKeys(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func (s *JobSuite) TestFailuresAlertAndRecordCritical() {
	job := s.newJob(brokenStream{Service: s.events, broken: "inv-2"}, failingCleaner{})

	summary, err := job.Run(s.ctx)
	s.Require().NoError(err)
	s.False(summary.Passed)
	s.Require().Len(summary.BrokenAggregates, 1)
	s.Equal("inv-2", summary.BrokenAggregates[0].AggregateID)
	s.Require().Len(summary.Failures, 1)
	s.Contains(summary.Failures[0], "idempotency cleanup")
	s.NoError(VerifyAttestation(s.keyring, summary), "failed runs are attested too")

	kinds := map[alerts.Kind]bool{}
	for _, a := range s.alerts.Alerts() {
		kinds[a.Kind] = true
		s.Equal(audit.SeverityCritical, a.Severity)
	}
	s.True(kinds[alerts.KindEventChainBroken])
	s.True(kinds[alerts.KindIntegrityJobFault])

	failed := s.auditStore.ListByAction(audit.EventLegalIntegrityFailed)
	s.Require().Len(failed, 1)
	s.Equal(audit.SeverityCritical, failed[0].Severity)
}

type brokenSink struct{}

func (brokenSink) Emit(context.Context, audit.ComplianceEvent) error {
	return errors.New("audit store down")
}

func (s *JobSuite) TestRecordFailureIsReturned() {
	job, err := New(s.events, s.admin, s.idem, brokenSink{})
	s.Require().NoError(err)

	summary, err := job.Run(s.ctx)
	s.Error(err)
	s.Require().NotNil(summary)
	s.Nil(summary.Signature, "no keyring configured")
	s.NotEmpty(summary.Digest)
}

func (s *JobSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.admin, s.idem, s.compliance)
	s.Error(err)
}
