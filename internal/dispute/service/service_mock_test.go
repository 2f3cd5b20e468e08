package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	adminmodels "covenant/internal/adminaudit/models"
	"covenant/internal/dispute/mocks"
	"covenant/internal/dispute/models"
	"covenant/internal/dispute/store"
	esmodels "covenant/internal/eventstore/models"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

// MockedDepsSuite covers failure paths of collaborators.
type MockedDepsSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	contracts *mocks.MockContractDirectory
	events    *mocks.MockEventAppender
	admin     *mocks.MockAdminAuditor
	disputes  *store.InMemoryStore
	service   *Service
	ctx       context.Context
}

func TestMockedDepsSuite(t *testing.T) {
	suite.Run(t, new(MockedDepsSuite))
}

func (s *MockedDepsSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.contracts = mocks.NewMockContractDirectory(s.ctrl)
	s.events = mocks.NewMockEventAppender(s.ctrl)
	s.admin = mocks.NewMockAdminAuditor(s.ctrl)
	s.disputes = store.NewInMemory()

	svc, err := New(s.disputes, s.contracts, s.events, txcontext.NewMemoryRunner(), WithAdminAuditor(s.admin))
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
}

func (s *MockedDepsSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *MockedDepsSuite) openDispute() *models.Dispute {
	d := &models.Dispute{
		ID: "d-1", ContractID: "c-1", ClaimantID: "tenant-1", ClaimantRole: models.RoleTenant,
		ClaimAmount: 1000, Status: models.StatusOpen, Deadline: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Version: 1,
	}
	s.Require().NoError(s.disputes.Insert(context.Background(), d))
	return d
}

func (s *MockedDepsSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.contracts, s.events, txcontext.NewMemoryRunner())
	s.Error(err)
	_, err = New(s.disputes, nil, s.events, txcontext.NewMemoryRunner())
	s.Error(err)
	_, err = New(s.disputes, s.contracts, nil, txcontext.NewMemoryRunner())
	s.Error(err)
	_, err = New(s.disputes, s.contracts, s.events, nil)
	s.Error(err)
}

func (s *MockedDepsSuite) TestDirectoryFailureIsInternal() {
	s.contracts.EXPECT().GetParties(gomock.Any(), "c-1").Return(nil, errors.New("connection reset"))

	_, err := s.service.CreateDispute(s.ctx, models.CreateCommand{
		ContractID: "c-1", ClaimantID: "tenant-1", ClaimantRole: models.RoleTenant,
		ClaimAmount: 1000, EvidenceURLs: []string{"https://files/a.jpg"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *MockedDepsSuite) TestUnknownContractIsNotFound() {
	s.contracts.EXPECT().GetParties(gomock.Any(), "c-9").Return(nil, sentinel.ErrNotFound)

	_, err := s.service.CreateDispute(s.ctx, models.CreateCommand{
		ContractID: "c-9", ClaimantID: "tenant-1", ClaimantRole: models.RoleTenant,
		ClaimAmount: 1000, EvidenceURLs: []string{"https://files/a.jpg"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *MockedDepsSuite) TestEventVersionConflictSurfaces() {
	s.contracts.EXPECT().GetParties(gomock.Any(), "c-1").
		Return(&models.ContractParties{ContractID: "c-1", TenantID: "tenant-1", LandlordID: "landlord-1"}, nil)
	s.events.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeConflict, "version conflict for DISPUTE x: expected 2, got 1"))

	_, err := s.service.CreateDispute(s.ctx, models.CreateCommand{
		ContractID: "c-1", ClaimantID: "tenant-1", ClaimantRole: models.RoleTenant,
		ClaimAmount: 1000, EvidenceURLs: []string{"https://files/a.jpg"},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *MockedDepsSuite) TestResolveEmitsEventAndAdminEntry() {
	s.openDispute()

	s.events.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, e *esmodels.DomainEvent) (*esmodels.DomainEvent, error) {
			s.Equal(EventDisputeResolved, e.Type)
			s.Equal(int64(2), e.AggregateVersion)
			s.Equal("admin-1", requestcontext.ActorID(ctx))
			s.Equal(models.ActorAdmin, requestcontext.ActorRole(ctx))
			return e, nil
		})
	s.admin.EXPECT().LogAdminAction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, entry adminmodels.Entry) (*adminmodels.Entry, error) {
			s.Equal(ActionResolveDispute, entry.Action)
			s.Equal("admin-1", entry.AdminID)
			s.Equal("DISPUTE", entry.EntityType)
			s.JSONEq(`{"status":"PARTIAL","approvedAmount":400}`, string(entry.After))
			return &entry, nil
		})

	d, err := s.service.ResolveDispute(s.ctx, models.ResolveCommand{
		DisputeID: "d-1", Status: models.StatusPartial, ApprovedAmount: 400,
		ResolvedBy: "admin-1", ActorRole: models.ActorAdmin, Reason: "split",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusPartial, d.Status)
}

func (s *MockedDepsSuite) TestAdminTrailFailureFailsResolution() {
	s.openDispute()
	s.events.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *esmodels.DomainEvent) (*esmodels.DomainEvent, error) { return e, nil })
	s.admin.EXPECT().LogAdminAction(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("audit store down"))

	_, err := s.service.ResolveDispute(s.ctx, models.ResolveCommand{
		DisputeID: "d-1", Status: models.StatusRejected,
		ResolvedBy: "admin-1", ActorRole: models.ActorAdmin, Reason: "no proof",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *MockedDepsSuite) TestSystemResolutionSkipsAdminTrail() {
	s.openDispute()
	s.events.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *esmodels.DomainEvent) (*esmodels.DomainEvent, error) { return e, nil })
	s.admin.EXPECT().LogAdminAction(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.service.ResolveDispute(s.ctx, models.ResolveCommand{
		DisputeID: "d-1", Status: models.StatusApproved, ApprovedAmount: 1000,
		ResolvedBy: models.ActorSystem, ActorRole: models.ActorSystem, Reason: "deadline",
	})
	s.Require().NoError(err)
}

func (s *MockedDepsSuite) TestListScopesNonAdmins() {
	s.openDispute()
	s.contracts.EXPECT().ContractsForParty(gomock.Any(), "landlord-1").Return([]string{"c-1"}, nil)
	s.contracts.EXPECT().ContractsForParty(gomock.Any(), "stranger").Return(nil, nil)

	got, err := s.service.ListDisputes(s.ctx, "landlord-1", "LANDLORD", models.ListFilter{})
	s.Require().NoError(err)
	s.Len(got, 1)

	got, err = s.service.ListDisputes(s.ctx, "stranger", "TENANT", models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(got)

	_, err = s.service.ListDisputes(s.ctx, "", "TENANT", models.ListFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
