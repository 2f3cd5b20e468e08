//go:build integration

package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"covenant/internal/eventstore/models"
	"covenant/internal/eventstore/store"
	dErrors "covenant/pkg/domain-errors"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
	"covenant/pkg/testutil/containers"
)

type PostgresServiceSuite struct {
	suite.Suite
	pg      *containers.PostgresContainer
	service *Service
	ctx     context.Context
}

func TestPostgresServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresServiceSuite))
}

func (s *PostgresServiceSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresServiceSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "domain_events"))
	svc, err := New(store.NewPostgres(s.pg.DB), txcontext.NewManager(s.pg.DB))
	s.Require().NoError(err)
	s.service = svc
	s.ctx = requestcontext.WithActor(context.Background(), "landlord-1", "LANDLORD")
	s.ctx = requestcontext.WithTime(s.ctx, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
}

func (s *PostgresServiceSuite) event(aggID string, version int64, typ string) *models.DomainEvent {
	return &models.DomainEvent{
		Type:             typ,
		AggregateID:      aggID,
		AggregateType:    "INVOICE",
		AggregateVersion: version,
		Payload:          json.RawMessage(`{"amount":1500000,"currency":"XAF"}`),
	}
}

func (s *PostgresServiceSuite) TestChainSurvivesRoundTrip() {
	for v, typ := range []string{"INVOICE_CREATED", "INVOICE_SENT", "INVOICE_PAID"} {
		_, err := s.service.Append(s.ctx, s.event("inv-1", int64(v+1), typ))
		s.Require().NoError(err)
	}

	report, err := s.service.VerifyIntegrity(s.ctx, "inv-1", "INVOICE")
	s.Require().NoError(err)
	s.True(report.IsValid, "errors: %v", report.Errors)
	s.Equal(3, report.EventCount)

	keys, err := s.service.ListAggregates(s.ctx)
	s.Require().NoError(err)
	s.Equal([]models.AggregateKey{{AggregateType: "INVOICE", AggregateID: "inv-1"}}, keys)
}

func (s *PostgresServiceSuite) TestConcurrentWritersOneWins() {
	_, err := s.service.Append(s.ctx, s.event("inv-2", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)

	const writers = 5
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.Append(s.ctx, s.event("inv-2", 2, "INVOICE_UPDATED"))
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeConflict), "unexpected error: %v", err)
	}
	s.Equal(1, won)

	report, err := s.service.VerifyIntegrity(s.ctx, "inv-2", "INVOICE")
	s.Require().NoError(err)
	s.True(report.IsValid)
}

func (s *PostgresServiceSuite) TestRowsAreAppendOnly() {
	e, err := s.service.Append(s.ctx, s.event("inv-3", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)

	_, err = s.pg.DB.ExecContext(s.ctx, `UPDATE domain_events SET payload = '{}' WHERE id = $1`, e.ID)
	s.Error(err)
	_, err = s.pg.DB.ExecContext(s.ctx, `DELETE FROM domain_events WHERE id = $1`, e.ID)
	s.Error(err)
}
