package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/eventstore/models"
	"covenant/internal/eventstore/store"
	dErrors "covenant/pkg/domain-errors"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	svc, err := New(s.store, txcontext.NewMemoryRunner())
	s.Require().NoError(err)
	s.service = svc
	s.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithActor(context.Background(), "landlord-1", "LANDLORD")
	s.ctx = requestcontext.WithTime(s.ctx, s.now)
}

func invoiceEvent(aggID string, version int64, eventType string) *models.DomainEvent {
	return &models.DomainEvent{
		Type:             eventType,
		AggregateID:      aggID,
		AggregateType:    "INVOICE",
		AggregateVersion: version,
		Payload:          json.RawMessage(`{"amount":1500000}`),
	}
}

func (s *ServiceSuite) TestAppend() {
	s.Run("first event must be version 1", func() {
		_, err := s.service.Append(s.ctx, invoiceEvent("inv-x", 2, "INVOICE_CREATED"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("assigns id, stamps metadata and chains", func() {
		first, err := s.service.Append(s.ctx, invoiceEvent("inv-1", 1, "INVOICE_CREATED"))
		s.Require().NoError(err)
		s.NotEmpty(first.ID)
		s.Empty(first.PreviousEventHash)
		s.Len(first.EventHash, 64)
		s.Equal("landlord-1", first.Metadata.ActorID)
		s.Equal("LANDLORD", first.Metadata.ActorRole)
		s.Equal(s.now, first.Metadata.Timestamp)
		s.Equal(first.ID, first.CorrelationID)

		second, err := s.service.Append(s.ctx, invoiceEvent("inv-1", 2, "INVOICE_SENT"))
		s.Require().NoError(err)
		s.Equal(first.EventHash, second.PreviousEventHash)
	})

	s.Run("skipped version conflicts", func() {
		_, err := s.service.Append(s.ctx, invoiceEvent("inv-1", 4, "INVOICE_PAID"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("replayed version conflicts", func() {
		_, err := s.service.Append(s.ctx, invoiceEvent("inv-1", 2, "INVOICE_SENT"))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("caller timestamp is ignored", func() {
		e := invoiceEvent("inv-2", 1, "INVOICE_CREATED")
		e.Metadata.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
		out, err := s.service.Append(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(s.now, out.Metadata.Timestamp)
		s.Equal(s.now, out.OccurredAt)
	})

	s.Run("nil event is rejected", func() {
		out, err := s.service.Append(s.ctx, nil)
		s.Nil(out)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing actor is rejected", func() {
		_, err := s.service.Append(context.Background(), invoiceEvent("inv-3", 1, "INVOICE_CREATED"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("malformed payload is rejected", func() {
		e := invoiceEvent("inv-3", 1, "INVOICE_CREATED")
		e.Payload = json.RawMessage(`{"amount":`)
		_, err := s.service.Append(s.ctx, e)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("non-uuid event id is rejected", func() {
		e := invoiceEvent("inv-3", 1, "INVOICE_CREATED")
		e.ID = "evt-1"
		_, err := s.service.Append(s.ctx, e)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// Two writers racing for the same next version: exactly one commits.
func (s *ServiceSuite) TestConcurrentAppendSameVersion() {
	_, err := s.service.Append(s.ctx, invoiceEvent("inv-race", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)

	const writers = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.service.Append(s.ctx, invoiceEvent("inv-race", 2, "INVOICE_SENT"))
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(writers-1), conflicts.Load())

	report, err := s.service.VerifyIntegrity(s.ctx, "inv-race", "INVOICE")
	s.Require().NoError(err)
	s.True(report.IsValid)
	s.Equal(2, report.EventCount)
}

func (s *ServiceSuite) TestAppendBatch() {
	s.Run("chains within the batch in submission order", func() {
		events := []*models.DomainEvent{
			invoiceEvent("inv-b", 1, "INVOICE_CREATED"),
			invoiceEvent("inv-b", 2, "INVOICE_SENT"),
			invoiceEvent("inv-c", 1, "INVOICE_CREATED"),
			invoiceEvent("inv-b", 3, "INVOICE_PAID"),
		}
		stored, err := s.service.AppendBatch(s.ctx, events)
		s.Require().NoError(err)
		s.Require().Len(stored, 4)
		s.Equal(stored[0].EventHash, stored[1].PreviousEventHash)
		s.Equal(stored[1].EventHash, stored[3].PreviousEventHash)
		s.Empty(stored[2].PreviousEventHash)

		report, err := s.service.VerifyIntegrity(s.ctx, "inv-b", "INVOICE")
		s.Require().NoError(err)
		s.True(report.IsValid)
	})

	s.Run("a conflict anywhere writes nothing", func() {
		events := []*models.DomainEvent{
			invoiceEvent("inv-d", 1, "INVOICE_CREATED"),
			invoiceEvent("inv-d", 3, "INVOICE_PAID"),
		}
		_, err := s.service.AppendBatch(s.ctx, events)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		stream, err := s.service.GetEventStream(s.ctx, "inv-d", "INVOICE", 1)
		s.Require().NoError(err)
		s.Empty(stream)
	})

	s.Run("empty batch is a validation error", func() {
		_, err := s.service.AppendBatch(s.ctx, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestGetEventStream() {
	for v := int64(1); v <= 3; v++ {
		_, err := s.service.Append(s.ctx, invoiceEvent("inv-s", v, "INVOICE_UPDATED"))
		s.Require().NoError(err)
	}

	s.Run("from version 2", func() {
		events, err := s.service.GetEventStream(s.ctx, "inv-s", "INVOICE", 2)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(int64(2), events[0].AggregateVersion)
	})

	s.Run("from version zero reads everything", func() {
		events, err := s.service.GetEventStream(s.ctx, "inv-s", "INVOICE", 0)
		s.Require().NoError(err)
		s.Len(events, 3)
	})
}

func (s *ServiceSuite) TestQuery() {
	ctxA := requestcontext.WithCorrelationID(s.ctx, "flow-a")
	_, err := s.service.Append(ctxA, invoiceEvent("inv-q1", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)
	tenantCtx := requestcontext.WithActor(ctxA, "tenant-1", "TENANT")
	_, err = s.service.Append(tenantCtx, invoiceEvent("inv-q1", 2, "INVOICE_DISPUTED"))
	s.Require().NoError(err)
	_, err = s.service.Append(s.ctx, invoiceEvent("inv-q2", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)

	s.Run("by correlation", func() {
		events, err := s.service.GetCorrelationGroup(s.ctx, "flow-a")
		s.Require().NoError(err)
		s.Len(events, 2)
	})

	s.Run("by actor", func() {
		events, err := s.service.Query(s.ctx, models.Filter{ActorID: "tenant-1"})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal("INVOICE_DISPUTED", events[0].Type)
	})

	s.Run("by event type", func() {
		events, err := s.service.Query(s.ctx, models.Filter{EventTypes: []string{"INVOICE_CREATED"}})
		s.Require().NoError(err)
		s.Len(events, 2)
	})

	s.Run("inverted range is rejected", func() {
		_, err := s.service.Query(s.ctx, models.Filter{From: s.now, To: s.now.Add(-time.Hour)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty correlation id is rejected", func() {
		_, err := s.service.GetCorrelationGroup(s.ctx, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestVerifyIntegrityDetectsTampering() {
	for v := int64(1); v <= 3; v++ {
		_, err := s.service.Append(s.ctx, invoiceEvent("inv-t", v, "INVOICE_UPDATED"))
		s.Require().NoError(err)
	}

	s.Run("untouched chain is valid", func() {
		report, err := s.service.VerifyIntegrity(s.ctx, "inv-t", "INVOICE")
		s.Require().NoError(err)
		s.True(report.IsValid)
		s.Empty(report.Errors)
		s.Equal(3, report.EventCount)
	})

	cases := map[string]func([]*models.DomainEvent){
		"payload rewritten": func(events []*models.DomainEvent) {
			events[1].Payload = json.RawMessage(`{"amount":1}`)
		},
		"hash replaced": func(events []*models.DomainEvent) {
			events[2].EventHash = "0000"
		},
		"event removed": func(events []*models.DomainEvent) {
			copy(events[1:], events[2:])
			events[2] = nil
		},
		"actor rewritten": func(events []*models.DomainEvent) {
			events[0].Metadata.ActorID = "someone-else"
		},
	}
	for name, tamper := range cases {
		s.Run(name, func() {
			tampered := &tamperingStore{Store: s.store, tamper: tamper}
			svc, err := New(tampered, txcontext.NewMemoryRunner())
			s.Require().NoError(err)

			report, err := svc.VerifyIntegrity(s.ctx, "inv-t", "INVOICE")
			s.Require().NoError(err)
			s.False(report.IsValid)
			s.NotEmpty(report.Errors)
		})
	}

	s.Run("blanked hash version is reported", func() {
		tampered := &tamperingStore{Store: s.store, tamper: func(events []*models.DomainEvent) {
			events[0].HashVersion = ""
		}}
		svc, err := New(tampered, txcontext.NewMemoryRunner())
		s.Require().NoError(err)

		report, err := svc.VerifyIntegrity(s.ctx, "inv-t", "INVOICE")
		s.Require().NoError(err)
		s.False(report.IsValid)
		s.Require().Len(report.Errors, 1)
		s.Contains(report.Errors[0], "missing hash version")
	})
}

func (s *ServiceSuite) TestGetCausationChain() {
	root, err := s.service.Append(s.ctx, invoiceEvent("inv-c1", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)

	child := invoiceEvent("inv-c1", 2, "INVOICE_OVERDUE")
	child.CausationID = root.ID
	mid, err := s.service.Append(s.ctx, child)
	s.Require().NoError(err)

	leaf := &models.DomainEvent{
		Type: "REMINDER_SCHEDULED", AggregateID: "rem-1", AggregateType: "MAINTENANCE",
		AggregateVersion: 1, CausationID: mid.ID,
	}
	last, err := s.service.Append(s.ctx, leaf)
	s.Require().NoError(err)

	s.Run("root first", func() {
		chain, err := s.service.GetCausationChain(s.ctx, last.ID)
		s.Require().NoError(err)
		s.Require().Len(chain, 3)
		s.Equal(root.ID, chain[0].ID)
		s.Equal(mid.ID, chain[1].ID)
		s.Equal(last.ID, chain[2].ID)
	})

	s.Run("root alone", func() {
		chain, err := s.service.GetCausationChain(s.ctx, root.ID)
		s.Require().NoError(err)
		s.Len(chain, 1)
	})

	s.Run("unknown event is not found", func() {
		_, err := s.service.GetCausationChain(s.ctx, uuid.NewString())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing parent ends the walk", func() {
		orphan := invoiceEvent("inv-o", 1, "INVOICE_CREATED")
		orphan.CausationID = uuid.NewString()
		stored, err := s.service.Append(s.ctx, orphan)
		s.Require().NoError(err)

		chain, err := s.service.GetCausationChain(s.ctx, stored.ID)
		s.Require().NoError(err)
		s.Len(chain, 1)

		orphans, err := s.service.FindOrphanCausations(s.ctx)
		s.Require().NoError(err)
		s.Len(orphans, 1)
	})
}

func (s *ServiceSuite) TestAppendCompensation() {
	_, err := s.service.Append(s.ctx, invoiceEvent("inv-r", 1, "INVOICE_CREATED"))
	s.Require().NoError(err)
	paid, err := s.service.Append(s.ctx, invoiceEvent("inv-r", 2, "INVOICE_PAID"))
	s.Require().NoError(err)

	s.Run("appends a linked compensating event", func() {
		out, err := s.service.AppendCompensation(s.ctx, CompensationInput{
			AggregateType:   "INVOICE",
			AggregateID:     "inv-r",
			EventType:       "INVOICE_PAYMENT_REVERSED",
			ReversedEventID: paid.ID,
			Reason:          "bank chargeback",
		})
		s.Require().NoError(err)
		s.Equal(int64(3), out.AggregateVersion)
		s.Equal(paid.ID, out.CausationID)
		s.Equal(paid.EventHash, out.PreviousEventHash)
	})

	s.Run("event from another aggregate is rejected", func() {
		_, err := s.service.AppendCompensation(s.ctx, CompensationInput{
			AggregateType:   "INVOICE",
			AggregateID:     "inv-other",
			EventType:       "INVOICE_PAYMENT_REVERSED",
			ReversedEventID: paid.ID,
			Reason:          "x",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("reason is required", func() {
		_, err := s.service.AppendCompensation(s.ctx, CompensationInput{
			AggregateType: "INVOICE", AggregateID: "inv-r",
			EventType: "INVOICE_PAYMENT_REVERSED", ReversedEventID: paid.ID,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// tamperingStore simulates out-of-band edits to stored rows.
type tamperingStore struct {
	Store
	tamper func([]*models.DomainEvent)
}

func (t *tamperingStore) Stream(ctx context.Context, aggregateType, aggregateID string, fromVersion int64) ([]*models.DomainEvent, error) {
	events, err := t.Store.Stream(ctx, aggregateType, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}
	t.tamper(events)
	out := events[:0]
	for _, e := range events {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}
