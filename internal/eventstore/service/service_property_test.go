//go:build property

package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"covenant/internal/eventstore/models"
	"covenant/internal/eventstore/service"
	"covenant/internal/eventstore/store"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

// Property: whatever versions callers attempt, the stored stream is 1..n with
// every link intact, and only exact next versions are accepted.
func TestStreamStaysContiguous(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appends keep the stream contiguous and chained", prop.ForAll(
		func(attempts []int64) bool {
			svc, err := service.New(store.NewInMemoryStore(), txcontext.NewMemoryRunner())
			if err != nil {
				return false
			}
			ctx := requestcontext.WithActor(context.Background(), "prop", "SYSTEM")

			var current int64
			for _, v := range attempts {
				_, err := svc.Append(ctx, &models.DomainEvent{
					Type:             "PROBE",
					AggregateID:      "agg",
					AggregateType:    "PAYMENT",
					AggregateVersion: v,
					Payload:          []byte(fmt.Sprintf(`{"v":%d}`, v)),
				})
				accepted := err == nil
				if accepted != (v == current+1) {
					return false
				}
				if accepted {
					current = v
				}
			}

			events, err := svc.GetEventStream(ctx, "agg", "PAYMENT", 1)
			if err != nil || int64(len(events)) != current {
				return false
			}
			return len(service.VerifyChain(events)) == 0
		},
		gen.SliceOf(gen.Int64Range(0, 6)),
	))

	properties.TestingRun(t)
}
