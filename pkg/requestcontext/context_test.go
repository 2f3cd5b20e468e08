package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	t.Run("unset values are zero", func(t *testing.T) {
		ctx := context.Background()
		assert.Empty(t, ActorID(ctx))
		assert.Empty(t, ActorRole(ctx))
		assert.Empty(t, CorrelationID(ctx))
		assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
	})

	t.Run("injected values round trip", func(t *testing.T) {
		fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		ctx := WithActor(context.Background(), "admin-1", "ADMIN")
		ctx = WithTime(ctx, fixed)
		ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8.0")
		ctx = WithCorrelationID(ctx, "flow-1")

		assert.Equal(t, "admin-1", ActorID(ctx))
		assert.Equal(t, "ADMIN", ActorRole(ctx))
		assert.Equal(t, fixed, Now(ctx))
		assert.Equal(t, "10.0.0.1", ClientIP(ctx))
		assert.Equal(t, "curl/8.0", UserAgent(ctx))
		assert.Equal(t, "flow-1", CorrelationID(ctx))
	})
}
