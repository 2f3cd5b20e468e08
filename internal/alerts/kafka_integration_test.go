//go:build integration

package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "covenant/pkg/platform/audit"
	"covenant/pkg/testutil/containers"
)

func TestKafkaPublisher_PublishesAlert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "covenant.integrity.alerts.test"
	pub, err := NewKafkaPublisher([]string{rp.Broker}, topic)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Ping(ctx))
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	require.NoError(t, pub.Publish(ctx, Alert{
		Kind:     KindAuditChainBroken,
		Severity: audit.SeverityCritical,
		Title:    "Admin audit chain integrity violation",
		Subject:  "admin_audit_log",
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, string(KindAuditChainBroken), string(records[0].Key))

	var got Alert
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, KindAuditChainBroken, got.Kind)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, audit.SeverityCritical, got.Severity)
}
