//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"fundops/internal/audit/outbox"
	"fundops/internal/platform/config"
	"fundops/internal/platform/kafka"
	"fundops/pkg/testutil/containers"
)

func TestProducer_DeliversKeyedBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.NewRedpanda(t)
	cfg := config.Kafka{Brokers: []string{broker}, AuditTopic: "fundops.audit.test"}

	p, err := kafka.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Close()

	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.EnsureTopic(ctx, 3, 1))
	require.NoError(t, p.EnsureTopic(ctx, 3, 1), "existing topic is not an error")

	batch := []outbox.Message{
		{Seq: 1, Key: "fund-a", EventType: "fund_created", Payload: []byte(`{"sequence":1}`)},
		{Seq: 2, Key: "fund-a", EventType: "deal_created", Payload: []byte(`{"sequence":2}`)},
	}
	require.NoError(t, p.Produce(ctx, batch))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(cfg.AuditTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []*kgo.Record
	for len(got) < len(batch) {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) { got = append(got, r) })
	}

	assert.Equal(t, "fund-a", string(got[0].Key))
	assert.Equal(t, got[0].Partition, got[1].Partition, "one fund stays on one partition")
	assert.JSONEq(t, `{"sequence":1}`, string(got[0].Value))
	headers := map[string]string{}
	for _, h := range got[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "deal_created", headers["event_type"])
	assert.Equal(t, "2", headers["outbox_seq"])
}

func TestNew_WithoutBrokers(t *testing.T) {
	p, err := kafka.New(config.Kafka{})
	require.NoError(t, err)
	assert.Nil(t, p)
}
