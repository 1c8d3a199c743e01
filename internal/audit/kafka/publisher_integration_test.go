//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"certledger/internal/audit"
	"certledger/internal/audit/kafka"
	"certledger/pkg/domain"
	"certledger/pkg/testutil/containers"
)

func TestPublisher_Redpanda(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "certledger.audit.it"
	pub, err := kafka.NewPublisher(ctx, []string{rp.Broker}, topic)
	require.NoError(t, err)
	defer pub.Close()

	certID := domain.NewCertificateID()
	actor := domain.Actor{ID: "reg-1", Role: domain.RoleRegistrar}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		audit.NewEntry(certID, audit.SubjectCertificate, certID.String(), audit.ActionSubmitted, actor, now),
		audit.NewEntry(certID, audit.SubjectCertificate, certID.String(), audit.ActionIssued, actor, now.Add(time.Minute)),
	}
	require.NoError(t, pub.Publish(ctx, entries...))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var actions []string
	for len(actions) < len(entries) {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			assert.Equal(t, certID.String(), string(r.Key))
			var msg struct {
				Action string `json:"action"`
			}
			require.NoError(t, json.Unmarshal(r.Value, &msg))
			actions = append(actions, msg.Action)
		})
	}
	// one key maps to one partition, so order is preserved
	assert.Equal(t, []string{string(audit.ActionSubmitted), string(audit.ActionIssued)}, actions)
}
