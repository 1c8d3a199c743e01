// Package kafka fans committed audit entries out to a Kafka topic keyed by
// certificate id, so consumers see each certificate's history in order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"certledger/internal/audit"
)

const (
	defaultPartitions        = 3
	defaultReplicationFactor = 1
)

// producer is the subset of *kgo.Client used for publishing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements audit.Sink.
type Publisher struct {
	client producer
	topic  string
}

// message is the wire form of an audit entry.
type message struct {
	ID             string `json:"id"`
	CertificateID  string `json:"certificate_id"`
	Subject        string `json:"subject"`
	SubjectID      string `json:"subject_id"`
	Action         string `json:"action"`
	Actor          string `json:"actor_id"`
	Role           string `json:"role"`
	Timestamp      string `json:"timestamp"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Comments       string `json:"comments,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// NewPublisher connects to brokers and ensures the topic exists.
func NewPublisher(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopic(ctx, kadm.NewClient(client), topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{client: client, topic: topic}, nil
}

func newPublisherWithProducer(p producer, topic string) *Publisher {
	return &Publisher{client: p, topic: topic}
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string) error {
	resp, err := adm.CreateTopics(ctx, defaultPartitions, defaultReplicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces one record per entry and waits for acknowledgement.
func (p *Publisher) Publish(ctx context.Context, entries ...audit.Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(toMessage(e))
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(e.CertificateID.String()),
			Value: value,
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entries: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

func toMessage(e audit.Entry) message {
	return message{
		ID:             e.ID.String(),
		CertificateID:  e.CertificateID.String(),
		Subject:        string(e.Subject),
		SubjectID:      e.SubjectID,
		Action:         string(e.Action),
		Actor:          string(e.Actor),
		Role:           string(e.Role),
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		PreviousStatus: e.PreviousStatus,
		NewStatus:      e.NewStatus,
		Comments:       e.Comments,
		RequestID:      e.RequestID,
	}
}
