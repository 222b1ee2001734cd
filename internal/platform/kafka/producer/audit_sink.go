package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"custodian/pkg/platform/audit"
)

// Publisher is the subset of Producer used by AuditSink.
type Publisher interface {
	Produce(ctx context.Context, msg *Message) error
}

// AuditSink publishes audit events as JSON records keyed by BPN so events of
// one business partner stay ordered within a partition.
type AuditSink struct {
	producer Publisher
	topic    string
}

func NewAuditSink(producer Publisher, topic string) *AuditSink {
	return &AuditSink{producer: producer, topic: topic}
}

func (s *AuditSink) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := event.BPN
	if key == "" {
		key = event.Subject
	}
	return s.producer.Produce(ctx, &Message{
		Topic: s.topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			"action":     string(event.Action),
			"request_id": event.RequestID,
		},
	})
}
