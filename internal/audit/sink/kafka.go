// Package sink mirrors audit entries to external systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"signlink/internal/audit"
)

// Producer is the subset of *kgo.Client used by KafkaSink.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes every persisted audit entry to a topic keyed by link id.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

type message struct {
	ID        int64     `json:"id"`
	LinkID    string    `json:"linkId,omitempty"`
	Action    string    `json:"action"`
	Details   any       `json:"details"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *KafkaSink) Publish(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(message{
		ID:        entry.ID,
		LinkID:    entry.LinkID,
		Action:    string(entry.Action),
		Details:   entry.Details.Payload(),
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	rec := &kgo.Record{
		Topic: s.topic,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if entry.LinkID != "" {
		rec.Key = []byte(entry.LinkID)
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit message: %w", err)
	}
	return nil
}
