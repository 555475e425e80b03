package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"havosec-api/internal/models"
)

// Producer writes one message to a topic.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// EventUpdate is the payload published for every event mutation.
type EventUpdate struct {
	Kind       string                `json:"kind"`
	Event      *models.SecurityEvent `json:"event"`
	OccurredAt time.Time             `json:"occurredAt"`
}

// Publisher announces event changes on the updates topic, keyed by event id
// so all changes to one event land on the same partition.
type Publisher struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic, now: time.Now}
}

func (p *Publisher) PublishEventUpdate(ctx context.Context, kind string, event *models.SecurityEvent) error {
	body, err := json.Marshal(EventUpdate{
		Kind:       kind,
		Event:      event,
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event update: %w", err)
	}

	return p.producer.ProduceMessage(ctx, p.topic, []byte(event.ID), body, map[string]string{
		"kind":       kind,
		"event_type": string(event.EventType),
		"severity":   string(event.Severity),
	})
}
