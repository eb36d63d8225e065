// Package events publishes marketplace lifecycle events to Kafka for
// downstream consumers (notifications, analytics). Publishing is best
// effort: a broker outage never fails the operation that emitted it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"towlink/internal/types"
)

const (
	RequestSubmitted = "request.submitted"
	RequestCancelled = "request.cancelled"
	RequestExpired   = "request.expired"
	OfferSubmitted   = "offer.submitted"
	OfferAccepted    = "offer.accepted"
	JobAdvanced      = "job.advanced"
	JobCompleted     = "job.completed"
	JobCancelled     = "job.cancelled"
	PayoutRecorded   = "payout.recorded"
)

type Envelope struct {
	Type       string         `json:"type"`
	EntityID   types.ID       `json:"entity_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher writes envelopes to a single topic keyed by entity id. A
// nil Publisher is valid and drops everything, so callers never need to
// branch on whether Kafka is configured.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, eventType string, entityID types.ID, data map[string]any) {
	if p == nil {
		return
	}
	env := Envelope{
		Type:       eventType,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("marshal event", "type", eventType, "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(wctx, kafka.Message{Key: []byte(entityID), Value: b}); err != nil {
		p.logger.Warn("publish event", "type", eventType, "entity_id", entityID, "error", err)
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
