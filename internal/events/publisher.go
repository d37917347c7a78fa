// Package events fans dispatch outcomes out to an AMQP exchange so the
// task application can react (activity feeds, digests) without polling the
// audit log. Publishing is best-effort: like the audit write, a broker
// failure is logged and never changes the outcome reported to the caller.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskmail/internal/config"
	"taskmail/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher emits notification outcome events.
type Publisher interface {
	Publish(ctx context.Context, record *types.AuditRecord)
	Close() error
}

// Event is the JSON payload published per dispatch attempt.
type Event struct {
	Type          string           `json:"type"` // notification.sent, notification.failed
	RecordID      string           `json:"record_id"`
	IdentityID    string           `json:"identity_id"`
	Recipient     string           `json:"recipient"`
	TemplateID    types.TemplateID `json:"template_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// amqpPublisher publishes to a topic exchange.
type amqpPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &amqpPublisher{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

// Publish emits one event for a completed dispatch attempt.
func (p *amqpPublisher) Publish(ctx context.Context, record *types.AuditRecord) {
	eventType := "notification.sent"
	if record.Outcome == types.OutcomeFailed {
		eventType = "notification.failed"
	}

	body, err := json.Marshal(Event{
		Type:          eventType,
		RecordID:      record.ID,
		IdentityID:    record.IdentityID,
		Recipient:     record.Recipient,
		TemplateID:    record.TemplateID,
		FailureReason: record.FailureReason,
		OccurredAt:    record.CreatedAt,
	})
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    record.CreatedAt,
		MessageId:    record.ID,
		Body:         body,
	})
	if err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("type", eventType),
			zap.String("record_id", record.ID),
			zap.Error(err))
	}
}

// Close releases the channel and connection.
func (p *amqpPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// NopPublisher is used when event fan-out is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *types.AuditRecord) {}
func (NopPublisher) Close() error                                { return nil }
