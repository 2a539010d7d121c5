package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, env *events.Envelope) error
	PublishRaw(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
	Close() error
}

type publisher struct {
	client *Client
	logger zerolog.Logger
}

func NewPublisher(client *Client, logger zerolog.Logger) Publisher {
	return &publisher{
		client: client,
		logger: logger,
	}
}

// Publish stamps the envelope's broker-send instant, marks the delivery
// persistent and gives it a broker-level message id and timestamp distinct
// from the envelope's own event id. Publishing never mutates domain state.
func (p *publisher) Publish(ctx context.Context, exchange, routingKey string, env *events.Envelope) error {
	env.PublishedAt = time.Now().UTC()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.client.Channel().PublishWithContext(
		publishCtx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", routingKey, exchange, err)
	}

	p.logger.Debug().
		Str("exchange", exchange).
		Str("routing_key", routingKey).
		Str("event_id", env.Event.EventID).
		Str("correlation_id", env.Metadata.CorrelationID).
		Msg("Event published")

	return nil
}

// PublishRaw re-emits an already-encoded payload unchanged, used by the
// retry engine to carry the x-attempts header forward.
func (p *publisher) PublishRaw(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.client.Channel().PublishWithContext(
		publishCtx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

func (p *publisher) Close() error {
	// Channel lifetime belongs to the Client.
	p.logger.Info().Msg("Publisher closed")
	return nil
}
