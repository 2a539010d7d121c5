package broker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Message is one delivery pulled off a queue. Ack and Nack make the
// disposition explicit instead of relying on the AMQP delivery object.
type Message struct {
	Body       []byte
	Headers    amqp.Table
	Exchange   string
	RoutingKey string
	Timestamp  time.Time
	Ack        func(multiple bool) error
	Nack       func(multiple bool, requeue bool) error
}

type Consumer interface {
	Consume(ctx context.Context) (<-chan Message, error)
	QueueLength() (int, error)
	Close() error
}

type consumer struct {
	client      *Client
	queue       string
	consumerTag string
	prefetch    int
	logger      zerolog.Logger
}

func NewConsumer(client *Client, queue, consumerTag string, prefetch int, logger zerolog.Logger) Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &consumer{
		client:      client,
		queue:       queue,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger,
	}
}

// Consume sets the channel prefetch and yields deliveries until the context
// is cancelled or the broker closes the stream. Prefetch bounds in-flight
// work per process and keeps dispatch fair across competing consumers.
func (c *consumer) Consume(ctx context.Context) (<-chan Message, error) {
	ch := c.client.Channel()

	err := ch.Qos(
		c.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	)
	if err != nil {
		return nil, err
	}

	msgs, err := ch.Consume(
		c.queue,       // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, err
	}

	output := make(chan Message)

	go func() {
		defer close(output)

		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Msg("Stopping consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("Delivery channel closed")
					return
				}

				out := Message{
					Body:       msg.Body,
					Headers:    msg.Headers,
					Exchange:   msg.Exchange,
					RoutingKey: msg.RoutingKey,
					Timestamp:  msg.Timestamp,
					Ack:        msg.Ack,
					Nack:       msg.Nack,
				}

				select {
				case output <- out:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	c.logger.Info().
		Str("queue", c.queue).
		Str("consumer_tag", c.consumerTag).
		Int("prefetch", c.prefetch).
		Msg("Consumer started")

	return output, nil
}

func (c *consumer) QueueLength() (int, error) {
	queue, err := c.client.Channel().QueueDeclarePassive(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return 0, err
	}

	return queue.Messages, nil
}

func (c *consumer) Close() error {
	if ch := c.client.Channel(); ch != nil {
		if err := ch.Cancel(c.consumerTag, false); err != nil {
			c.logger.Error().Err(err).Msg("Failed to cancel consumer")
		}
	}

	c.logger.Info().Msg("Consumer closed")
	return nil
}
