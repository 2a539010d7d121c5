package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Client owns the AMQP connection and channel for one process. There is no
// global broker state; the composition root creates a Client and injects it
// into the publisher and consumer.
type Client struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  zerolog.Logger
	mu      sync.RWMutex
}

func NewClient(url string, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		url:    url,
		logger: logger,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	logger.Info().Msg("Connected to RabbitMQ")
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	return nil
}

func (c *Client) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// NotifyClose registers for connection-loss notification on the current
// connection.
func (c *Client) NotifyClose() chan *amqp.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Reconnect discards the old connection and re-dials with a fixed delay
// between attempts until it succeeds or the context is cancelled. Transport
// errors never translate into message-level retries; this loop is the only
// recovery path for them.
func (c *Client) Reconnect(ctx context.Context, delay time.Duration) error {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.logger.Error().Err(err).Int("attempt", attempt).Msg("Failed to reconnect to RabbitMQ")
			continue
		}

		c.logger.Info().Int("attempt", attempt).Msg("Reconnected to RabbitMQ")
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	return nil
}
