package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AttemptsHeader carries retry bookkeeping across re-publishes.
const AttemptsHeader = "x-attempts"

// Disposition is the explicit outcome a handler returns for a delivery.
// The dispatcher interprets it; handlers never touch ack/nack directly.
type Disposition int

const (
	// Ack removes the message from the queue permanently.
	Ack Disposition = iota
	// Retry re-publishes the same payload with an incremented x-attempts
	// header, subject to the policy's attempt bound.
	Retry
	// DeadLetter rejects without requeue so the broker routes the message
	// to the bound dead-letter queue.
	DeadLetter
)

type Handler func(ctx context.Context, msg Message) Disposition

// RetryPolicy bounds redelivery. MaxAttempts 0 is the fail-fast policy:
// any Retry disposition dead-letters immediately.
type RetryPolicy struct {
	MaxAttempts    int
	HandlerTimeout time.Duration
}

// Dispatcher runs a handler for each delivery and executes the resulting
// disposition. Retried messages are re-published to their original exchange
// and routing key and the original delivery is acknowledged, so a poison
// message never blocks the head of its queue.
type Dispatcher struct {
	publisher Publisher
	policy    RetryPolicy
	logger    zerolog.Logger

	// Optional observation hooks for operational counters.
	OnRetry      func(attempts int)
	OnDeadLetter func()
}

func NewDispatcher(publisher Publisher, policy RetryPolicy, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		policy:    policy,
		logger:    logger,
	}
}

// Dispatch invokes the handler under the policy's deadline and settles the
// delivery. A handler that observes the deadline should return Retry.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, handler Handler) {
	hctx := ctx
	if d.policy.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.policy.HandlerTimeout)
		defer cancel()
	}

	switch handler(hctx, msg) {
	case Ack:
		if err := msg.Ack(false); err != nil {
			d.logger.Error().Err(err).Msg("Failed to ack message")
		}

	case DeadLetter:
		d.deadLetter(msg)

	case Retry:
		d.retry(ctx, msg)
	}
}

func (d *Dispatcher) retry(ctx context.Context, msg Message) {
	attempts := attemptsFrom(msg.Headers) + 1

	if attempts > d.policy.MaxAttempts {
		d.logger.Warn().
			Int("attempts", attempts).
			Int("max_attempts", d.policy.MaxAttempts).
			Str("routing_key", msg.RoutingKey).
			Msg("Retry budget exhausted, dead-lettering message")
		d.deadLetter(msg)
		return
	}

	headers := copyHeaders(msg.Headers)
	headers[AttemptsHeader] = int32(attempts)

	if err := d.publisher.PublishRaw(ctx, msg.Exchange, msg.RoutingKey, msg.Body, headers); err != nil {
		// Double failure: retry bookkeeping itself broke. Nack without
		// requeue to guarantee forward progress instead of looping.
		d.logger.Error().Err(err).Msg("Failed to re-publish message for retry")
		d.deadLetter(msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		d.logger.Error().Err(err).Msg("Failed to ack original delivery after re-publish")
	}

	d.logger.Info().
		Int("attempt", attempts).
		Str("routing_key", msg.RoutingKey).
		Msg("Message re-published for retry")

	if d.OnRetry != nil {
		d.OnRetry(attempts)
	}
}

func (d *Dispatcher) deadLetter(msg Message) {
	if err := msg.Nack(false, false); err != nil {
		d.logger.Error().Err(err).Msg("Failed to nack message")
	}
	if d.OnDeadLetter != nil {
		d.OnDeadLetter()
	}
}

// attemptsFrom reads the x-attempts header, defaulting to 0. AMQP decodes
// integer header values into several Go types depending on the client that
// wrote them.
func attemptsFrom(headers map[string]interface{}) int {
	if headers == nil {
		return 0
	}

	switch v := headers[AttemptsHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func copyHeaders(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
