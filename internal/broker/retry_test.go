package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       []byte
	headers    amqp.Table
}

type fakePublisher struct {
	published []publishedMessage
	failWith  error
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, env *events.Envelope) error {
	return nil
}

func (p *fakePublisher) PublishRaw(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.published = append(p.published, publishedMessage{exchange, routingKey, body, headers})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type settlement struct {
	acked   bool
	nacked  bool
	requeue bool
}

func testMessage(headers amqp.Table, s *settlement) broker.Message {
	return broker.Message{
		Body:       []byte(`{"payload":"x"}`),
		Headers:    headers,
		Exchange:   "submission.events",
		RoutingKey: "submission.submitted",
		Ack: func(multiple bool) error {
			s.acked = true
			return nil
		},
		Nack: func(multiple, requeue bool) error {
			s.nacked = true
			s.requeue = requeue
			return nil
		},
	}
}

func handlerReturning(d broker.Disposition) broker.Handler {
	return func(ctx context.Context, msg broker.Message) broker.Disposition { return d }
}

func TestDispatchAck(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3}, zerolog.Nop())

	var s settlement
	d.Dispatch(context.Background(), testMessage(nil, &s), handlerReturning(broker.Ack))

	assert.True(t, s.acked)
	assert.False(t, s.nacked)
	assert.Empty(t, pub.published)
}

func TestDispatchDeadLetter(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3}, zerolog.Nop())

	deadLettered := 0
	d.OnDeadLetter = func() { deadLettered++ }

	var s settlement
	d.Dispatch(context.Background(), testMessage(nil, &s), handlerReturning(broker.DeadLetter))

	assert.False(t, s.acked)
	assert.True(t, s.nacked)
	assert.False(t, s.requeue)
	assert.Equal(t, 1, deadLettered)
	assert.Empty(t, pub.published)
}

func TestDispatchRetryRepublishes(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3}, zerolog.Nop())

	var s settlement
	msg := testMessage(amqp.Table{"x-attempts": int32(1), "custom": "kept"}, &s)
	d.Dispatch(context.Background(), msg, handlerReturning(broker.Retry))

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, "submission.events", got.exchange)
	assert.Equal(t, "submission.submitted", got.routingKey)
	assert.Equal(t, msg.Body, got.body)
	assert.Equal(t, int32(2), got.headers["x-attempts"])
	assert.Equal(t, "kept", got.headers["custom"])

	assert.True(t, s.acked, "original delivery must be acked after re-publish")
	assert.False(t, s.nacked)
}

// A message that always fails is redelivered exactly MaxAttempts times and
// then dead-lettered, for MaxAttempts+1 handler invocations in total.
func TestDispatchRetryBudgetExhausted(t *testing.T) {
	const maxAttempts = 3

	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: maxAttempts}, zerolog.Nop())

	retries := 0
	deadLettered := 0
	d.OnRetry = func(int) { retries++ }
	d.OnDeadLetter = func() { deadLettered++ }

	invocations := 0
	headers := amqp.Table(nil)

	for {
		invocations++
		var s settlement
		d.Dispatch(context.Background(), testMessage(headers, &s), handlerReturning(broker.Retry))

		if s.nacked {
			assert.False(t, s.requeue)
			break
		}

		require.True(t, s.acked)
		headers = pub.published[len(pub.published)-1].headers
	}

	assert.Equal(t, maxAttempts+1, invocations)
	assert.Equal(t, maxAttempts, retries)
	assert.Equal(t, 1, deadLettered)
	assert.Len(t, pub.published, maxAttempts)
}

func TestDispatchRetryFailFastPolicy(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 0}, zerolog.Nop())

	var s settlement
	d.Dispatch(context.Background(), testMessage(nil, &s), handlerReturning(broker.Retry))

	assert.True(t, s.nacked)
	assert.False(t, s.requeue)
	assert.False(t, s.acked)
	assert.Empty(t, pub.published)
}

func TestDispatchRetryRepublishFailure(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("channel closed")}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3}, zerolog.Nop())

	deadLettered := 0
	d.OnDeadLetter = func() { deadLettered++ }

	var s settlement
	d.Dispatch(context.Background(), testMessage(nil, &s), handlerReturning(broker.Retry))

	assert.True(t, s.nacked)
	assert.False(t, s.requeue)
	assert.False(t, s.acked)
	assert.Equal(t, 1, deadLettered)
}

func TestDispatchHandlerTimeout(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3, HandlerTimeout: time.Minute}, zerolog.Nop())

	var s settlement
	sawDeadline := false
	d.Dispatch(context.Background(), testMessage(nil, &s), func(ctx context.Context, msg broker.Message) broker.Disposition {
		_, sawDeadline = ctx.Deadline()
		return broker.Ack
	})

	assert.True(t, sawDeadline)
	assert.True(t, s.acked)
}

// Attempts headers written by other AMQP clients may decode as any integer
// width; all of them must count.
func TestAttemptsHeaderCoercion(t *testing.T) {
	pub := &fakePublisher{}
	d := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 10}, zerolog.Nop())

	for _, v := range []interface{}{int(2), int8(2), int16(2), int32(2), int64(2), float64(2)} {
		pub.published = nil

		var s settlement
		d.Dispatch(context.Background(), testMessage(amqp.Table{"x-attempts": v}, &s), handlerReturning(broker.Retry))

		require.Len(t, pub.published, 1)
		assert.Equal(t, int32(3), pub.published[0].headers["x-attempts"])
	}
}
