package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Topic exchanges, one per domain stream, plus a single shared dead-letter
// exchange.
const (
	ExchangeSubmission   = "submission.events"
	ExchangeGrading      = "grading.events"
	ExchangeNotification = "notification.events"
	ExchangeDeadLetter   = "dead.letter"
)

// Durable consumer queues. Each dead-letters into ExchangeDeadLetter using
// its own queue name as routing key, so a reject-without-requeue lands in
// exactly one DLQ.
const (
	QueueGradingSubmissions = "grading.submission.submitted"
	QueueNotifications      = "grading.completed.notification"
)

// DLQSuffix names the per-queue dead-letter queue.
const DLQSuffix = ".dlq"

type queueSpec struct {
	name        string
	exchange    string
	routingKeys []string
}

var topology = []queueSpec{
	{
		name:        QueueGradingSubmissions,
		exchange:    ExchangeSubmission,
		routingKeys: []string{"submission.submitted"},
	},
	{
		name:        QueueNotifications,
		exchange:    ExchangeGrading,
		routingKeys: []string{"grading.completed", "grading.failed"},
	},
}

// DeclareTopology asserts the full exchange/queue/binding graph. All
// declarations are idempotent, so this runs on every process start; a
// failure here means the owning process must not proceed to consume or
// publish.
func DeclareTopology(ch *amqp.Channel, logger zerolog.Logger) error {
	for _, exchange := range []string{
		ExchangeSubmission,
		ExchangeGrading,
		ExchangeNotification,
		ExchangeDeadLetter,
	} {
		if err := ch.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	for _, spec := range topology {
		if err := declareQueue(ch, spec, logger); err != nil {
			return err
		}
	}

	logger.Info().Msg("RabbitMQ topology declared")
	return nil
}

func declareQueue(ch *amqp.Channel, spec queueSpec, logger zerolog.Logger) error {
	q, err := ch.QueueDeclare(
		spec.name, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    ExchangeDeadLetter,
			"x-dead-letter-routing-key": spec.name,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", spec.name, err)
	}

	for _, key := range spec.routingKeys {
		if err := ch.QueueBind(q.Name, key, spec.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s/%s: %w", q.Name, spec.exchange, key, err)
		}
	}

	dlq, err := ch.QueueDeclare(
		spec.name+DLQSuffix,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ for %s: %w", spec.name, err)
	}

	if err := ch.QueueBind(dlq.Name, spec.name, ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s: %w", dlq.Name, err)
	}

	logger.Info().
		Str("queue", q.Name).
		Str("exchange", spec.exchange).
		Strs("routing_keys", spec.routingKeys).
		Str("dlq", dlq.Name).
		Msg("Queue declared")

	return nil
}
