package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
	"github.com/gradeflow/grading-pipeline/internal/service"
)

type NotificationStats struct {
	EmailsSent   int `json:"emails_sent"`
	Failed       int `json:"failed"`
	ParseErrors  int `json:"parse_errors"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	QueueLength  int `json:"queue_length"`
}

type NotificationWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() NotificationStats
}

type notificationWorker struct {
	pool           *WorkerPool
	consumer       broker.Consumer
	dispatcher     *broker.Dispatcher
	notifications  service.NotificationService
	client         *broker.Client
	reconnectDelay time.Duration
	logger         zerolog.Logger

	stats   NotificationStats
	statsMu sync.RWMutex
}

func NewNotificationWorker(
	pool *WorkerPool,
	consumer broker.Consumer,
	dispatcher *broker.Dispatcher,
	notifications service.NotificationService,
	client *broker.Client,
	reconnectDelay time.Duration,
	logger zerolog.Logger,
) NotificationWorker {
	w := &notificationWorker{
		pool:           pool,
		consumer:       consumer,
		dispatcher:     dispatcher,
		notifications:  notifications,
		client:         client,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}

	dispatcher.OnRetry = func(int) { w.bump(func(s *NotificationStats) { s.Retried++ }) }
	dispatcher.OnDeadLetter = func() { w.bump(func(s *NotificationStats) { s.DeadLettered++ }) }

	return w
}

func (w *notificationWorker) Start(ctx context.Context) error {
	if err := w.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.run(ctx, msgs)

	w.logger.Info().Msg("Notification worker started")
	return nil
}

func (w *notificationWorker) run(ctx context.Context, msgs <-chan broker.Message) {
	for {
		w.processMessages(ctx, msgs)

		if ctx.Err() != nil {
			return
		}

		w.logger.Warn().Msg("Delivery stream ended, reconnecting")
		if err := w.client.Reconnect(ctx, w.reconnectDelay); err != nil {
			return
		}

		next, err := w.consumer.Consume(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to resume consuming after reconnect")
			continue
		}
		msgs = next
	}
}

func (w *notificationWorker) processMessages(ctx context.Context, msgs <-chan broker.Message) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			accepted := w.pool.Submit(func() {
				w.dispatcher.Dispatch(ctx, msg, w.handle)
			})
			if !accepted {
				if err := msg.Nack(false, true); err != nil {
					w.logger.Error().Err(err).Msg("Failed to requeue message during shutdown")
				}
			}
		}
	}
}

// handle processes one grading event. All failures, including parse errors,
// go through the bounded-retry policy: every message gets its full retry
// budget before landing in the DLQ.
func (w *notificationWorker) handle(ctx context.Context, msg broker.Message) broker.Disposition {
	env, err := events.Decode(msg.Body)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode envelope")
		w.bump(func(s *NotificationStats) { s.ParseErrors++ })
		return broker.Retry
	}

	switch env.Event.EventType {
	case events.TypeGradingCompleted, events.TypeGradingFailed:
	default:
		w.logger.Warn().Str("event_type", env.Event.EventType).Msg("Unexpected event type on notification queue")
		return broker.Ack
	}

	if err := w.notifications.HandleGradingEvent(ctx, env); err != nil {
		w.logger.Error().Err(err).
			Str("event_id", env.Event.EventID).
			Msg("Failed to handle grading event")
		w.bump(func(s *NotificationStats) {
			s.Failed++
			var schemaErr *events.SchemaError
			if errors.As(err, &schemaErr) {
				s.ParseErrors++
			}
		})
		return broker.Retry
	}

	w.bump(func(s *NotificationStats) { s.EmailsSent++ })
	return broker.Ack
}

func (w *notificationWorker) Stop() error {
	if err := w.pool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close consumer")
	}

	w.statsMu.RLock()
	sent, deadLettered := w.stats.EmailsSent, w.stats.DeadLettered
	w.statsMu.RUnlock()

	w.logger.Info().
		Int("emails_sent", sent).
		Int("dead_lettered", deadLettered).
		Msg("Notification worker stopped")

	return nil
}

func (w *notificationWorker) GetStats() NotificationStats {
	w.statsMu.RLock()
	stats := w.stats
	w.statsMu.RUnlock()

	if length, err := w.consumer.QueueLength(); err == nil {
		stats.QueueLength = length
	}

	return stats
}

func (w *notificationWorker) bump(f func(*NotificationStats)) {
	w.statsMu.Lock()
	f(&w.stats)
	w.statsMu.Unlock()
}
