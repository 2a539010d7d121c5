package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
	"github.com/gradeflow/grading-pipeline/internal/models"
	"github.com/gradeflow/grading-pipeline/internal/service"
)

type Stats struct {
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	ParseErrors   int `json:"parse_errors"`
	Retried       int `json:"retried"`
	DeadLettered  int `json:"dead_lettered"`
	QueueLength   int `json:"queue_length"`
	ActiveWorkers int `json:"active_workers"`
}

type GradingWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() Stats
}

type gradingWorker struct {
	pool           *WorkerPool
	consumer       broker.Consumer
	dispatcher     *broker.Dispatcher
	grading        service.GradingService
	client         *broker.Client
	reconnectDelay time.Duration
	logger         zerolog.Logger

	stats     Stats
	statsMu   sync.RWMutex
	startTime time.Time
}

func NewGradingWorker(
	pool *WorkerPool,
	consumer broker.Consumer,
	dispatcher *broker.Dispatcher,
	grading service.GradingService,
	client *broker.Client,
	reconnectDelay time.Duration,
	logger zerolog.Logger,
) GradingWorker {
	w := &gradingWorker{
		pool:           pool,
		consumer:       consumer,
		dispatcher:     dispatcher,
		grading:        grading,
		client:         client,
		reconnectDelay: reconnectDelay,
		logger:         logger,
		startTime:      time.Now(),
	}

	dispatcher.OnRetry = func(int) { w.bump(func(s *Stats) { s.Retried++ }) }
	dispatcher.OnDeadLetter = func() { w.bump(func(s *Stats) { s.DeadLettered++ }) }

	return w
}

func (w *gradingWorker) Start(ctx context.Context) error {
	if err := w.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.run(ctx, msgs)

	w.logger.Info().Msg("Grading worker started")
	return nil
}

// run processes deliveries and re-subscribes with a fixed backoff whenever
// the stream ends because the broker connection was lost.
func (w *gradingWorker) run(ctx context.Context, msgs <-chan broker.Message) {
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

func (w *gradingWorker) processMessages(ctx context.Context, msgs <-chan broker.Message) {
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

// handle maps a submission.submitted delivery to a disposition. Schema
// violations are deterministic failures and go straight to dead-letter;
// everything else is left to the bounded-retry policy.
func (w *gradingWorker) handle(ctx context.Context, msg broker.Message) broker.Disposition {
	env, err := events.Decode(msg.Body)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode envelope")
		w.bump(func(s *Stats) { s.ParseErrors++ })
		return broker.DeadLetter
	}

	var data models.SubmissionEventData
	if err := env.DecodeData(&data); err != nil {
		w.logger.Error().Err(err).Str("event_id", env.Event.EventID).Msg("Failed to decode submission payload")
		w.bump(func(s *Stats) { s.ParseErrors++ })
		return broker.DeadLetter
	}

	if err := data.Validate(); err != nil {
		w.logger.Error().Err(err).Str("event_id", env.Event.EventID).Msg("Invalid submission payload")
		w.bump(func(s *Stats) { s.ParseErrors++ })
		return broker.DeadLetter
	}

	w.logger.Info().
		Str("submission_id", data.SubmissionID).
		Str("correlation_id", env.Metadata.CorrelationID).
		Msg("Processing submission")

	if _, err := w.grading.GradeSubmission(ctx, data, env.ChildMetadata(), false); err != nil {
		w.logger.Error().Err(err).
			Str("submission_id", data.SubmissionID).
			Msg("Failed to grade submission")
		w.bump(func(s *Stats) { s.Failed++ })

		if !service.IsRetryable(err) {
			return broker.DeadLetter
		}
		return broker.Retry
	}

	w.bump(func(s *Stats) { s.Processed++ })
	return broker.Ack
}

func (w *gradingWorker) Stop() error {
	if err := w.pool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.consumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close consumer")
	}

	w.statsMu.RLock()
	processed, failed := w.stats.Processed, w.stats.Failed
	w.statsMu.RUnlock()

	w.logger.Info().
		Int("processed", processed).
		Int("failed", failed).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Grading worker stopped")

	return nil
}

func (w *gradingWorker) GetStats() Stats {
	w.statsMu.RLock()
	stats := w.stats
	w.statsMu.RUnlock()

	if length, err := w.consumer.QueueLength(); err == nil {
		stats.QueueLength = length
	}
	stats.ActiveWorkers = w.pool.ActiveWorkers()

	return stats
}

func (w *gradingWorker) bump(f func(*Stats)) {
	w.statsMu.Lock()
	f(&w.stats)
	w.statsMu.Unlock()
}
