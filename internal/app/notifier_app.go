package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/config"
	"github.com/gradeflow/grading-pipeline/internal/notifier"
	"github.com/gradeflow/grading-pipeline/internal/service"
	"github.com/gradeflow/grading-pipeline/internal/service/integration"
	"github.com/gradeflow/grading-pipeline/internal/worker"
)

// NotifierApp is the second, independently-deployed instance of the
// consumer pattern: it listens for grading events and drives the Notifier.
type NotifierApp struct {
	server             *http.Server
	logger             zerolog.Logger
	config             *config.Config
	notificationWorker worker.NotificationWorker
	brokerClient       *broker.Client
}

func NewNotifier(cfg *config.Config, log zerolog.Logger) (*NotifierApp, error) {
	brokerClient, err := broker.NewClient(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := broker.DeclareTopology(brokerClient.Channel(), log); err != nil {
		brokerClient.Close()
		return nil, err
	}

	publisher := broker.NewPublisher(brokerClient, log)
	consumer := broker.NewConsumer(
		brokerClient,
		broker.QueueNotifications,
		cfg.Notification.ServiceID,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	studentClient := integration.NewStudentClient(
		cfg.Services.Student.URL,
		cfg.Services.Student.Timeout,
		cfg.Services.Student.RetryCount,
		cfg.Services.Student.RetryDelay,
		log,
	)

	notificationService := service.NewNotificationService(
		studentClient,
		notifier.NewLogNotifier(log),
		publisher,
		cfg.Notification.ServiceID,
		cfg.Notification.FromName,
		log,
	)

	dispatcher := broker.NewDispatcher(publisher, broker.RetryPolicy{
		MaxAttempts:    cfg.Notification.MaxRetries,
		HandlerTimeout: cfg.RabbitMQ.HandlerTimeout,
	}, log)

	workerPool := worker.NewWorkerPool(cfg.RabbitMQ.PrefetchCount, log)

	notificationWorker := worker.NewNotificationWorker(
		workerPool,
		consumer,
		dispatcher,
		notificationService,
		brokerClient,
		cfg.RabbitMQ.ReconnectDelay,
		log,
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"notification-service"}`))
	})

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &NotifierApp{
		server:             server,
		logger:             log,
		config:             cfg,
		notificationWorker: notificationWorker,
		brokerClient:       brokerClient,
	}, nil
}

func (a *NotifierApp) Run(ctx context.Context) error {
	if err := a.notificationWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start notification worker")
		return err
	}

	a.logger.Info().Msgf("Starting notification service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *NotifierApp) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down notification service...")

	if err := a.notificationWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop notification worker")
	}

	if a.brokerClient != nil {
		if err := a.brokerClient.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Notification service stopped")
	return nil
}
