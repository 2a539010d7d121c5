package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/config"
	"github.com/gradeflow/grading-pipeline/internal/delivery/httpd"
	"github.com/gradeflow/grading-pipeline/internal/repository"
	"github.com/gradeflow/grading-pipeline/internal/service"
	"github.com/gradeflow/grading-pipeline/internal/service/integration"
	"github.com/gradeflow/grading-pipeline/internal/worker"
)

// App is the grading service process: it consumes submission.submitted,
// grades, persists and publishes grading events, and serves the
// operational HTTP API.
type App struct {
	server        *http.Server
	logger        zerolog.Logger
	config        *config.Config
	db            *sql.DB
	gradingWorker worker.GradingWorker
	brokerClient  *broker.Client
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
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
		broker.QueueGradingSubmissions,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	gradeRepo := repository.NewGradeRepository(db, log)

	assessmentClient := integration.NewAssessmentClient(
		cfg.Services.Assessment.URL,
		cfg.Services.Assessment.Timeout,
		cfg.Services.Assessment.RetryCount,
		cfg.Services.Assessment.RetryDelay,
		log,
	)

	submissionClient := integration.NewSubmissionClient(
		cfg.Services.Submission.URL,
		cfg.Services.Submission.Timeout,
		cfg.Services.Submission.RetryCount,
		cfg.Services.Submission.RetryDelay,
		log,
	)

	gradingService := service.NewGradingService(
		gradeRepo,
		assessmentClient,
		submissionClient,
		publisher,
		cfg.Grading.ServiceID,
		log,
	)

	dispatcher := broker.NewDispatcher(publisher, broker.RetryPolicy{
		MaxAttempts:    cfg.Grading.MaxAttempts,
		HandlerTimeout: cfg.RabbitMQ.HandlerTimeout,
	}, log)

	workerPool := worker.NewWorkerPool(cfg.Grading.MaxWorkers, log)

	gradingWorker := worker.NewGradingWorker(
		workerPool,
		consumer,
		dispatcher,
		gradingService,
		brokerClient,
		cfg.RabbitMQ.ReconnectDelay,
		log,
	)

	handler := httpd.NewHandler(gradingService, gradingWorker, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:        server,
		logger:        log,
		config:        cfg,
		db:            db,
		gradingWorker: gradingWorker,
		brokerClient:  brokerClient,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	if err := a.gradingWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start grading worker")
		return err
	}

	a.logger.Info().Msgf("Starting grading service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down grading service...")

	if err := a.gradingWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop grading worker")
	}

	if a.brokerClient != nil {
		if err := a.brokerClient.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Grading service stopped")
	return nil
}
