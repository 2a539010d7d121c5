package httpd

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/service"
	"github.com/gradeflow/grading-pipeline/internal/worker"
)

type Handler struct {
	gradingService service.GradingService
	gradingWorker  worker.GradingWorker
	logger         zerolog.Logger
}

func NewHandler(
	gradingService service.GradingService,
	gradingWorker worker.GradingWorker,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		gradingService: gradingService,
		gradingWorker:  gradingWorker,
		logger:         logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)
	router.Get("/stats", h.GetStats)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/grades", func(r chi.Router) {
			r.Get("/{submission_id}", h.GetGrade)
			r.Get("/assessment/{assessment_id}", h.GetGradesByAssessment)
			r.Get("/student/{student_id}", h.GetGradesByStudent)
			r.Post("/{submission_id}/regrade", h.Regrade)
			r.Post("/{submission_id}/questions/{question_id}/override", h.OverrideQuestionScore)
		})
	})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}
