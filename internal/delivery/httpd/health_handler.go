package httpd

import (
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "grading-service",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, h.gradingWorker.GetStats())
}
