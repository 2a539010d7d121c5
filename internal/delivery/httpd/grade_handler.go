package httpd

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gradeflow/grading-pipeline/internal/models"
	"github.com/gradeflow/grading-pipeline/internal/service"
)

func (h *Handler) GetGrade(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	grade, err := h.gradingService.GetGrade(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, service.ErrGradeNotFound) {
			writeError(w, http.StatusNotFound, "Grade not found")
			return
		}
		h.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to get grade")
		writeError(w, http.StatusInternalServerError, "Failed to get grade")
		return
	}

	writeSuccess(w, grade)
}

func (h *Handler) GetGradesByAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessment_id")
	limit := getIntQueryParam(r, "limit", 20)
	offset := getIntQueryParam(r, "offset", 0)

	grades, total, err := h.gradingService.GetGradesByAssessment(r.Context(), assessmentID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("assessment_id", assessmentID).Msg("Failed to list grades")
		writeError(w, http.StatusInternalServerError, "Failed to list grades")
		return
	}

	writeSuccess(w, models.GradeListResponse{
		Grades: grades,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *Handler) GetGradesByStudent(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "student_id")
	limit := getIntQueryParam(r, "limit", 20)
	offset := getIntQueryParam(r, "offset", 0)

	grades, total, err := h.gradingService.GetGradesByStudent(r.Context(), studentID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("student_id", studentID).Msg("Failed to list grades")
		writeError(w, http.StatusInternalServerError, "Failed to list grades")
		return
	}

	writeSuccess(w, models.GradeListResponse{
		Grades: grades,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *Handler) Regrade(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")

	grade, err := h.gradingService.Regrade(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, service.ErrGradeNotFound) {
			writeError(w, http.StatusNotFound, "Grade not found")
			return
		}
		h.logger.Error().Err(err).Str("submission_id", submissionID).Msg("Failed to regrade submission")
		writeError(w, http.StatusInternalServerError, "Failed to regrade submission")
		return
	}

	writeSuccess(w, grade)
}

func (h *Handler) OverrideQuestionScore(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission_id")
	questionID := chi.URLParam(r, "question_id")

	var req models.OverrideRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	grade, err := h.gradingService.OverrideQuestionScore(r.Context(), submissionID, questionID, req.PointsEarned, req.Feedback)
	if err != nil {
		if errors.Is(err, service.ErrGradeNotFound) {
			writeError(w, http.StatusNotFound, "Grade or question not found")
			return
		}
		h.logger.Error().Err(err).
			Str("submission_id", submissionID).
			Str("question_id", questionID).
			Msg("Failed to override question score")
		writeError(w, http.StatusInternalServerError, "Failed to override question score")
		return
	}

	writeSuccess(w, grade)
}
