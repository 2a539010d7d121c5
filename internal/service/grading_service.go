package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
	"github.com/gradeflow/grading-pipeline/internal/models"
	"github.com/gradeflow/grading-pipeline/internal/repository"
	"github.com/gradeflow/grading-pipeline/internal/service/grader"
	"github.com/gradeflow/grading-pipeline/internal/service/integration"
)

// ErrGradeNotFound is returned by query operations when no grade exists for
// the requested submission.
var ErrGradeNotFound = errors.New("grade not found")

type GradingService interface {
	// GradeSubmission is the handler behind submission.submitted events.
	// Without force it is idempotent: an existing grade is returned
	// unchanged, no recomputation, no event republish.
	GradeSubmission(ctx context.Context, sub models.SubmissionEventData, meta events.Metadata, force bool) (*models.GradeResult, error)

	// Regrade recomputes an existing submission from scratch (the force
	// path used by the operational API).
	Regrade(ctx context.Context, submissionID string) (*models.GradeResult, error)

	// OverrideQuestionScore replaces one question's score manually; totals
	// are re-derived through the same computation as auto-grading.
	OverrideQuestionScore(ctx context.Context, submissionID, questionID string, points float64, feedback string) (*models.GradeResult, error)

	GetGrade(ctx context.Context, submissionID string) (*models.GradeResult, error)
	GetGradesByAssessment(ctx context.Context, assessmentID string, limit, offset int) ([]models.GradeResult, int, error)
	GetGradesByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.GradeResult, int, error)
}

type gradingService struct {
	grades      repository.GradeRepository
	assessments integration.AssessmentClient
	submissions integration.SubmissionClient
	publisher   broker.Publisher
	serviceID   string
	logger      zerolog.Logger
}

func NewGradingService(
	grades repository.GradeRepository,
	assessments integration.AssessmentClient,
	submissions integration.SubmissionClient,
	publisher broker.Publisher,
	serviceID string,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		grades:      grades,
		assessments: assessments,
		submissions: submissions,
		publisher:   publisher,
		serviceID:   serviceID,
		logger:      logger,
	}
}

func (s *gradingService) GradeSubmission(ctx context.Context, sub models.SubmissionEventData, meta events.Metadata, force bool) (*models.GradeResult, error) {
	existing, err := s.grades.GetBySubmissionID(ctx, sub.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing grade: %w", err)
	}

	if existing != nil && !force {
		s.logger.Info().
			Str("submission_id", sub.SubmissionID).
			Msg("Grade already exists, returning cached result")
		return existing, nil
	}

	result, err := s.grade(ctx, sub, meta)
	if err != nil {
		s.publishFailure(ctx, sub, meta, err)
		return nil, err
	}

	s.publishCompleted(ctx, result, meta)
	return result, nil
}

func (s *gradingService) grade(ctx context.Context, sub models.SubmissionEventData, meta events.Metadata) (*models.GradeResult, error) {
	answers := sub.Answers
	if answers == nil {
		fetched, err := s.submissions.GetSubmission(ctx, sub.SubmissionID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch submission answers: %w", err)
		}
		answers = fetched.Answers
	}

	assessment, err := s.assessments.GetAssessment(ctx, sub.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assessment: %w", err)
	}

	result := &models.GradeResult{
		SubmissionID: sub.SubmissionID,
		AssessmentID: sub.AssessmentID,
		StudentID:    sub.StudentID,
		GradedAt:     time.Now().UTC(),
		IsAutomated:  true,
	}

	for _, q := range assessment.Questions {
		result.QuestionGrades = append(result.QuestionGrades, grader.Grade(q, answers[q.ID], assessment.GradingConfig))
	}

	result.RecomputeTotals()

	if err := s.grades.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist grade: %w", err)
	}

	s.logger.Info().
		Str("submission_id", result.SubmissionID).
		Float64("total_score", result.TotalScore).
		Float64("max_score", result.MaxScore).
		Float64("percentage", result.Percentage).
		Msg("Submission graded")

	return result, nil
}

func (s *gradingService) Regrade(ctx context.Context, submissionID string) (*models.GradeResult, error) {
	existing, err := s.grades.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grade: %w", err)
	}
	if existing == nil {
		return nil, ErrGradeNotFound
	}

	sub := models.SubmissionEventData{
		SubmissionID: existing.SubmissionID,
		AssessmentID: existing.AssessmentID,
		StudentID:    existing.StudentID,
	}

	return s.GradeSubmission(ctx, sub, events.Metadata{UserID: existing.StudentID}, true)
}

func (s *gradingService) OverrideQuestionScore(ctx context.Context, submissionID, questionID string, points float64, feedback string) (*models.GradeResult, error) {
	grade, err := s.grades.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grade: %w", err)
	}
	if grade == nil {
		return nil, ErrGradeNotFound
	}

	found := false
	for i := range grade.QuestionGrades {
		if grade.QuestionGrades[i].QuestionID != questionID {
			continue
		}

		q := &grade.QuestionGrades[i]
		if points < 0 {
			points = 0
		}
		if points > q.MaxPoints {
			points = q.MaxPoints
		}
		q.PointsEarned = points
		q.IsCorrect = nil
		if feedback != "" {
			q.Feedback = &feedback
		}
		found = true
		break
	}

	if !found {
		return nil, fmt.Errorf("question %s not part of grade %s: %w", questionID, submissionID, ErrGradeNotFound)
	}

	grade.RecomputeTotals()
	grade.IsAutomated = false
	grade.GradedAt = time.Now().UTC()

	if err := s.grades.Upsert(ctx, grade); err != nil {
		return nil, fmt.Errorf("failed to persist override: %w", err)
	}

	s.publishCompleted(ctx, grade, events.Metadata{UserID: grade.StudentID})
	return grade, nil
}

func (s *gradingService) GetGrade(ctx context.Context, submissionID string) (*models.GradeResult, error) {
	grade, err := s.grades.GetBySubmissionID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if grade == nil {
		return nil, ErrGradeNotFound
	}
	return grade, nil
}

func (s *gradingService) GetGradesByAssessment(ctx context.Context, assessmentID string, limit, offset int) ([]models.GradeResult, int, error) {
	return s.grades.GetByAssessmentID(ctx, assessmentID, limit, offset)
}

func (s *gradingService) GetGradesByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.GradeResult, int, error) {
	return s.grades.GetByStudentID(ctx, studentID, limit, offset)
}

// publishCompleted emits grading.completed. A publish failure is logged but
// never un-commits the persisted grade: persistence and notification are
// not transactionally coupled.
func (s *gradingService) publishCompleted(ctx context.Context, result *models.GradeResult, meta events.Metadata) {
	graded := result.QuestionsGraded()
	total := len(result.QuestionGrades)

	status := models.GradingSuccess
	if graded < total {
		status = models.GradingPartial
	}

	data := models.GradingEventData{
		SubmissionID:    result.SubmissionID,
		AssessmentID:    result.AssessmentID,
		StudentID:       result.StudentID,
		TotalMarks:      result.MaxScore,
		CalculatedMarks: result.TotalScore,
		Percentage:      result.Percentage,
		GradedAt:        result.GradedAt,
		GradingStatus:   status,
		QuestionsGraded: &graded,
		TotalQuestions:  &total,
	}

	env, err := events.New(s.serviceID, events.TypeGradingCompleted, data, meta)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build grading.completed event")
		return
	}

	if err := s.publisher.Publish(ctx, broker.ExchangeGrading, events.TypeGradingCompleted, env); err != nil {
		s.logger.Error().Err(err).
			Str("submission_id", result.SubmissionID).
			Msg("Failed to publish grading.completed event")
	}
}

// publishFailure emits a best-effort grading.failed event carrying the
// error and whether redelivery can help, then lets the caller re-raise the
// error for the consumer's retry policy.
func (s *gradingService) publishFailure(ctx context.Context, sub models.SubmissionEventData, meta events.Metadata, cause error) {
	data := models.GradingEventData{
		SubmissionID:  sub.SubmissionID,
		AssessmentID:  sub.AssessmentID,
		StudentID:     sub.StudentID,
		GradedAt:      time.Now().UTC(),
		GradingStatus: models.GradingFailed,
		ErrorMessage:  cause.Error(),
		Retryable:     IsRetryable(cause),
	}

	env, err := events.New(s.serviceID, events.TypeGradingFailed, data, meta)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build grading.failed event")
		return
	}

	if err := s.publisher.Publish(ctx, broker.ExchangeGrading, events.TypeGradingFailed, env); err != nil {
		s.logger.Error().Err(err).
			Str("submission_id", sub.SubmissionID).
			Msg("Failed to publish grading.failed event")
	}
}

// IsRetryable classifies an orchestrator error. Schema violations never
// benefit from redelivery; missing referenced entities and internal
// computation failures do.
func IsRetryable(err error) bool {
	var schemaErr *events.SchemaError
	return !errors.As(err, &schemaErr)
}
