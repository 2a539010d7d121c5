package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/models"
)

// GradeRepository is the grade store: one row per submission id, written
// with a last-writer-wins upsert. The cache check in the orchestrator is
// the only guard against duplicate-delivery races; this layer takes no
// row locks.
type GradeRepository interface {
	Upsert(ctx context.Context, grade *models.GradeResult) error
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.GradeResult, error)
	GetByAssessmentID(ctx context.Context, assessmentID string, limit, offset int) ([]models.GradeResult, int, error)
	GetByStudentID(ctx context.Context, studentID string, limit, offset int) ([]models.GradeResult, int, error)
	Exists(ctx context.Context, submissionID string) (bool, error)
	Ping(ctx context.Context) error
}

type gradeRepository struct {
	*PostgresRepository
}

func NewGradeRepository(db *sql.DB, logger zerolog.Logger) GradeRepository {
	return &gradeRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const gradeColumns = `
	submission_id, assessment_id, student_id, total_score, max_score,
	percentage, question_grades, graded_at, is_automated, feedback,
	created_at, updated_at
`

func (r *gradeRepository) Upsert(ctx context.Context, grade *models.GradeResult) error {
	questionGrades, err := json.Marshal(grade.QuestionGrades)
	if err != nil {
		return fmt.Errorf("failed to marshal question grades: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO grade_results (
			submission_id, assessment_id, student_id, total_score, max_score,
			percentage, question_grades, graded_at, is_automated, feedback,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11
		)
		ON CONFLICT (submission_id) DO UPDATE SET
			assessment_id = EXCLUDED.assessment_id,
			student_id = EXCLUDED.student_id,
			total_score = EXCLUDED.total_score,
			max_score = EXCLUDED.max_score,
			percentage = EXCLUDED.percentage,
			question_grades = EXCLUDED.question_grades,
			graded_at = EXCLUDED.graded_at,
			is_automated = EXCLUDED.is_automated,
			feedback = EXCLUDED.feedback,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		grade.SubmissionID,
		grade.AssessmentID,
		grade.StudentID,
		grade.TotalScore,
		grade.MaxScore,
		grade.Percentage,
		questionGrades,
		grade.GradedAt,
		grade.IsAutomated,
		grade.Feedback,
		now,
	)

	return err
}

func (r *gradeRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.GradeResult, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_results WHERE submission_id = $1`, gradeColumns)

	grade, err := scanGrade(r.db.QueryRowContext(ctx, query, submissionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return grade, nil
}

func (r *gradeRepository) GetByAssessmentID(ctx context.Context, assessmentID string, limit, offset int) ([]models.GradeResult, int, error) {
	countQuery := `SELECT COUNT(*) FROM grade_results WHERE assessment_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, assessmentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM grade_results
		WHERE assessment_id = $1
		ORDER BY graded_at DESC
		LIMIT $2 OFFSET $3
	`, gradeColumns)

	rows, err := r.db.QueryContext(ctx, query, assessmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	grades, err := collectGrades(rows)
	if err != nil {
		return nil, 0, err
	}

	return grades, total, nil
}

func (r *gradeRepository) GetByStudentID(ctx context.Context, studentID string, limit, offset int) ([]models.GradeResult, int, error) {
	countQuery := `SELECT COUNT(*) FROM grade_results WHERE student_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, studentID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM grade_results
		WHERE student_id = $1
		ORDER BY graded_at DESC
		LIMIT $2 OFFSET $3
	`, gradeColumns)

	rows, err := r.db.QueryContext(ctx, query, studentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	grades, err := collectGrades(rows)
	if err != nil {
		return nil, 0, err
	}

	return grades, total, nil
}

func (r *gradeRepository) Exists(ctx context.Context, submissionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM grade_results WHERE submission_id = $1)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, submissionID).Scan(&exists)
	return exists, err
}

func (r *gradeRepository) Ping(ctx context.Context) error {
	return r.PostgresRepository.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrade(row rowScanner) (*models.GradeResult, error) {
	grade := &models.GradeResult{}
	var questionGrades []byte
	var feedback sql.NullString

	err := row.Scan(
		&grade.SubmissionID,
		&grade.AssessmentID,
		&grade.StudentID,
		&grade.TotalScore,
		&grade.MaxScore,
		&grade.Percentage,
		&questionGrades,
		&grade.GradedAt,
		&grade.IsAutomated,
		&feedback,
		&grade.CreatedAt,
		&grade.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(questionGrades) > 0 {
		if err := json.Unmarshal(questionGrades, &grade.QuestionGrades); err != nil {
			return nil, fmt.Errorf("failed to unmarshal question grades: %w", err)
		}
	}

	if feedback.Valid {
		grade.Feedback = &feedback.String
	}

	return grade, nil
}

func collectGrades(rows *sql.Rows) ([]models.GradeResult, error) {
	var grades []models.GradeResult
	for rows.Next() {
		grade, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, *grade)
	}
	return grades, rows.Err()
}
