package models

import "time"

// QuestionGradeResult records the outcome for one question. IsCorrect is
// tri-state: nil means "not automatically determinable" (partial credit or
// a manually graded question type).
type QuestionGradeResult struct {
	QuestionID    string      `json:"question_id"`
	PointsEarned  float64     `json:"points_earned"`
	MaxPoints     float64     `json:"max_points"`
	IsCorrect     *bool       `json:"is_correct"`
	StudentAnswer interface{} `json:"student_answer,omitempty"`
	CorrectAnswer interface{} `json:"correct_answer,omitempty"`
	Feedback      *string     `json:"feedback,omitempty"`
}

// GradeResult is the grade store record, keyed 1:1 by submission id.
type GradeResult struct {
	SubmissionID   string                `json:"submission_id"`
	AssessmentID   string                `json:"assessment_id"`
	StudentID      string                `json:"student_id"`
	TotalScore     float64               `json:"total_score"`
	MaxScore       float64               `json:"max_score"`
	Percentage     float64               `json:"percentage"`
	QuestionGrades []QuestionGradeResult `json:"question_grades"`
	GradedAt       time.Time             `json:"graded_at"`
	IsAutomated    bool                  `json:"is_automated"`
	Feedback       *string               `json:"feedback,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// RecomputeTotals derives total, max and percentage from the question
// grades. Totals are never maintained independently; the same derivation
// serves full auto-grading and later manual overrides of single questions.
func (g *GradeResult) RecomputeTotals() {
	var total, max float64
	for _, q := range g.QuestionGrades {
		total += q.PointsEarned
		max += q.MaxPoints
	}

	g.TotalScore = total
	g.MaxScore = max
	if max > 0 {
		g.Percentage = total / max * 100
	} else {
		g.Percentage = 0
	}
}

// QuestionsGraded counts questions that were scored automatically.
func (g *GradeResult) QuestionsGraded() int {
	n := 0
	for _, q := range g.QuestionGrades {
		if q.IsCorrect != nil || q.PointsEarned > 0 {
			n++
		}
	}
	return n
}
