package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gradeflow/grading-pipeline/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func TestRecomputeTotals(t *testing.T) {
	grade := models.GradeResult{
		QuestionGrades: []models.QuestionGradeResult{
			{QuestionID: "q1", PointsEarned: 5, MaxPoints: 5},
			{QuestionID: "q2", PointsEarned: 2.5, MaxPoints: 5},
			{QuestionID: "q3", PointsEarned: 0, MaxPoints: 5},
		},
	}

	grade.RecomputeTotals()

	assert.Equal(t, 7.5, grade.TotalScore)
	assert.Equal(t, 15.0, grade.MaxScore)
	assert.InDelta(t, 50.0, grade.Percentage, 1e-9)
}

func TestRecomputeTotalsZeroMaxScore(t *testing.T) {
	grade := models.GradeResult{}

	grade.RecomputeTotals()

	assert.Zero(t, grade.TotalScore)
	assert.Zero(t, grade.MaxScore)
	assert.Zero(t, grade.Percentage)
}

func TestQuestionsGraded(t *testing.T) {
	grade := models.GradeResult{
		QuestionGrades: []models.QuestionGradeResult{
			{QuestionID: "q1", IsCorrect: boolPtr(true), PointsEarned: 5},
			{QuestionID: "q2", IsCorrect: boolPtr(false)},
			{QuestionID: "q3", IsCorrect: nil, PointsEarned: 2.5},
			{QuestionID: "q4", IsCorrect: nil},
		},
	}

	assert.Equal(t, 3, grade.QuestionsGraded())
}

func TestSubmissionEventDataValidate(t *testing.T) {
	valid := models.SubmissionEventData{
		SubmissionID: "sub-1",
		AssessmentID: "asm-1",
		StudentID:    "stu-1",
		Status:       models.SubmissionSubmitted,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*models.SubmissionEventData)
	}{
		{"missing submission id", func(d *models.SubmissionEventData) { d.SubmissionID = " " }},
		{"missing assessment id", func(d *models.SubmissionEventData) { d.AssessmentID = "" }},
		{"missing student id", func(d *models.SubmissionEventData) { d.StudentID = "" }},
		{"unknown status", func(d *models.SubmissionEventData) { d.Status = "PENDING" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := valid
			tt.mutate(&data)
			assert.Error(t, data.Validate())
		})
	}
}

func TestGradingEventDataValidate(t *testing.T) {
	valid := models.GradingEventData{
		SubmissionID:  "sub-1",
		StudentID:     "stu-1",
		GradingStatus: models.GradingSuccess,
	}
	assert.NoError(t, valid.Validate())

	invalid := valid
	invalid.GradingStatus = "DONE"
	assert.Error(t, invalid.Validate())

	invalid = valid
	invalid.SubmissionID = ""
	assert.Error(t, invalid.Validate())
}

func TestQuestionTypeAutoGradable(t *testing.T) {
	assert.True(t, models.QuestionSingleSelect.AutoGradable())
	assert.True(t, models.QuestionMultiSelect.AutoGradable())
	assert.True(t, models.QuestionTrueFalse.AutoGradable())
	assert.False(t, models.QuestionFreeText.AutoGradable())
	assert.False(t, models.QuestionFileUpload.AutoGradable())
}

func TestGradingConfigDefaults(t *testing.T) {
	var cfg models.GradingConfig

	assert.True(t, cfg.PartialCreditAllowed())
	assert.Equal(t, models.ScoringStandard, cfg.ScoringType())
	assert.Zero(t, cfg.Penalty())
	assert.True(t, cfg.FeedbackEnabled())
}
