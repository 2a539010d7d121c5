// Package grader scores a single question deterministically. It performs no
// I/O, holds no state and is safe to call from any number of goroutines.
package grader

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gradeflow/grading-pipeline/internal/models"
)

// Grade computes the result for one question given the raw student answer
// and the assessment's grading configuration.
func Grade(q models.Question, studentAnswer interface{}, cfg models.GradingConfig) models.QuestionGradeResult {
	result := models.QuestionGradeResult{
		QuestionID:    q.ID,
		MaxPoints:     q.Points,
		StudentAnswer: studentAnswer,
		CorrectAnswer: q.CorrectAnswer,
	}

	switch q.Type {
	case models.QuestionSingleSelect:
		gradeSingleSelect(&result, q, studentAnswer, cfg)
	case models.QuestionMultiSelect:
		gradeMultiSelect(&result, q, studentAnswer, cfg)
	case models.QuestionTrueFalse:
		gradeTrueFalse(&result, q, studentAnswer, cfg)
	default:
		// free_text and file_upload are never auto-graded.
		result.PointsEarned = 0
		result.IsCorrect = nil
		if cfg.FeedbackEnabled() {
			result.Feedback = strPtr("This question requires manual review.")
		}
		return result
	}

	clamp(&result)
	attachFeedback(&result, q, cfg)
	return result
}

func gradeSingleSelect(result *models.QuestionGradeResult, q models.Question, answer interface{}, cfg models.GradingConfig) {
	if normalizeText(answer) == normalizeText(q.CorrectAnswer) {
		result.PointsEarned = q.Points
		result.IsCorrect = boolPtr(true)
		return
	}

	result.IsCorrect = boolPtr(false)
	result.PointsEarned = wrongAnswerPoints(cfg)
}

func gradeTrueFalse(result *models.QuestionGradeResult, q models.Question, answer interface{}, cfg models.GradingConfig) {
	if normalizeBool(answer) == normalizeBool(q.CorrectAnswer) {
		result.PointsEarned = q.Points
		result.IsCorrect = boolPtr(true)
		return
	}

	result.IsCorrect = boolPtr(false)
	result.PointsEarned = wrongAnswerPoints(cfg)
}

func gradeMultiSelect(result *models.QuestionGradeResult, q models.Question, answer interface{}, cfg models.GradingConfig) {
	correct := normalizeSet(q.CorrectAnswer)
	selected := normalizeSet(answer)

	if setsEqual(correct, selected) {
		result.PointsEarned = q.Points
		result.IsCorrect = boolPtr(true)
		return
	}

	if !cfg.PartialCreditAllowed() || cfg.ScoringType() != models.ScoringPartialCredit {
		result.IsCorrect = boolPtr(false)
		result.PointsEarned = wrongAnswerPoints(cfg)
		return
	}

	totalCorrect := len(correct)
	if totalCorrect == 0 {
		result.IsCorrect = boolPtr(false)
		result.PointsEarned = 0
		return
	}

	intersection := 0
	for option := range selected {
		if _, ok := correct[option]; ok {
			intersection++
		}
	}

	// TODO: confirm with product whether over-selected wrong options should
	// subtract from the numerator; today only correct selections count.
	earned := float64(intersection) / float64(totalCorrect) * q.Points
	result.PointsEarned = math.Max(0, earned)

	switch {
	case result.PointsEarned == q.Points:
		result.IsCorrect = boolPtr(true)
	case result.PointsEarned > 0:
		result.IsCorrect = nil
	default:
		result.IsCorrect = boolPtr(false)
	}
}

// wrongAnswerPoints applies negative marking with a per-question floor of
// zero; the penalty reduces a running total only by denying points.
func wrongAnswerPoints(cfg models.GradingConfig) float64 {
	if cfg.ScoringType() == models.ScoringNegativeMarking {
		return math.Max(0, -cfg.Penalty())
	}
	return 0
}

func clamp(result *models.QuestionGradeResult) {
	if result.PointsEarned < 0 {
		result.PointsEarned = 0
	}
	if result.PointsEarned > result.MaxPoints {
		result.PointsEarned = result.MaxPoints
	}
}

func attachFeedback(result *models.QuestionGradeResult, q models.Question, cfg models.GradingConfig) {
	if !cfg.FeedbackEnabled() {
		result.Feedback = nil
		return
	}

	switch {
	case result.IsCorrect != nil && *result.IsCorrect:
		result.Feedback = strPtr("Correct.")
	case result.IsCorrect == nil:
		result.Feedback = strPtr("Partially correct.")
	default:
		msg := "Incorrect."
		if cfg.ShowCorrectAnswers {
			msg = fmt.Sprintf("Incorrect. The correct answer is %v.", q.CorrectAnswer)
		}
		result.Feedback = strPtr(msg)
	}
}

// normalizeText trims and case-folds an answer so that " B " and "b" match.
func normalizeText(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(s))
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}

// normalizeBool coerces the truthy forms true/'true'/'1'/'yes'/1 to true;
// everything else is false.
func normalizeBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case float64:
		return b == 1
	case int:
		return b == 1
	default:
		return false
	}
}

// normalizeSet turns a multi-select answer into a set of normalized option
// strings. Accepts []string, []interface{} and a bare single option.
func normalizeSet(v interface{}) map[string]struct{} {
	set := make(map[string]struct{})

	switch items := v.(type) {
	case nil:
		return set
	case []string:
		for _, item := range items {
			if s := normalizeText(item); s != "" {
				set[s] = struct{}{}
			}
		}
	case []interface{}:
		for _, item := range items {
			if s := normalizeText(item); s != "" {
				set[s] = struct{}{}
			}
		}
	default:
		if s := normalizeText(v); s != "" {
			set[s] = struct{}{}
		}
	}

	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
