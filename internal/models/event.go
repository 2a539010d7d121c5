package models

import (
	"fmt"
	"strings"
	"time"
)

type SubmissionStatus string

const (
	SubmissionDraft     SubmissionStatus = "DRAFT"
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionGrading   SubmissionStatus = "GRADING"
	SubmissionGraded    SubmissionStatus = "GRADED"
	SubmissionPublished SubmissionStatus = "PUBLISHED"
	SubmissionArchived  SubmissionStatus = "ARCHIVED"
)

func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionDraft, SubmissionSubmitted, SubmissionGrading,
		SubmissionGraded, SubmissionPublished, SubmissionArchived:
		return true
	default:
		return false
	}
}

// SubmissionEventData is the payload of submission.submitted events.
// Answers maps question id to the raw student answer; when absent the
// orchestrator fetches the submission from the submission service.
type SubmissionEventData struct {
	SubmissionID string                 `json:"submission_id"`
	AssessmentID string                 `json:"assessment_id"`
	StudentID    string                 `json:"student_id"`
	Status       SubmissionStatus       `json:"status"`
	TotalMarks   *float64               `json:"total_marks,omitempty"`
	SubmittedAt  *time.Time             `json:"submitted_at,omitempty"`
	Answers      map[string]interface{} `json:"answers,omitempty"`
}

func (d SubmissionEventData) Validate() error {
	if strings.TrimSpace(d.SubmissionID) == "" {
		return fmt.Errorf("empty submission_id")
	}
	if strings.TrimSpace(d.AssessmentID) == "" {
		return fmt.Errorf("empty assessment_id")
	}
	if strings.TrimSpace(d.StudentID) == "" {
		return fmt.Errorf("empty student_id")
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("unknown submission status %q", d.Status)
	}
	return nil
}

type GradingStatus string

const (
	GradingSuccess GradingStatus = "SUCCESS"
	GradingFailed  GradingStatus = "FAILED"
	GradingPartial GradingStatus = "PARTIAL"
)

// GradingEventData is the payload of grading.completed and grading.failed
// events.
type GradingEventData struct {
	SubmissionID    string        `json:"submission_id"`
	AssessmentID    string        `json:"assessment_id"`
	StudentID       string        `json:"student_id"`
	TotalMarks      float64       `json:"total_marks"`
	CalculatedMarks float64       `json:"calculated_marks"`
	Percentage      float64       `json:"percentage"`
	GradedAt        time.Time     `json:"graded_at"`
	GradingStatus   GradingStatus `json:"grading_status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Retryable       bool          `json:"retryable,omitempty"`
	QuestionsGraded *int          `json:"questions_graded,omitempty"`
	TotalQuestions  *int          `json:"total_questions,omitempty"`
}

func (d GradingEventData) Validate() error {
	if strings.TrimSpace(d.SubmissionID) == "" {
		return fmt.Errorf("empty submission_id")
	}
	if strings.TrimSpace(d.StudentID) == "" {
		return fmt.Errorf("empty student_id")
	}
	switch d.GradingStatus {
	case GradingSuccess, GradingFailed, GradingPartial:
		return nil
	default:
		return fmt.Errorf("unknown grading status %q", d.GradingStatus)
	}
}

// NotificationEventData is emitted after the notifier side effect.
type NotificationEventData struct {
	NotificationID string    `json:"notification_id"`
	SubmissionID   string    `json:"submission_id"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	Channel        string    `json:"channel"`
	CreatedAt      time.Time `json:"created_at"`
}
