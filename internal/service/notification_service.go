package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
	"github.com/gradeflow/grading-pipeline/internal/models"
	"github.com/gradeflow/grading-pipeline/internal/notifier"
	"github.com/gradeflow/grading-pipeline/internal/service/integration"
)

// NotificationService turns grading events into notifier side effects and
// records each delivery as a notification.created event.
type NotificationService interface {
	HandleGradingEvent(ctx context.Context, env *events.Envelope) error
}

type notificationService struct {
	students  integration.StudentClient
	notifier  notifier.Notifier
	publisher broker.Publisher
	serviceID string
	fromName  string
	logger    zerolog.Logger
}

func NewNotificationService(
	students integration.StudentClient,
	n notifier.Notifier,
	publisher broker.Publisher,
	serviceID, fromName string,
	logger zerolog.Logger,
) NotificationService {
	return &notificationService{
		students:  students,
		notifier:  n,
		publisher: publisher,
		serviceID: serviceID,
		fromName:  fromName,
		logger:    logger,
	}
}

func (s *notificationService) HandleGradingEvent(ctx context.Context, env *events.Envelope) error {
	var data models.GradingEventData
	if err := env.DecodeData(&data); err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return &events.SchemaError{Reason: "invalid grading event payload", Err: err}
	}

	student, err := s.students.GetStudent(ctx, data.StudentID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	subject, body := s.compose(env.Event.EventType, student.FullName, data)

	if err := s.notifier.Send(ctx, student.Email, subject, body); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	s.logger.Info().
		Str("submission_id", data.SubmissionID).
		Str("recipient", student.Email).
		Str("event_type", env.Event.EventType).
		Msg("Grading notification delivered")

	s.publishCreated(ctx, env, data, student.Email, subject)
	return nil
}

func (s *notificationService) compose(eventType, studentName string, data models.GradingEventData) (string, string) {
	name := studentName
	if name == "" {
		name = "Student"
	}

	if eventType == events.TypeGradingFailed {
		subject := "We hit a problem grading your submission"
		body := fmt.Sprintf(
			"Hi %s,\n\nAutomatic grading of your submission %s did not complete. "+
				"Our team has been notified and the submission will be graded shortly.\n\n%s",
			name, data.SubmissionID, s.fromName,
		)
		return subject, body
	}

	subject := "Your assessment has been graded"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour submission %s has been graded.\n\n"+
			"Score: %.2f / %.2f (%.1f%%)\n\n%s",
		name, data.SubmissionID, data.CalculatedMarks, data.TotalMarks, data.Percentage, s.fromName,
	)
	return subject, body
}

// publishCreated is best effort: the email already left, a publish failure
// must not fail the delivery.
func (s *notificationService) publishCreated(ctx context.Context, parent *events.Envelope, data models.GradingEventData, recipient, subject string) {
	payload := models.NotificationEventData{
		NotificationID: uuid.New().String(),
		SubmissionID:   data.SubmissionID,
		Recipient:      recipient,
		Subject:        subject,
		Channel:        "email",
		CreatedAt:      time.Now().UTC(),
	}

	env, err := events.New(s.serviceID, events.TypeNotificationCreated, payload, parent.ChildMetadata())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build notification.created event")
		return
	}

	if err := s.publisher.Publish(ctx, broker.ExchangeNotification, events.TypeNotificationCreated, env); err != nil {
		s.logger.Error().Err(err).
			Str("submission_id", data.SubmissionID).
			Msg("Failed to publish notification.created event")
	}
}
