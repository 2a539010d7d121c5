package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/grading-pipeline/internal/broker"
	"github.com/gradeflow/grading-pipeline/internal/events"
	"github.com/gradeflow/grading-pipeline/internal/models"
)

type stubNotificationService struct {
	err   error
	calls int
}

func (s *stubNotificationService) HandleGradingEvent(ctx context.Context, env *events.Envelope) error {
	s.calls++
	return s.err
}

func gradingBody(t *testing.T, eventType string) []byte {
	t.Helper()
	env, err := events.New("grading-service", eventType, models.GradingEventData{
		SubmissionID:  "sub-1",
		StudentID:     "stu-1",
		GradingStatus: models.GradingSuccess,
	}, events.Metadata{CorrelationID: "corr-1"})
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func newNotificationWorkerUnderTest(t *testing.T, svc *stubNotificationService, pub *recordingPublisher) *notificationWorker {
	t.Helper()
	dispatcher := broker.NewDispatcher(pub, broker.RetryPolicy{MaxAttempts: 3}, zerolog.Nop())
	w := NewNotificationWorker(NewWorkerPool(1, zerolog.Nop()), stubConsumer{}, dispatcher, svc, nil, 0, zerolog.Nop())
	return w.(*notificationWorker)
}

// Unlike the grading consumer, a notification message that fails to decode
// still gets its full retry budget before the DLQ.
func TestNotificationWorkerHandleMalformedJSON(t *testing.T) {
	svc := &stubNotificationService{}
	w := newNotificationWorkerUnderTest(t, svc, &recordingPublisher{})

	disposition := w.handle(context.Background(), broker.Message{Body: []byte("{not json")})

	assert.Equal(t, broker.Retry, disposition)
	assert.Equal(t, 1, w.GetStats().ParseErrors)
	assert.Zero(t, svc.calls)
}

func TestNotificationWorkerHandleUnexpectedEventType(t *testing.T) {
	svc := &stubNotificationService{}
	w := newNotificationWorkerUnderTest(t, svc, &recordingPublisher{})

	disposition := w.handle(context.Background(), broker.Message{
		Body: gradingBody(t, events.TypeSubmissionSubmitted),
	})

	assert.Equal(t, broker.Ack, disposition)
	assert.Zero(t, svc.calls)
}

func TestNotificationWorkerHandleSchemaFailure(t *testing.T) {
	svc := &stubNotificationService{err: &events.SchemaError{Reason: "invalid grading event payload"}}
	w := newNotificationWorkerUnderTest(t, svc, &recordingPublisher{})

	disposition := w.handle(context.Background(), broker.Message{
		Body: gradingBody(t, events.TypeGradingCompleted),
	})

	assert.Equal(t, broker.Retry, disposition)
	assert.Equal(t, 1, w.GetStats().Failed)
	assert.Equal(t, 1, w.GetStats().ParseErrors)
}

func TestNotificationWorkerHandleTransientFailure(t *testing.T) {
	svc := &stubNotificationService{err: errors.New("smtp timeout")}
	w := newNotificationWorkerUnderTest(t, svc, &recordingPublisher{})

	disposition := w.handle(context.Background(), broker.Message{
		Body: gradingBody(t, events.TypeGradingFailed),
	})

	assert.Equal(t, broker.Retry, disposition)
	assert.Equal(t, 1, w.GetStats().Failed)
	assert.Zero(t, w.GetStats().ParseErrors)
}

func TestNotificationWorkerHandleSuccess(t *testing.T) {
	svc := &stubNotificationService{}
	w := newNotificationWorkerUnderTest(t, svc, &recordingPublisher{})

	disposition := w.handle(context.Background(), broker.Message{
		Body: gradingBody(t, events.TypeGradingCompleted),
	})

	assert.Equal(t, broker.Ack, disposition)
	assert.Equal(t, 1, w.GetStats().EmailsSent)
	assert.Equal(t, 1, svc.calls)
}

// A malformed message dispatched through the retry engine is re-published
// with attempt bookkeeping rather than dead-lettered on first sight.
func TestNotificationWorkerDispatchMalformedRetries(t *testing.T) {
	svc := &stubNotificationService{}
	pub := &recordingPublisher{}
	w := newNotificationWorkerUnderTest(t, svc, pub)

	acked := false
	msg := broker.Message{
		Body:       []byte("{not json"),
		Exchange:   broker.ExchangeGrading,
		RoutingKey: events.TypeGradingCompleted,
		Ack: func(multiple bool) error {
			acked = true
			return nil
		},
		Nack: func(multiple, requeue bool) error { return nil },
	}

	w.dispatcher.Dispatch(context.Background(), msg, w.handle)

	require.Len(t, pub.raw, 1)
	assert.Equal(t, int32(1), pub.raw[0][broker.AttemptsHeader])
	assert.True(t, acked, "original delivery acked after re-publish")
	assert.Equal(t, 1, w.GetStats().Retried)
	assert.Zero(t, w.GetStats().DeadLettered)
}
