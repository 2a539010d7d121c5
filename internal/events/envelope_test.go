package events_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeflow/grading-pipeline/internal/events"
)

type testPayload struct {
	SubmissionID string `json:"submission_id"`
	Score        int    `json:"score"`
}

func TestNewDefaultsCorrelationID(t *testing.T) {
	env, err := events.New("grading-service", events.TypeGradingCompleted, testPayload{}, events.Metadata{})
	require.NoError(t, err)

	assert.NotEmpty(t, env.Metadata.CorrelationID)
	_, err = uuid.Parse(env.Metadata.CorrelationID)
	assert.NoError(t, err)

	_, err = uuid.Parse(env.Event.EventID)
	assert.NoError(t, err)
	assert.Equal(t, events.SchemaVersion, env.Event.Version)
	assert.Equal(t, "grading-service", env.Event.ServiceID)
}

func TestNewPreservesMetadata(t *testing.T) {
	meta := events.Metadata{
		CorrelationID: "corr-1",
		CausationID:   "cause-1",
		UserID:        "user-1",
	}

	env, err := events.New("grading-service", events.TypeGradingFailed, testPayload{}, meta)
	require.NoError(t, err)

	assert.Equal(t, meta, env.Metadata)
}

func TestDecodeRoundTrip(t *testing.T) {
	payload := testPayload{SubmissionID: "sub-1", Score: 42}
	env, err := events.New("grading-service", events.TypeGradingCompleted, payload, events.Metadata{CorrelationID: "corr-1"})
	require.NoError(t, err)

	body, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := events.Decode(body)
	require.NoError(t, err)

	assert.Equal(t, env.Event.EventID, decoded.Event.EventID)
	assert.Equal(t, env.Event.EventType, decoded.Event.EventType)
	assert.Equal(t, env.Metadata.CorrelationID, decoded.Metadata.CorrelationID)

	var got testPayload
	require.NoError(t, decoded.DecodeData(&got))
	assert.Equal(t, payload, got)
}

func TestDecodeSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte("{not json")},
		{"missing event_id", []byte(`{"event":{"event_type":"grading.completed"},"metadata":{}}`)},
		{"missing event_type", []byte(`{"event":{"event_id":"e-1"},"metadata":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := events.Decode(tt.body)
			require.Error(t, err)

			var schemaErr *events.SchemaError
			assert.True(t, errors.As(err, &schemaErr))
		})
	}
}

func TestDecodeDataEmptyPayload(t *testing.T) {
	env := &events.Envelope{
		Event: events.Event{EventID: "e-1", EventType: events.TypeGradingCompleted},
	}

	var got testPayload
	err := env.DecodeData(&got)
	require.Error(t, err)

	var schemaErr *events.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestChildMetadata(t *testing.T) {
	env, err := events.New("grading-service", events.TypeGradingCompleted, testPayload{}, events.Metadata{
		CorrelationID: "corr-1",
		UserID:        "user-1",
		TraceID:       "trace-1",
	})
	require.NoError(t, err)

	child := env.ChildMetadata()

	assert.Equal(t, "corr-1", child.CorrelationID)
	assert.Equal(t, env.Event.EventID, child.CausationID)
	assert.Equal(t, "user-1", child.UserID)
	assert.Equal(t, "trace-1", child.TraceID)
}
