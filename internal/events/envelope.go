package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope this service emits.
const SchemaVersion = "1.0"

// Event types double as routing keys on the topic exchanges.
const (
	TypeSubmissionSubmitted = "submission.submitted"
	TypeGradingCompleted    = "grading.completed"
	TypeGradingFailed       = "grading.failed"
	TypeNotificationCreated = "notification.created"
)

// Metadata threads workflow identity across a causal chain of events.
// CorrelationID stays stable from submit through grade to notify;
// CausationID is the id of the event that caused this one.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
}

type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	ServiceID string          `json:"service_id"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

// Envelope is the canonical wire format for every event on the broker.
// EventID is unique per emission; a re-published retry keeps its payload
// but retry bookkeeping lives in the x-attempts header, not here.
type Envelope struct {
	Event       Event     `json:"event"`
	Metadata    Metadata  `json:"metadata"`
	PublishedAt time.Time `json:"published_at"`
	RetryCount  int       `json:"retry_count"`
}

// New builds an envelope around the given payload. A missing correlation id
// is replaced with a fresh one so every event is traceable even when the
// caller supplies no metadata at all.
func New(serviceID, eventType string, data interface{}, meta Metadata) (*Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	if meta.CorrelationID == "" {
		meta.CorrelationID = uuid.New().String()
	}

	return &Envelope{
		Event: Event{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
			ServiceID: serviceID,
			Version:   SchemaVersion,
			Data:      body,
		},
		Metadata: meta,
	}, nil
}

// Decode parses an envelope off the wire and checks its structural shape.
// Failures are SchemaErrors: they will never succeed on redelivery.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &SchemaError{Reason: "invalid envelope JSON", Err: err}
	}

	if env.Event.EventID == "" {
		return nil, &SchemaError{Reason: "missing event_id"}
	}
	if env.Event.EventType == "" {
		return nil, &SchemaError{Reason: "missing event_type"}
	}

	return &env, nil
}

// DecodeData unmarshals the variant payload into the struct matching the
// envelope's event type.
func (e *Envelope) DecodeData(dst interface{}) error {
	if len(e.Event.Data) == 0 {
		return &SchemaError{Reason: "empty event data"}
	}
	if err := json.Unmarshal(e.Event.Data, dst); err != nil {
		return &SchemaError{Reason: fmt.Sprintf("invalid %s payload", e.Event.EventType), Err: err}
	}
	return nil
}

// ChildMetadata derives metadata for an event caused by this one: same
// correlation id, causation pointing back at this envelope's event.
func (e *Envelope) ChildMetadata() Metadata {
	return Metadata{
		CorrelationID: e.Metadata.CorrelationID,
		CausationID:   e.Event.EventID,
		UserID:        e.Metadata.UserID,
		TraceID:       e.Metadata.TraceID,
	}
}
