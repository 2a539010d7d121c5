package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier is the opaque delivery collaborator: it takes a (recipient,
// subject, body) tuple and gets it to the student. Actual transport (SMTP
// relay, push gateway) lives outside this repository.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

type logNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a Notifier that records deliveries in the log.
// Used in development and as the default when no relay is configured.
func NewLogNotifier(logger zerolog.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.logger.Info().
		Str("recipient", recipient).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("Notification sent")
	return nil
}
