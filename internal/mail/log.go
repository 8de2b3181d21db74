package mail

import (
	"context"

	"feedback-backend/internal/shared/telemetry"
)

// LogSender writes messages to the log instead of delivering them. Used in
// dev environments where no mail transport is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	telemetry.Info("email.logged", map[string]any{
		"to":         msg.To,
		"subject":    msg.Subject,
		"body_bytes": len(msg.TextBody),
	})
	return nil
}

var _ Sender = LogSender{}
