// Package mail abstracts notification delivery so the pipeline can send
// through SES in production and SMTP against self-hosted relays.
package mail

import "context"

// Message is a plain-text notification email.
type Message struct {
	To       string
	ReplyTo  string
	Subject  string
	TextBody string
}

// Sender delivers a single message. Implementations send exactly once per
// call and never retry internally; the caller owns retry policy and bounds
// each call with a context deadline. Send is not idempotent — duplicate
// suppression happens upstream via the submission status check.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
