package submissions

import (
	"fmt"
	"strings"

	"feedback-backend/internal/mail"
	"feedback-backend/internal/tenants"
)

// composeEmail renders the notification sent to the tenant once a
// submission has transcript, summary and sentiment.
func composeEmail(tenant tenants.Tenant, sub Submission) mail.Message {
	var body strings.Builder
	if sub.CallerName != "" {
		body.WriteString("Name: " + sub.CallerName + "\n")
	}
	body.WriteString("Sentiment: " + sub.Sentiment + "\n\n")
	body.WriteString("Summary:\n" + sub.Summary + "\n\n")
	body.WriteString("Text:\n" + sub.Transcript)

	return mail.Message{
		To:       tenant.NotifyEmail,
		Subject:  fmt.Sprintf("New feedback for company %s", tenant.Name),
		TextBody: body.String(),
	}
}
