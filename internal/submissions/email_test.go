package submissions

import (
	"testing"

	"feedback-backend/internal/tenants"
)

func TestComposeEmail(t *testing.T) {
	tenant := tenants.Tenant{Name: "Acme", Slug: "acme", NotifyEmail: "feedback@acme.test"}
	sub := Submission{
		CallerName: "Dana",
		Sentiment:  "negative",
		Summary:    "Customer unhappy with response time.",
		Transcript: "The service is too slow.",
	}

	msg := composeEmail(tenant, sub)
	if msg.To != "feedback@acme.test" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "New feedback for company Acme" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}

	want := "Name: Dana\n" +
		"Sentiment: negative\n\n" +
		"Summary:\nCustomer unhappy with response time.\n\n" +
		"Text:\nThe service is too slow."
	if msg.TextBody != want {
		t.Fatalf("unexpected body:\n%q\nwant:\n%q", msg.TextBody, want)
	}
}

func TestComposeEmailOmitsMissingName(t *testing.T) {
	tenant := tenants.Tenant{Name: "Acme", NotifyEmail: "feedback@acme.test"}
	sub := Submission{
		Sentiment:  "neutral",
		Summary:    "Routine update.",
		Transcript: "Nothing to report.",
	}

	msg := composeEmail(tenant, sub)
	want := "Sentiment: neutral\n\n" +
		"Summary:\nRoutine update.\n\n" +
		"Text:\nNothing to report."
	if msg.TextBody != want {
		t.Fatalf("unexpected body:\n%q", msg.TextBody)
	}
}
