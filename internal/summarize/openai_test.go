package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"feedback-backend/internal/provider"
)

func TestOpenAISummarizeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Correlation-Id"); got != "sub-1" {
			t.Errorf("X-Correlation-Id = %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %q", req.ResponseFormat.Type)
		}
		if len(req.Messages) != 2 || req.Messages[1].Role != "user" {
			t.Fatalf("unexpected messages: %+v", req.Messages)
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"role":    "assistant",
					"content": `{"summary": "Customer reports billing bug.", "sentiment": "Negative"}`,
				}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewOpenAI("test-key", "gpt-4o-mini", srv.URL)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	got, err := client.Summarize(context.Background(), Input{
		SubmissionID: "sub-1",
		TenantSlug:   "acme-support",
		Transcript:   "the billing page crashes when I open it",
	})
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if got.Summary != "Customer reports billing bug." {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Sentiment != SentimentNegative {
		t.Errorf("sentiment = %q, want %q", got.Sentiment, SentimentNegative)
	}
}

func TestOpenAISummarizeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewOpenAI("test-key", "gpt-4o-mini", srv.URL)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	_, err = client.Summarize(context.Background(), Input{Transcript: "hi"})
	var provErr *provider.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider.Error, got %v", err)
	}
	if provErr.Kind != provider.KindTransient {
		t.Errorf("kind = %v, want transient", provErr.Kind)
	}
	if provErr.Code != provider.CodeUnavailable {
		t.Errorf("code = %q, want %q", provErr.Code, provider.CodeUnavailable)
	}
}

func TestOpenAISummarizeEmptySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"summary": "  ", "sentiment": "neutral"}`}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewOpenAI("test-key", "gpt-4o-mini", srv.URL)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	_, err = client.Summarize(context.Background(), Input{Transcript: "hi"})
	var provErr *provider.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider.Error, got %v", err)
	}
	if provErr.Kind != provider.KindPermanent || provErr.Code != provider.CodeEmptyResult {
		t.Errorf("got kind=%v code=%q, want permanent %q", provErr.Kind, provErr.Code, provider.CodeEmptyResult)
	}
}

func TestOpenAIConstructorValidation(t *testing.T) {
	if _, err := NewOpenAI("", "gpt-4o-mini", ""); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewOpenAI("key", "", ""); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestParseSummaryJSONStripsFences(t *testing.T) {
	content := "```json\n{\"summary\": \"All good.\", \"sentiment\": \"positive\"}\n```"
	got, err := parseSummaryJSON(content)
	if err != nil {
		t.Fatalf("parseSummaryJSON: %v", err)
	}
	if got.Summary != "All good." {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Sentiment != SentimentPositive {
		t.Errorf("sentiment = %q", got.Sentiment)
	}
}

func TestParseSummaryJSONRejectsGarbage(t *testing.T) {
	_, err := parseSummaryJSON("this is not json")
	var provErr *provider.Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider.Error, got %v", err)
	}
	if provErr.Kind != provider.KindPermanent {
		t.Errorf("kind = %v, want permanent", provErr.Kind)
	}
}

func TestNormalizeSentiment(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"positive", SentimentPositive},
		{"Positive", SentimentPositive},
		{" NEGATIVE ", SentimentNegative},
		{"neutral", SentimentNeutral},
		{"mixed", SentimentNeutral},
		{"", SentimentNeutral},
	}
	for _, tc := range cases {
		if got := NormalizeSentiment(tc.raw); got != tc.want {
			t.Errorf("NormalizeSentiment(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
