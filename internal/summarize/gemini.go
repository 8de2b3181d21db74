package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"feedback-backend/internal/provider"
)

const geminiSystemPrompt = `You summarize voice feedback left by customers.
Given a raw transcript, produce a cleaned-up summary that keeps every
concrete complaint, praise and request, and classify the overall sentiment.
Respond with ONLY a JSON object, no markdown: {"summary": "...", "sentiment": "positive|neutral|negative"}.

Transcript (submission %s, tenant %s):
---
%s
---`

// Gemini implements Summarizer using the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a Gemini summarization client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("SUMMARIZE_MODEL is required for Gemini")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (c *Gemini) Summarize(ctx context.Context, input Input) (Result, error) {
	prompt := fmt.Sprintf(geminiSystemPrompt, input.SubmissionID, input.TenantSlug, input.Transcript)

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return Result{}, classifyGeminiError(fmt.Errorf("gemini generate: %w", err))
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return Result{}, provider.Permanent(provider.CodeEmptyResult, fmt.Errorf("gemini returned no candidates"))
	}

	var text string
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, provider.Permanent(provider.CodeEmptyResult, fmt.Errorf("gemini returned empty content"))
	}

	return parseSummaryJSON(text)
}

// classifyGeminiError maps SDK failures onto the shared taxonomy. The SDK
// surfaces HTTP failures as genai.APIError carrying the response status;
// quota errors sometimes arrive as bare strings, so keep a message check
// for those. Anything else falls through to the worker's classifier.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.FromHTTPStatus(apiErr.Code, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return provider.Transient(provider.CodeRateLimited, err)
	}
	return err
}

var _ Summarizer = (*Gemini)(nil)
