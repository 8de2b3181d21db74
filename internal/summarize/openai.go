package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"feedback-backend/internal/provider"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

const openAISystemPrompt = `You summarize voice feedback left by customers.
Given a raw transcript, produce a cleaned-up summary that keeps every
concrete complaint, praise and request, and classify the overall sentiment.
Respond with a JSON object: {"summary": "...", "sentiment": "positive|neutral|negative"}.`

// OpenAI implements Summarizer using the OpenAI chat completions API in
// JSON mode.
type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI constructs an OpenAI summarization client. baseURL is
// overridable for tests; empty means the public API.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("SUMMARIZE_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type summaryPayload struct {
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment"`
}

func (c *OpenAI) Summarize(ctx context.Context, input Input) (Result, error) {
	temp := float32(0)
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: openAISystemPrompt},
			{Role: "user", Content: userPrompt(input)},
		},
		Temperature:    &temp,
		ResponseFormat: responseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", input.SubmissionID)
	req.Header.Set("X-Tenant-Slug", input.TenantSlug)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("openai summarize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return Result{}, provider.FromHTTPStatus(resp.StatusCode,
			fmt.Errorf("openai summarize http status %d: %s", resp.StatusCode, detail))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return Result{}, provider.Permanent(provider.CodeInvalidRequest,
			fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return Result{}, provider.Permanent(provider.CodeEmptyResult, fmt.Errorf("openai response missing choices"))
	}

	return parseSummaryJSON(parsed.Choices[0].Message.Content)
}

func userPrompt(input Input) string {
	return fmt.Sprintf("Transcript (submission %s, tenant %s):\n---\n%s\n---", input.SubmissionID, input.TenantSlug, input.Transcript)
}

// parseSummaryJSON decodes the provider's JSON content, tolerating
// markdown code fences some models wrap around their output.
func parseSummaryJSON(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload summaryPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{}, provider.Permanent(provider.CodeInvalidRequest,
			fmt.Errorf("summary payload parse: %w", err))
	}

	summary := strings.TrimSpace(payload.Summary)
	if summary == "" {
		return Result{}, provider.Permanent(provider.CodeEmptyResult, fmt.Errorf("provider returned empty summary"))
	}
	return Result{
		Summary:   summary,
		Sentiment: NormalizeSentiment(payload.Sentiment),
	}, nil
}

var _ Summarizer = (*OpenAI)(nil)
