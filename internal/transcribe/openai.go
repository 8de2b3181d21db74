package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"feedback-backend/internal/provider"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI implements Transcriber using the OpenAI audio transcriptions API.
type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI constructs an OpenAI transcription client. baseURL is
// overridable for tests; empty means the public API.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("TRANSCRIBE_MODEL is required for OpenAI")
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

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAI) Transcribe(ctx context.Context, input Input) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName(input)))
	header.Set("Content-Type", contentType(input))
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}
	if _, err := part.Write(input.Audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Correlation-Id", input.SubmissionID)
	req.Header.Set("X-Tenant-Slug", input.TenantSlug)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", transcriptionStatusError(resp.StatusCode, body)
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", provider.Permanent(provider.CodeInvalidRequest,
			fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type))
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", provider.Permanent(provider.CodeEmptyResult, fmt.Errorf("openai returned empty transcript"))
	}
	return text, nil
}

func transcriptionStatusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return provider.FromHTTPStatus(status, fmt.Errorf("openai transcribe http status %d: %s", status, detail))
}

func fileName(input Input) string {
	if strings.TrimSpace(input.FileName) != "" {
		return input.FileName
	}
	return "audio"
}

func contentType(input Input) string {
	if strings.TrimSpace(input.MimeType) != "" {
		return input.MimeType
	}
	return "application/octet-stream"
}

var _ Transcriber = (*OpenAI)(nil)
