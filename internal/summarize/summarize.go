package summarize

import (
	"context"
	"strings"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Input carries one transcript to the summarization provider.
type Input struct {
	SubmissionID string
	TenantSlug   string
	Transcript   string
}

// Result is the normalized summary plus overall sentiment.
type Result struct {
	Summary   string
	Sentiment string
}

// Summarizer condenses a transcript into a short summary and classifies
// its sentiment. Implementations never retry and never sleep; the caller
// bounds each call with a context deadline and owns the retry policy.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (Result, error)
}

// NormalizeSentiment maps arbitrary provider output onto the three
// supported values, defaulting to neutral.
func NormalizeSentiment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
