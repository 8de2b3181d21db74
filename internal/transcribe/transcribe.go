package transcribe

import "context"

// Input carries one stored audio clip to the speech-to-text provider.
type Input struct {
	SubmissionID string
	TenantSlug   string
	FileName     string
	MimeType     string
	Audio        []byte
}

// Transcriber converts audio to text. Implementations never retry and
// never sleep; the caller bounds each call with a context deadline and
// owns the retry policy.
type Transcriber interface {
	Transcribe(ctx context.Context, input Input) (string, error)
}
