package submissions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"feedback-backend/internal/mail"
	"feedback-backend/internal/provider"
	"feedback-backend/internal/summarize"
	"feedback-backend/internal/tenants"
	"feedback-backend/internal/transcribe"
)

type stubStore struct {
	objects map[string][]byte
	openErr error
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) Save(ctx context.Context, namespace, fileName string, r io.Reader) (string, int64, string, error) {
	_ = ctx
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := namespace + "/" + fileName
	s.objects[key] = data
	return key, int64(len(data)), http.DetectContentType(data), nil
}

func (s *stubStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	_ = ctx
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.objects[storageKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", storageKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type stubTranscriber struct {
	calls  int
	errs   []error
	text   string
	onCall func()
}

func (s *stubTranscriber) Transcribe(ctx context.Context, input transcribe.Input) (string, error) {
	_ = ctx
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return s.text, nil
}

type stubSummarizer struct {
	calls  int
	errs   []error
	res    summarize.Result
	onCall func()
}

func (s *stubSummarizer) Summarize(ctx context.Context, input summarize.Input) (summarize.Result, error) {
	_ = ctx
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return summarize.Result{}, err
		}
	}
	return s.res, nil
}

type stubSender struct {
	sent []mail.Message
	err  error
}

func (s *stubSender) Send(ctx context.Context, msg mail.Message) error {
	_ = ctx
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type stubTenantSource struct {
	byslug map[string]tenants.Tenant
}

func (s *stubTenantSource) Resolve(ctx context.Context, slug string) (tenants.Tenant, error) {
	_ = ctx
	tenant, ok := s.byslug[slug]
	if !ok {
		return tenants.Tenant{}, tenants.ErrNotFound
	}
	return tenant, nil
}

type pipelineFixture struct {
	repo        *MemoryRepo
	store       *stubStore
	transcriber *stubTranscriber
	summarizer  *stubSummarizer
	sender      *stubSender
	pipeline    *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		repo:        NewMemoryRepo(),
		store:       newStubStore(),
		transcriber: &stubTranscriber{text: "The service is too slow."},
		summarizer: &stubSummarizer{res: summarize.Result{
			Summary:   "Customer unhappy with response time.",
			Sentiment: summarize.SentimentNegative,
		}},
		sender: &stubSender{},
	}
	f.pipeline = &Pipeline{
		Repo:    f.repo,
		Tenants: &stubTenantSource{byslug: map[string]tenants.Tenant{"acme": {ID: "t-1", Name: "Acme", Slug: "acme", NotifyEmail: "feedback@acme.test", Active: true}}},
		Store:   f.store,

		Transcriber: f.transcriber,
		Summarizer:  f.summarizer,
		Sender:      f.sender,

		Classifier:        provider.NewClassifier(),
		LeaseSeconds:      60,
		TranscribeTimeout: time.Second,
		SummarizeTimeout:  time.Second,
		DeliverTimeout:    time.Second,
	}
	return f
}

func (f *pipelineFixture) seed(t *testing.T, audio []byte) Submission {
	t.Helper()
	key := "acme/clip.webm"
	f.store.objects[key] = audio
	sub := Submission{
		ID:         "sub-1",
		TenantSlug: "acme",
		AudioKey:   key,
		AudioMime:  "audio/webm",
		AudioBytes: int64(len(audio)),
		Status:     StatusReceived,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.repo.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return sub
}

func (f *pipelineFixture) mustGet(t *testing.T, id string) Submission {
	t.Helper()
	sub, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	return sub
}

func countAttempts(t *testing.T, repo *MemoryRepo, id, stage, outcome string) int {
	t.Helper()
	attempts, err := repo.ListStageAttempts(context.Background(), id)
	if err != nil {
		t.Fatalf("list stage attempts: %v", err)
	}
	n := 0
	for _, a := range attempts {
		if a.Stage == stage && a.Outcome == outcome {
			n++
		}
	}
	return n
}

func TestProcessHappyPath(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %q", got.Status)
	}
	if got.Transcript != "The service is too slow." {
		t.Fatalf("unexpected transcript %q", got.Transcript)
	}
	if got.Summary != "Customer unhappy with response time." {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
	if got.Sentiment != summarize.SentimentNegative {
		t.Fatalf("unexpected sentiment %q", got.Sentiment)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("expected started/completed timestamps set")
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.To != "feedback@acme.test" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "New feedback for company Acme" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.TextBody, "Summary:\nCustomer unhappy with response time.") {
		t.Fatalf("summary missing from body:\n%s", msg.TextBody)
	}
	if !strings.Contains(msg.TextBody, "Text:\nThe service is too slow.") {
		t.Fatalf("transcript missing from body:\n%s", msg.TextBody)
	}

	for _, stage := range []string{StageTranscribing, StageSummarizing, StageDelivering} {
		if n := countAttempts(t, f.repo, sub.ID, stage, OutcomeSuccess); n != 1 {
			t.Fatalf("expected one success attempt for %s, got %d", stage, n)
		}
	}
	if n := countAttempts(t, f.repo, sub.ID, StageReceived, OutcomeSuccess); n != 0 {
		t.Fatalf("expected no audit record for the received stage, got %d", n)
	}
}

func TestProcessTransientTimeoutsThenSuccess(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.transcriber.errs = []error{
		provider.Transient(provider.CodeTimeout, context.DeadlineExceeded),
		provider.Transient(provider.CodeTimeout, context.DeadlineExceeded),
	}

	for attempt := 1; attempt <= 2; attempt++ {
		err := f.pipeline.Process(context.Background(), sub.ID)
		var serr *StageError
		if !errors.As(err, &serr) {
			t.Fatalf("attempt %d: expected StageError, got %v", attempt, err)
		}
		if !serr.Retryable || serr.Stage != StageTranscribing {
			t.Fatalf("attempt %d: unexpected stage error %+v", attempt, serr)
		}
		if serr.Attempt != attempt {
			t.Fatalf("expected attempt %d, got %d", attempt, serr.Attempt)
		}

		got := f.mustGet(t, sub.ID)
		if got.Status != StatusFailed || !got.ErrorRetryable || got.FailedStage != StageTranscribing {
			t.Fatalf("attempt %d: unexpected state %+v", attempt, got)
		}
		if got.ErrorCode != provider.CodeTimeout {
			t.Fatalf("attempt %d: unexpected error code %q", attempt, got.ErrorCode)
		}
	}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("final attempt: %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %q", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Fatalf("expected attempt count 3, got %d", got.AttemptCount)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(f.sender.sent))
	}

	if n := countAttempts(t, f.repo, sub.ID, StageTranscribing, OutcomeTransientFailure); n != 2 {
		t.Fatalf("expected 2 transient failures for transcribing, got %d", n)
	}
	if n := countAttempts(t, f.repo, sub.ID, StageTranscribing, OutcomeSuccess); n != 1 {
		t.Fatalf("expected 1 success for transcribing, got %d", n)
	}
	if n := countAttempts(t, f.repo, sub.ID, StageSummarizing, OutcomeSuccess); n != 1 {
		t.Fatalf("expected 1 attempt for summarizing, got %d", n)
	}
	if n := countAttempts(t, f.repo, sub.ID, StageDelivering, OutcomeSuccess); n != 1 {
		t.Fatalf("expected 1 attempt for delivering, got %d", n)
	}
}

func TestProcessEmptyAudioFailsPermanently(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte{})

	err := f.pipeline.Process(context.Background(), sub.ID)
	var serr *StageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if serr.Stage != StageReceived || serr.Retryable {
		t.Fatalf("unexpected stage error %+v", serr)
	}
	if serr.Code != ErrorCodeEmptyAudio {
		t.Fatalf("unexpected code %q", serr.Code)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusFailed || got.FailedStage != StageReceived || got.ErrorRetryable {
		t.Fatalf("unexpected state %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected permanent failure to set completedAt")
	}
	if f.transcriber.calls != 0 || f.summarizer.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatalf("expected no adapter calls for empty audio")
	}
	if n := countAttempts(t, f.repo, sub.ID, StageReceived, OutcomePermanentFailure); n != 1 {
		t.Fatalf("expected one permanent failure record for received, got %d", n)
	}
}

func TestProcessStorageErrorIsTransient(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.store.openErr = errors.New("connection reset by peer")

	err := f.pipeline.Process(context.Background(), sub.ID)
	var serr *StageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if !serr.Retryable || serr.Code != provider.CodeStorage {
		t.Fatalf("unexpected stage error %+v", serr)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusFailed || !got.ErrorRetryable {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestProcessResumeDoesNotRepeatFinishedStages(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.summarizer.errs = []error{provider.Transient(provider.CodeUnavailable, errors.New("http status 503"))}

	err := f.pipeline.Process(context.Background(), sub.ID)
	var serr *StageError
	if !errors.As(err, &serr) || serr.Stage != StageSummarizing {
		t.Fatalf("expected summarizing failure, got %v", err)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("expected one transcriber call, got %d", f.transcriber.calls)
	}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %q", got.Status)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("resume must not re-transcribe, transcriber called %d times", f.transcriber.calls)
	}
	if f.summarizer.calls != 2 {
		t.Fatalf("expected two summarizer calls, got %d", f.summarizer.calls)
	}
}

func TestProcessDeliveredIsNoOp(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Redelivered queue message for a finished submission.
	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected exactly one email after redelivery, got %d", len(f.sender.sent))
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("expected no extra transcriber calls, got %d", f.transcriber.calls)
	}
}

func TestProcessCancelledIsNoOp(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	if err := f.repo.MarkCancelled(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.transcriber.calls != 0 || len(f.sender.sent) != 0 {
		t.Fatalf("expected no work for a cancelled submission")
	}
}

func TestProcessConcurrentCancelStopsDelivery(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.summarizer.onCall = func() {
		// Admin cancels while the summarizer call is in flight.
		if err := f.repo.MarkCancelled(context.Background(), sub.ID); err != nil {
			t.Errorf("cancel during summarize: %v", err)
		}
	}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", got.Status)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected no email after cancellation, got %d", len(f.sender.sent))
	}
}

func TestProcessTenantDeactivatedAtDeliveryCancels(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.pipeline.Tenants = &stubTenantSource{byslug: map[string]tenants.Tenant{}}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", got.Status)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected no email for a deactivated tenant")
	}
}

func TestProcessAlreadyClaimedReturnsSentinel(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	if _, err := f.repo.Claim(context.Background(), sub.ID, 300); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := f.pipeline.Process(context.Background(), sub.ID)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if f.transcriber.calls != 0 {
		t.Fatalf("expected no transcriber calls while lease is held")
	}
}

func TestProcessExpiredLeaseIsReclaimable(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	if _, err := f.repo.Claim(context.Background(), sub.ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("Process after lease expiry: %v", err)
	}
	got := f.mustGet(t, sub.ID)
	if got.Status != StatusDelivered {
		t.Fatalf("expected delivered after reclaim, got %q", got.Status)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2 after reclaim, got %d", got.AttemptCount)
	}
}

func TestProcessDeliveryFailureKeepsEmailUnsent(t *testing.T) {
	f := newPipelineFixture()
	sub := f.seed(t, []byte("fake-webm-bytes"))
	f.sender.err = provider.Transient(provider.CodeUnavailable, errors.New("smtp connect refused"))

	err := f.pipeline.Process(context.Background(), sub.ID)
	var serr *StageError
	if !errors.As(err, &serr) || serr.Stage != StageDelivering {
		t.Fatalf("expected delivering failure, got %v", err)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusFailed || got.FailedStage != StageDelivering || !got.ErrorRetryable {
		t.Fatalf("unexpected state %+v", got)
	}
	// Transcript and summary survive for the retry.
	if got.Transcript == "" || got.Summary == "" {
		t.Fatalf("expected transcript and summary kept, got %+v", got)
	}

	f.sender.err = nil
	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one email after retry, got %d", len(f.sender.sent))
	}
	if f.summarizer.calls != 1 {
		t.Fatalf("retry must not re-summarize, got %d calls", f.summarizer.calls)
	}
}

func TestProcessShutdownMidCallLeavesRowResumable(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.LeaseSeconds = 0
	sub := f.seed(t, []byte("fake-webm-bytes"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.transcriber.onCall = cancel
	f.transcriber.errs = []error{fmt.Errorf("post transcription: %w", context.Canceled)}

	err := f.pipeline.Process(ctx, sub.ID)
	if err == nil {
		t.Fatalf("expected an error for the interrupted call")
	}
	var serr *StageError
	if errors.As(err, &serr) {
		t.Fatalf("expected a plain error, got stage error %+v", serr)
	}

	got := f.mustGet(t, sub.ID)
	if got.Status != StatusTranscribing {
		t.Fatalf("expected row left at transcribing for redelivery, got %q", got.Status)
	}
	if got.ErrorCode != "" || got.CompletedAt != nil {
		t.Fatalf("expected no failure recorded, got code=%q completedAt=%v", got.ErrorCode, got.CompletedAt)
	}
	if n := countAttempts(t, f.repo, sub.ID, StageTranscribing, OutcomeTransientFailure); n != 0 {
		t.Fatalf("expected no attempt rows for the interrupted call, got %d", n)
	}

	// The redelivered job picks the stage back up on a live worker.
	if err := f.pipeline.Process(context.Background(), sub.ID); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if got := f.mustGet(t, sub.ID); got.Status != StatusDelivered {
		t.Fatalf("expected delivered after resume, got %q", got.Status)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(f.sender.sent))
	}
}
