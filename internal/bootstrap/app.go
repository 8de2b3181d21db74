package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"feedback-backend/internal/mail"
	"feedback-backend/internal/provider"
	"feedback-backend/internal/queue"
	"feedback-backend/internal/shared/config"
	"feedback-backend/internal/shared/server"
	"feedback-backend/internal/shared/storage/db"
	"feedback-backend/internal/shared/storage/object"
	localstore "feedback-backend/internal/shared/storage/object/local"
	s3store "feedback-backend/internal/shared/storage/object/s3"
	"feedback-backend/internal/submissions"
	"feedback-backend/internal/summarize"
	"feedback-backend/internal/tenants"
	"feedback-backend/internal/transcribe"
)

// App holds shared dependencies for the API and worker processes.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client
	Source queue.Source

	TenantsRepo     tenants.Repo
	SubmissionsRepo submissions.Repo

	TenantsService     *tenants.Service
	SubmissionsService *submissions.Service
	Pipeline           *submissions.Pipeline

	TenantHandler     *tenants.Handler
	SubmissionHandler *submissions.Handler
}

// Build prepares shared dependencies for the API process.
func Build(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultServerOptions())
}

// BuildWorker prepares shared dependencies for the queue worker. The
// worker keeps a smaller connection pool than the API server.
func BuildWorker(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultWorkerOptions())
}

func build(cfg config.Config, dbDefaults db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, dbDefaults)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, queueSource, err := buildQueue(ctx, cfg, sqlDB)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Router: nil,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
		Source: queueSource,
	}

	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:            app.Config,
		TenantHandler:     app.TenantHandler,
		SubmissionHandler: app.SubmissionHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config, defaults db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(defaults)
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildQueue returns the send and receive halves of the job queue. The
// lease passed to the durable drivers is the redelivery window, not the
// per-submission claim lease.
func buildQueue(ctx context.Context, cfg config.Config, sqlDB *sql.DB) (queue.Client, queue.Source, error) {
	switch cfg.QueueDriver {
	case "sqs":
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, nil, fmt.Errorf("QUEUE_DRIVER=sqs requires FB_SQS_QUEUE_URL")
		}
		client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return nil, nil, err
		}
		source, err := queue.NewSQSSource(ctx, cfg.AWSRegion, cfg.SQSQueueURL, int(cfg.VisibilityTimeout.Seconds()))
		if err != nil {
			return nil, nil, err
		}
		return client, source, nil
	case "memory":
		mem := queue.NewMemoryQueue(cfg.VisibilityTimeout)
		return mem, mem, nil
	default:
		if sqlDB == nil {
			if !isDevLike(cfg.Env) {
				return nil, nil, fmt.Errorf("QUEUE_DRIVER=postgres requires DATABASE_URL")
			}
			log.Printf("bootstrap: no database for postgres queue; using in-memory queue")
			mem := queue.NewMemoryQueue(cfg.VisibilityTimeout)
			return mem, mem, nil
		}
		client := &queue.PGClient{DB: sqlDB}
		return client, queue.NewPGSource(sqlDB, int(cfg.VisibilityTimeout.Seconds())), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(ctx context.Context, app *App) error {
	var tenantRepo tenants.Repo
	var submissionRepo submissions.Repo

	if app.DB != nil {
		tenantRepo = &tenants.PGRepo{DB: app.DB}
		submissionRepo = &submissions.PGRepo{DB: app.DB}
	} else {
		tenantRepo = tenants.NewMemoryRepo()
		submissionRepo = submissions.NewMemoryRepo()
	}

	transcriber, err := buildTranscriber(app.Config)
	if err != nil {
		return err
	}
	summarizer, err := buildSummarizer(ctx, app.Config)
	if err != nil {
		return err
	}
	sender, err := buildSender(ctx, app.Config)
	if err != nil {
		return err
	}
	classifier, err := buildClassifier(app.Config)
	if err != nil {
		return err
	}

	tenantSvc := tenants.NewService(tenantRepo)
	submissionSvc := &submissions.Service{
		Repo:    submissionRepo,
		Tenants: tenantSvc,
		Store:   app.Store,
		Queue:   app.Queue,
	}
	tenantSvc.Canceller = submissionSvc

	app.Pipeline = &submissions.Pipeline{
		Repo:              submissionRepo,
		Tenants:           tenantSvc,
		Store:             app.Store,
		Transcriber:       transcriber,
		Summarizer:        summarizer,
		Sender:            sender,
		Classifier:        classifier,
		LeaseSeconds:      int(app.Config.ClaimLease.Seconds()),
		TranscribeTimeout: app.Config.TranscribeTimeout,
		SummarizeTimeout:  app.Config.SummarizeTimeout,
		DeliverTimeout:    app.Config.DeliverTimeout,
	}

	app.TenantsRepo = tenantRepo
	app.SubmissionsRepo = submissionRepo
	app.TenantsService = tenantSvc
	app.SubmissionsService = submissionSvc
	app.TenantHandler = tenants.NewHandler(tenantSvc)
	app.SubmissionHandler = submissions.NewHandler(submissionSvc, app.Config.MaxAudioBytes)

	return nil
}

func buildTranscriber(cfg config.Config) (transcribe.Transcriber, error) {
	switch cfg.TranscribeProvider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if strings.TrimSpace(apiKey) == "" && isDevLike(cfg.Env) {
			log.Printf("bootstrap: OPENAI_API_KEY empty; using placeholder transcriber")
			return placeholderTranscriber{}, nil
		}
		return transcribe.NewOpenAI(apiKey, cfg.TranscribeModel, "")
	default:
		return placeholderTranscriber{}, nil
	}
}

func buildSummarizer(ctx context.Context, cfg config.Config) (summarize.Summarizer, error) {
	switch cfg.SummarizeProvider {
	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if strings.TrimSpace(apiKey) == "" && isDevLike(cfg.Env) {
			log.Printf("bootstrap: GEMINI_API_KEY empty; using placeholder summarizer")
			return placeholderSummarizer{}, nil
		}
		return summarize.NewGemini(ctx, apiKey, cfg.SummarizeModel)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if strings.TrimSpace(apiKey) == "" && isDevLike(cfg.Env) {
			log.Printf("bootstrap: OPENAI_API_KEY empty; using placeholder summarizer")
			return placeholderSummarizer{}, nil
		}
		return summarize.NewOpenAI(apiKey, cfg.SummarizeModel, "")
	default:
		return placeholderSummarizer{}, nil
	}
}

func buildSender(ctx context.Context, cfg config.Config) (mail.Sender, error) {
	switch cfg.MailDriver {
	case "ses":
		return mail.NewSES(ctx, cfg.AWSRegion, cfg.MailFrom)
	case "log":
		return mail.LogSender{}, nil
	default:
		if strings.TrimSpace(cfg.SMTPHost) == "" {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: SMTP_HOST empty; logging outbound email")
				return mail.LogSender{}, nil
			}
			return nil, fmt.Errorf("MAIL_DRIVER=smtp requires SMTP_HOST")
		}
		return mail.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
	}
}

func buildClassifier(cfg config.Config) (*provider.Classifier, error) {
	path := strings.TrimSpace(cfg.ClassifierRules)
	if path == "" {
		return provider.NewClassifier(), nil
	}
	return provider.NewClassifierFromFile(path)
}

type placeholderTranscriber struct{}

func (placeholderTranscriber) Transcribe(ctx context.Context, input transcribe.Input) (string, error) {
	_ = ctx
	_ = input
	return "", errors.New("transcription provider not configured")
}

type placeholderSummarizer struct{}

func (placeholderSummarizer) Summarize(ctx context.Context, input summarize.Input) (summarize.Result, error) {
	_ = ctx
	_ = input
	return summarize.Result{}, errors.New("summarization provider not configured")
}
