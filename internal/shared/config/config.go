package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	AdminAPIToken   string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	QueueDriver       string
	SQSQueueURL       string
	VisibilityTimeout time.Duration
	WorkerConcurrency int
	ShutdownTimeout   time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	ReceiveWait       time.Duration
	ReceiveBatch      int
	ClaimLease        time.Duration
	ClassifierRules   string

	TranscribeProvider string
	TranscribeModel    string
	TranscribeTimeout  time.Duration

	SummarizeProvider string
	SummarizeModel    string
	SummarizeTimeout  time.Duration

	MailDriver     string
	MailFrom       string
	DeliverTimeout time.Duration
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string

	MaxAudioBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		AdminAPIToken:   getEnv("ADMIN_API_TOKEN", ""),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		QueueDriver:       normalizeQueueDriver(getEnv("QUEUE_DRIVER", "postgres")),
		SQSQueueURL:       getEnv("FB_SQS_QUEUE_URL", ""),
		VisibilityTimeout: getEnvSeconds("FB_SQS_VISIBILITY_TIMEOUT_SECONDS", 1200),
		WorkerConcurrency: getEnvInt("FB_WORKER_CONCURRENCY", 4),
		ShutdownTimeout:   getEnvSeconds("FB_SHUTDOWN_TIMEOUT_SECONDS", 30),
		MaxAttempts:       getEnvInt("FB_MAX_ATTEMPTS", 3),
		BackoffBase:       getEnvSeconds("FB_BACKOFF_BASE_SECONDS", 5),
		BackoffCap:        getEnvSeconds("FB_BACKOFF_CAP_SECONDS", 300),
		ReceiveWait:       getEnvSeconds("FB_RECEIVE_WAIT_SECONDS", 20),
		ReceiveBatch:      getEnvInt("FB_RECEIVE_BATCH", 10),
		ClaimLease:        getEnvSeconds("FB_CLAIM_LEASE_SECONDS", 900),
		ClassifierRules:   getEnv("CLASSIFIER_RULES_PATH", ""),

		TranscribeProvider: getEnv("TRANSCRIBE_PROVIDER", "openai"),
		TranscribeModel:    getEnv("TRANSCRIBE_MODEL", "whisper-1"),
		TranscribeTimeout:  getEnvSeconds("TRANSCRIBE_TIMEOUT_SECONDS", 120),

		SummarizeProvider: getEnv("SUMMARIZE_PROVIDER", "openai"),
		SummarizeModel:    getEnv("SUMMARIZE_MODEL", ""),
		SummarizeTimeout:  getEnvSeconds("SUMMARIZE_TIMEOUT_SECONDS", 60),

		MailDriver:     normalizeMailDriver(getEnv("MAIL_DRIVER", "smtp")),
		MailFrom:       getEnv("MAIL_FROM", ""),
		DeliverTimeout: getEnvSeconds("DELIVER_TIMEOUT_SECONDS", 30),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnvInt("SMTP_PORT", 465),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),

		MaxAudioBytes: int64(getEnvInt("MAX_AUDIO_MB", 15)) << 20,
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int %q; using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "memory":
		return "memory"
	default:
		return "postgres"
	}
}

func normalizeMailDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ses":
		return "ses"
	case "log":
		return "log"
	default:
		return "smtp"
	}
}
