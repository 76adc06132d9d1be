package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"min=1"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=json text"`

	// Secrets for the HTTP surfaces. Empty disables the endpoint.
	CronSecret    string `mapstructure:"CRON_SECRET"`
	AdminAPIToken string `mapstructure:"ADMIN_API_TOKEN"`

	Queue         `mapstructure:",squash"`
	Runner        `mapstructure:",squash"`
	ObjectStore   `mapstructure:",squash"`
	Transcription `mapstructure:",squash"`
	Notify        `mapstructure:",squash"`
}

type Queue struct {
	QueueBackend        string        `mapstructure:"QUEUE_BACKEND" validate:"oneof=redis memory"`
	QueueName           string        `mapstructure:"QUEUE_NAME" validate:"required"`
	RedisURL            string        `mapstructure:"REDIS_URL" validate:"required_if=QueueBackend redis"`
	QueueEnqueueTimeout time.Duration `mapstructure:"QUEUE_ENQUEUE_TIMEOUT" validate:"gt=0"`
	QueueMaxAttempts    int           `mapstructure:"QUEUE_MAX_ATTEMPTS" validate:"min=1"`
	QueueBackoffBase    time.Duration `mapstructure:"QUEUE_BACKOFF_BASE" validate:"gt=0"`
	QueueKeepCompleted  int           `mapstructure:"QUEUE_KEEP_COMPLETED" validate:"min=1"`
	QueueKeepFailed     int           `mapstructure:"QUEUE_KEEP_FAILED" validate:"min=1"`
	QueueLockDuration   time.Duration `mapstructure:"QUEUE_LOCK_DURATION" validate:"gt=0"`
}

type Runner struct {
	RunnerMaxDuration   time.Duration `mapstructure:"RUNNER_MAX_DURATION" validate:"gt=0"`
	RunnerGraceWindow   time.Duration `mapstructure:"RUNNER_GRACE_WINDOW" validate:"gte=0"`
	JobTimeout          time.Duration `mapstructure:"JOB_TIMEOUT" validate:"gt=0"`
	StaleAfter          time.Duration `mapstructure:"STALE_AFTER" validate:"gt=0"`
	RequeuePendingLimit int           `mapstructure:"REQUEUE_PENDING_LIMIT" validate:"min=0"`
}

type ObjectStore struct {
	ObjectStoreBackend string `mapstructure:"OBJECT_STORE_BACKEND" validate:"oneof=minio s3"`
	S3Endpoint         string `mapstructure:"S3_ENDPOINT" validate:"required_if=ObjectStoreBackend minio"`
	S3Region           string `mapstructure:"S3_REGION"`
	S3Bucket           string `mapstructure:"S3_BUCKET" validate:"required"`
	S3AccessKey        string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey        string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL           bool   `mapstructure:"S3_USE_SSL"`
	S3PublicBaseURL    string `mapstructure:"S3_PUBLIC_BASE_URL"`
}

type Transcription struct {
	TranscriptionStrategy    string `mapstructure:"TRANSCRIPTION_STRATEGY" validate:"oneof=direct audio-chunks"`
	SpeechBackend            string `mapstructure:"SPEECH_BACKEND" validate:"oneof=openai whisper"`
	OpenAIAPIKey             string `mapstructure:"OPENAI_API_KEY" validate:"required_if=SpeechBackend openai"`
	OpenAIBaseURL            string `mapstructure:"OPENAI_BASE_URL"`
	OpenAITranscriptionModel string `mapstructure:"OPENAI_TRANSCRIPTION_MODEL"`
	OpenAISummaryModel       string `mapstructure:"OPENAI_SUMMARY_MODEL"`
	TranscriptionLanguage    string `mapstructure:"TRANSCRIPTION_LANGUAGE"`
	WhisperCmd               string `mapstructure:"WHISPER_CMD"`
	WhisperModel             string `mapstructure:"WHISPER_MODEL"`
	WhisperDevice            string `mapstructure:"WHISPER_DEVICE"`
	DirectUploadLimit        string `mapstructure:"DIRECT_UPLOAD_LIMIT" validate:"required"`
	SourceSizeLimit          string `mapstructure:"SOURCE_SIZE_LIMIT" validate:"required"`
	AudioChunkLimit          string `mapstructure:"AUDIO_CHUNK_LIMIT" validate:"required"`
	DescriptionMaxWords      int    `mapstructure:"DESCRIPTION_MAX_WORDS" validate:"min=1"`
	TempDir                  string `mapstructure:"TEMP_DIR"`
}

type Notify struct {
	NotifyBackend      string   `mapstructure:"NOTIFY_BACKEND" validate:"oneof=none redis kafka"`
	NotifyRedisChannel string   `mapstructure:"NOTIFY_REDIS_CHANNEL"`
	KafkaBrokers       []string `mapstructure:"KAFKA_BROKERS" validate:"required_if=NotifyBackend kafka"`
	KafkaTopic         string   `mapstructure:"KAFKA_TOPIC"`
}

// Sizes are the byte limits parsed from their human-readable settings.
type Sizes struct {
	DirectUploadLimit int64
	SourceSizeLimit   int64
	AudioChunkLimit   int64
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(v any) {
	val := reflect.ValueOf(v)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")

		// Handle nested and squashed structs
		if field.Type.Kind() == reflect.Struct && (tag == "" || strings.Contains(opts, "squash")) {
			bindEnv(val.Field(i).Interface())
			continue
		}
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	viper.SetDefault("QUEUE_BACKEND", "redis")
	viper.SetDefault("QUEUE_NAME", "transcription")
	viper.SetDefault("QUEUE_ENQUEUE_TIMEOUT", "10s")
	viper.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	viper.SetDefault("QUEUE_BACKOFF_BASE", "5s")
	viper.SetDefault("QUEUE_KEEP_COMPLETED", 100)
	viper.SetDefault("QUEUE_KEEP_FAILED", 50)
	viper.SetDefault("QUEUE_LOCK_DURATION", "5m")

	viper.SetDefault("RUNNER_MAX_DURATION", "4m")
	viper.SetDefault("RUNNER_GRACE_WINDOW", "5s")
	viper.SetDefault("JOB_TIMEOUT", "3m30s")
	viper.SetDefault("STALE_AFTER", "5m")
	viper.SetDefault("REQUEUE_PENDING_LIMIT", 25)

	viper.SetDefault("OBJECT_STORE_BACKEND", "minio")
	viper.SetDefault("S3_REGION", "us-east-1")

	viper.SetDefault("TRANSCRIPTION_STRATEGY", "direct")
	viper.SetDefault("SPEECH_BACKEND", "openai")
	viper.SetDefault("OPENAI_TRANSCRIPTION_MODEL", "whisper-1")
	viper.SetDefault("OPENAI_SUMMARY_MODEL", "gpt-4o-mini")
	viper.SetDefault("DIRECT_UPLOAD_LIMIT", "25MiB")
	viper.SetDefault("SOURCE_SIZE_LIMIT", "2GiB")
	viper.SetDefault("AUDIO_CHUNK_LIMIT", "24MiB")
	viper.SetDefault("DESCRIPTION_MAX_WORDS", 150)

	viper.SetDefault("NOTIFY_BACKEND", "none")
	viper.SetDefault("NOTIFY_REDIS_CHANNEL", "transcriptions")
	viper.SetDefault("KAFKA_TOPIC", "media.transcriptions")
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := cfg.Sizes(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.RunnerMaxDuration <= cfg.JobTimeout {
		slog.Warn("RUNNER_MAX_DURATION does not exceed JOB_TIMEOUT; a late job may be cut off by the runner",
			"runner_max_duration", cfg.RunnerMaxDuration, "job_timeout", cfg.JobTimeout)
	}
	if cfg.StaleAfter <= cfg.JobTimeout {
		slog.Warn("STALE_AFTER should exceed JOB_TIMEOUT or live jobs may be reclaimed",
			"stale_after", cfg.StaleAfter, "job_timeout", cfg.JobTimeout)
	}

	slog.Info("Loaded configuration",
		"queue_backend", cfg.QueueBackend,
		"object_store", cfg.ObjectStoreBackend,
		"strategy", cfg.TranscriptionStrategy,
		"speech_backend", cfg.SpeechBackend,
		"notify_backend", cfg.NotifyBackend,
	)
	return &cfg, nil
}

// Sizes parses the byte-size settings ("25MiB", "2GB", "1048576").
func (c Config) Sizes() (Sizes, error) {
	var s Sizes
	for _, f := range []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"DIRECT_UPLOAD_LIMIT", c.DirectUploadLimit, &s.DirectUploadLimit},
		{"SOURCE_SIZE_LIMIT", c.SourceSizeLimit, &s.SourceSizeLimit},
		{"AUDIO_CHUNK_LIMIT", c.AudioChunkLimit, &s.AudioChunkLimit},
	} {
		n, err := humanize.ParseBytes(f.raw)
		if err != nil {
			return Sizes{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = int64(n)
	}
	return s, nil
}
