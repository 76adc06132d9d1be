package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"thirdcoast.systems/certify/internal/config"
	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
	"thirdcoast.systems/certify/internal/notify"
	"thirdcoast.systems/certify/internal/runner"
	"thirdcoast.systems/certify/internal/transcription"
	"thirdcoast.systems/certify/pkg/objectstore"
	"thirdcoast.systems/certify/pkg/speech"
	"thirdcoast.systems/certify/pkg/utils/language"
)

// Services is the composition root shared by the web and transcriber binaries.
type Services struct {
	Config   config.Config
	DB       *db.DatabaseConnection
	Media    db.MediaStore
	Queue    jobqueue.Queue
	Objects  objectstore.Store
	Notifier *notify.Notifier
	Runner   *runner.Runner
}

// NewServices connects every backend named by conf.
func NewServices(ctx context.Context, conf config.Config) (*Services, error) {
	pool, err := OpenDBPoolWithRetry(ctx, conf)
	if err != nil {
		return nil, err
	}
	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	s := &Services{Config: conf, DB: dbc, Media: dbc.Queries(ctx)}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) init(ctx context.Context) error {
	var err error
	if s.Queue, err = NewQueue(ctx, s.Config); err != nil {
		return err
	}
	if s.Objects, err = NewObjectStore(ctx, s.Config); err != nil {
		return err
	}
	if s.Notifier, err = NewNotifier(ctx, s.Config); err != nil {
		return err
	}
	pipeline, err := NewPipeline(s.Config, s.Objects, s.Media)
	if err != nil {
		return err
	}
	s.Runner = runner.New(s.Queue, s.Media, pipeline, s.Notifier, runner.Options{
		StaleAfter:   s.Config.StaleAfter,
		RequeueLimit: int32(s.Config.RequeuePendingLimit),
	})
	return nil
}

// Close releases every connection; safe on a partially built Services.
func (s *Services) Close() error {
	var errs error
	if s.Notifier != nil {
		errs = multierr.Append(errs, s.Notifier.Close())
	}
	if s.Queue != nil {
		errs = multierr.Append(errs, s.Queue.Close())
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return errs
}

func QueueOptions(conf config.Config) jobqueue.Options {
	return jobqueue.Options{
		Name:           conf.QueueName,
		EnqueueTimeout: conf.QueueEnqueueTimeout,
		MaxAttempts:    conf.QueueMaxAttempts,
		BackoffBase:    conf.QueueBackoffBase,
		KeepCompleted:  conf.QueueKeepCompleted,
		KeepFailed:     conf.QueueKeepFailed,
		LockDuration:   conf.QueueLockDuration,
	}
}

func NewQueue(ctx context.Context, conf config.Config) (jobqueue.Queue, error) {
	switch conf.QueueBackend {
	case "memory":
		slog.Warn("using the in-memory job queue; jobs are lost on restart")
		return jobqueue.NewMemoryQueue(QueueOptions(conf)), nil
	case "redis", "":
		client, err := OpenRedisWithRetry(ctx, conf.RedisURL, conf.DatabaseRetries)
		if err != nil {
			return nil, err
		}
		return jobqueue.NewRedisQueue(client, QueueOptions(conf)), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", conf.QueueBackend)
	}
}

func NewObjectStore(ctx context.Context, conf config.Config) (objectstore.Store, error) {
	switch conf.ObjectStoreBackend {
	case "s3":
		return objectstore.NewS3(ctx, objectstore.S3Options{
			Endpoint:   conf.S3Endpoint,
			Region:     conf.S3Region,
			Bucket:     conf.S3Bucket,
			AccessKey:  conf.S3AccessKey,
			SecretKey:  conf.S3SecretKey,
			PublicBase: conf.S3PublicBaseURL,
		})
	case "minio", "":
		return objectstore.NewMinio(objectstore.MinioOptions{
			Endpoint:   conf.S3Endpoint,
			Region:     conf.S3Region,
			Bucket:     conf.S3Bucket,
			AccessKey:  conf.S3AccessKey,
			SecretKey:  conf.S3SecretKey,
			UseSSL:     conf.S3UseSSL,
			PublicBase: conf.S3PublicBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE_BACKEND %q", conf.ObjectStoreBackend)
	}
}

func NewNotifier(ctx context.Context, conf config.Config) (*notify.Notifier, error) {
	switch conf.NotifyBackend {
	case "redis":
		client, err := OpenRedisWithRetry(ctx, conf.RedisURL, conf.DatabaseRetries)
		if err != nil {
			return nil, err
		}
		return notify.NewNotifier(notify.NewRedis(client, conf.NotifyRedisChannel)), nil
	case "kafka":
		if len(conf.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required for the kafka notifier")
		}
		return notify.NewNotifier(notify.NewKafka(notify.NewKafkaWriter(conf.KafkaBrokers, conf.KafkaTopic))), nil
	case "none", "":
		return notify.NewNotifier(nil), nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_BACKEND %q", conf.NotifyBackend)
	}
}

// NewSpeech returns the transcriber and, when the backend has one, the
// summarizer.
func NewSpeech(conf config.Config) (speech.Transcriber, speech.Summarizer, error) {
	lang := language.Parse(conf.TranscriptionLanguage).Code()

	var summarizer speech.Summarizer
	if conf.OpenAIAPIKey != "" {
		summarizer = speech.NewOpenAI(openAIOptions(conf, lang))
	}

	switch conf.SpeechBackend {
	case "openai", "":
		if conf.OpenAIAPIKey == "" {
			return nil, nil, errors.New("OPENAI_API_KEY is required for the openai speech backend")
		}
		client := speech.NewOpenAI(openAIOptions(conf, lang))
		return client, client, nil
	case "whisper":
		w := speech.NewWhisper(speech.WhisperOptions{
			Command:  conf.WhisperCmd,
			Model:    conf.WhisperModel,
			Device:   conf.WhisperDevice,
			Language: lang,
		})
		if !w.Available() {
			slog.Warn("whisper command not found on PATH; jobs will fail until it is installed", "command", conf.WhisperCmd)
		}
		return w, summarizer, nil
	default:
		return nil, nil, fmt.Errorf("unknown SPEECH_BACKEND %q", conf.SpeechBackend)
	}
}

func openAIOptions(conf config.Config, lang string) speech.OpenAIOptions {
	return speech.OpenAIOptions{
		APIKey:             conf.OpenAIAPIKey,
		BaseURL:            conf.OpenAIBaseURL,
		TranscriptionModel: conf.OpenAITranscriptionModel,
		SummaryModel:       conf.OpenAISummaryModel,
		Language:           lang,
	}
}

func NewStrategy(conf config.Config, transcriber speech.Transcriber) (transcription.Strategy, error) {
	sizes, err := conf.Sizes()
	if err != nil {
		return nil, err
	}
	switch conf.TranscriptionStrategy {
	case "direct", "":
		return &transcription.DirectStrategy{Transcriber: transcriber, Limit: sizes.DirectUploadLimit}, nil
	case "audio-chunks":
		return &transcription.AudioChunkStrategy{
			Transcriber: transcriber,
			Tools:       transcription.FFmpegTools{},
			ChunkLimit:  sizes.AudioChunkLimit,
		}, nil
	default:
		return nil, fmt.Errorf("unknown TRANSCRIPTION_STRATEGY %q", conf.TranscriptionStrategy)
	}
}

func NewPipeline(conf config.Config, store objectstore.Store, drafts transcription.DraftSaver) (*transcription.Pipeline, error) {
	transcriber, summarizer, err := NewSpeech(conf)
	if err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(conf, transcriber)
	if err != nil {
		return nil, err
	}
	sizes, err := conf.Sizes()
	if err != nil {
		return nil, err
	}
	return transcription.NewPipeline(store, strategy, summarizer, drafts, transcription.Options{
		Timeout:             conf.JobTimeout,
		SourceSizeLimit:     sizes.SourceSizeLimit,
		DescriptionMaxWords: conf.DescriptionMaxWords,
		Language:            language.Parse(conf.TranscriptionLanguage),
		TempDir:             conf.TempDir,
		PublicBaseURL:       store.PublicURL(""),
	}), nil
}
