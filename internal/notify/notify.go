// Package notify fans transcription status changes out to other services.
// Delivery is best effort: a failed publish never fails a job.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusRetrying is a failed attempt the queue will run again.
	StatusRetrying Status = "retrying"
)

type Event struct {
	JobKey      string    `json:"jobKey"`
	MediaID     string    `json:"mediaId"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt,omitempty"`
	Error       string    `json:"error,omitempty"`
	CaptionsURL string    `json:"captionsUrl,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	output, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, output).Err()
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the Kafka publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events keyed by media id so one item's updates stay ordered.
type Kafka struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer NewKafka expects.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.MediaID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Notifier wraps a Publisher with a timeout and logs failures instead of
// returning them.
type Notifier struct {
	pub     Publisher
	timeout time.Duration
	now     func() time.Time
}

func NewNotifier(pub Publisher) *Notifier {
	if pub == nil {
		pub = Nop{}
	}
	return &Notifier{pub: pub, timeout: 3 * time.Second, now: time.Now}
}

// Notify stamps and publishes ev.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = n.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish transcription event", "job_key", ev.JobKey, "status", ev.Status, "error", err)
	}
}

func (n *Notifier) Close() error {
	if err := n.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
