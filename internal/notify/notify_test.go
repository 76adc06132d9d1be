package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := NewRedis(client, "transcriptions")
	t.Cleanup(func() { _ = pub.Close() })

	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, "transcriptions")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx, Event{JobKey: "transcribe-v1", MediaID: "v1", Status: StatusCompleted, At: at}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "v1", got.MediaID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, at.Equal(got.At))
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafka_PublishKeysByMedia(t *testing.T) {
	w := &recordingWriter{}
	pub := NewKafka(w)

	require.NoError(t, pub.Publish(context.Background(), Event{JobKey: "transcribe-v1", MediaID: "v1", Status: StatusFailed, Error: "boom"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("v1"), w.msgs[0].Key)
	assert.Equal(t, "status", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("failed"), w.msgs[0].Headers[0].Value)
	assert.Contains(t, string(w.msgs[0].Value), `"error":"boom"`)
}

func TestNotifier_SwallowsErrorsAndStamps(t *testing.T) {
	w := &recordingWriter{}
	n := NewNotifier(NewKafka(w))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	n.Notify(context.Background(), Event{MediaID: "v1", Status: StatusProcessing})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, at, w.msgs[0].Time)

	w.err = errors.New("broker down")
	assert.NotPanics(t, func() { n.Notify(context.Background(), Event{MediaID: "v1", Status: StatusCompleted}) })

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	w.err = nil
	n.Notify(canceled, Event{MediaID: "v1", Status: StatusFailed})
	assert.Len(t, w.msgs, 2, "publishes even after the caller's context ended")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "transcriptions")
	assert.Equal(t, "transcriptions", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}

func TestNopAndNilNotifier(t *testing.T) {
	n := NewNotifier(nil)
	n.Notify(context.Background(), Event{MediaID: "v1"})
	assert.NoError(t, n.Close())
}
