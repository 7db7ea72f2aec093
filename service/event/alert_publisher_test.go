package event

import (
	"context"
	"dataquality-service/service/config"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher_PublishesKeyedJSON(t *testing.T) {
	writer := &recordingWriter{}
	publisher := &KafkaPublisher{writer: writer, topic: "dq.alerts"}
	alert := &AnomalyAlert{EntityType: "orders", RunID: "run-1", Score: 42, Reason: "低于下限", DetectedAt: time.Now()}

	require.NoError(t, publisher.Publish(context.Background(), alert))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "orders", string(msg.Key))
	var decoded AnomalyAlert
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 42.0, decoded.Score)
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("quality_anomaly")})
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	cause := errors.New("broker down")
	publisher := &KafkaPublisher{writer: &recordingWriter{err: cause}, topic: "dq.alerts"}

	err := publisher.Publish(context.Background(), &AnomalyAlert{EntityType: "orders"})
	assert.ErrorIs(t, err, cause)
}

func TestNewAlertPublisher(t *testing.T) {
	p, err := NewAlertPublisher(config.AlertingConfig{Backend: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	p, err = NewAlertPublisher(config.AlertingConfig{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)

	p, err = NewAlertPublisher(config.AlertingConfig{Backend: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "dq.alerts"}})
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())

	_, err = NewAlertPublisher(config.AlertingConfig{Backend: "pager"})
	assert.Error(t, err)
}
