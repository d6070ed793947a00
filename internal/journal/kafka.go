package journal

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaWriter publishes entries to a Kafka topic. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// Close releases the underlying writer when it supports closing.
func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (k *KafkaWriter) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	// Keyed by run so one run's batches stay ordered within a partition.
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.RunID), Value: b})
}

// KafkaReader replays a journal topic from partition 0 until it goes idle.
type KafkaReader struct {
	brokers []string
	topic   string
	idle    time.Duration
}

func NewKafkaReader(bootstrap string, topic string) *KafkaReader {
	return &KafkaReader{brokers: SplitBrokers(bootstrap), topic: topic, idle: 10 * time.Second}
}

func (k *KafkaReader) Scan(ctx context.Context, fn func(offset int64, e Entry) error) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()

	var idx int64
	for {
		readCtx, cancel := context.WithTimeout(ctx, k.idle)
		m, err := r.ReadMessage(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if timedOut {
				// No message within the idle window: end of topic.
				return nil
			}
			return errors.Wrap(err, "read kafka")
		}
		idx++
		var e Entry
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return errors.Wrapf(err, "unmarshal entry at %d", m.Offset)
		}
		if err := fn(idx, e); err != nil {
			return err
		}
	}
}
