package journal

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// ConfluentWriter publishes entries through librdkafka with an idempotent
// producer, waiting for each delivery report before returning.
type ConfluentWriter struct {
	producer *ck.Producer
	topic    string
}

func NewConfluentWriter(bootstrap string, topic string) (*ConfluentWriter, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, errors.Wrap(err, "producer")
	}
	return &ConfluentWriter{producer: p, topic: topic}, nil
}

func (c *ConfluentWriter) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	delivery := make(chan ck.Event, 1)
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &c.topic, Partition: ck.PartitionAny},
		Key:            []byte(e.RunID),
		Value:          b,
	}
	if err := c.producer.Produce(msg, delivery); err != nil {
		return errors.Wrap(err, "produce")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		m, ok := ev.(*ck.Message)
		if !ok {
			return errors.Newf("unexpected delivery event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return errors.Wrap(m.TopicPartition.Error, "delivery")
		}
		return nil
	}
}

// Close flushes pending deliveries and closes the producer.
func (c *ConfluentWriter) Close() error {
	c.producer.Flush(5000)
	c.producer.Close()
	return nil
}
