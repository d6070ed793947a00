// Package manifest points restore at the newest ledger snapshot and the
// journal offset the snapshot already covers.
package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"brazekit/internal/journal"
)

// FileName is the manifest file inside the snapshot base directory.
const FileName = "manifest.latest.json"

// DefaultKey is the compacted-topic key the manifest is published under.
const DefaultKey = "brazekit-manifest-latest"

// ErrNoManifest is returned when no manifest has been published yet.
var ErrNoManifest = errors.New("no manifest found")

type Manifest struct {
	SnapshotID           string `json:"snapshotId"`
	LastJournalOffset    int64  `json:"lastJournalOffset"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

func newManifest(snapshotID string, lastJournalOffset int64) Manifest {
	return Manifest{
		SnapshotID:           snapshotID,
		LastJournalOffset:    lastJournalOffset,
		CreatedAtEpochSecond: time.Now().UTC().Unix(),
	}
}

type Publisher interface {
	PublishLatest(ctx context.Context, snapshotID string, lastJournalOffset int64) error
}

type Reader interface {
	ReadLatest(ctx context.Context) (Manifest, error)
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisherImpl struct {
	pubs []Publisher
}

func MultiPublisher(pubs ...Publisher) Publisher {
	return &MultiPublisherImpl{pubs: pubs}
}

func (m *MultiPublisherImpl) PublishLatest(ctx context.Context, snapshotID string, lastJournalOffset int64) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(ctx, snapshotID, lastJournalOffset); err != nil {
			return err
		}
	}
	return nil
}

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

func (f *FilesystemManifest) PublishLatest(_ context.Context, snapshotID string, lastJournalOffset int64) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	m := newManifest(snapshotID, lastJournalOffset)
	file := filepath.Join(f.baseDir, FileName)
	out, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, "create")
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&m); err != nil {
		return errors.Wrap(err, "encode")
	}
	return nil
}

func (f *FilesystemManifest) ReadLatest(_ context.Context) (Manifest, error) {
	file := filepath.Join(f.baseDir, FileName)
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, errors.Wrapf(ErrNoManifest, "at %s", file)
		}
		return Manifest{}, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "unmarshal manifest")
	}
	return m, nil
}

// KafkaManifest publishes manifest.latest as a compacted Kafka record.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaManifest creates a Kafka manifest publisher.
// bootstrap can be comma-separated brokers.
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(journal.SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, key: []byte(key)}
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(ctx context.Context, snapshotID string, lastJournalOffset int64) error {
	m := newManifest(snapshotID, lastJournalOffset)
	b, err := json.Marshal(&m)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: b}); err != nil {
		return errors.Wrap(err, "publish manifest")
	}
	return nil
}

func (k *KafkaManifest) Close() error {
	if w, ok := k.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}

// KafkaReader reads the latest manifest record from a compacted Kafka topic.
type KafkaReader struct {
	brokers []string
	topic   string
	key     []byte
	idle    time.Duration
}

func NewKafkaReader(bootstrap string, topic string, key string) *KafkaReader {
	return &KafkaReader{brokers: journal.SplitBrokers(bootstrap), topic: topic, key: []byte(key), idle: 10 * time.Second}
}

// ReadLatest reads the topic from the start and keeps the last record for the key.
func (k *KafkaReader) ReadLatest(ctx context.Context) (Manifest, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()

	var last Manifest
	for {
		readCtx, cancel := context.WithTimeout(ctx, k.idle)
		m, err := r.ReadMessage(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Manifest{}, ctx.Err()
			}
			if timedOut {
				break
			}
			return Manifest{}, errors.Wrap(err, "read kafka")
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, errors.Wrap(err, "unmarshal kafka manifest")
		}
		last = man
	}
	if last.SnapshotID == "" {
		return Manifest{}, errors.Wrapf(ErrNoManifest, "key %s", k.key)
	}
	return last, nil
}
