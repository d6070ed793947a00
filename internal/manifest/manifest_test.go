package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

func TestPublishAndReadLatest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewFilesystemManifest(dir)
	if err := m.PublishLatest(ctx, "sid-123", 42); err != nil {
		t.Fatalf("PublishLatest error: %v", err)
	}
	got, err := m.ReadLatest(ctx)
	if err != nil {
		t.Fatalf("ReadLatest error: %v", err)
	}
	if got.SnapshotID != "sid-123" || got.LastJournalOffset != 42 || got.CreatedAtEpochSecond == 0 {
		t.Fatalf("unexpected manifest: %+v", got)
	}
}

func TestReadLatest_Missing(t *testing.T) {
	_, err := NewFilesystemManifest(t.TempDir()).ReadLatest(context.Background())
	if !crdberrors.Is(err, ErrNoManifest) {
		t.Fatalf("want ErrNoManifest, got %v", err)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaManifest_PublishLatest_Success(t *testing.T) {
	fk := &fakeKafkaWriter{}
	km := NewKafkaManifestWith(fk, DefaultKey)
	if err := km.PublishLatest(context.Background(), "sid-abc", 99); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("want 1 msg, got %d", len(fk.msgs))
	}
	if string(fk.msgs[0].Key) != DefaultKey {
		t.Fatalf("bad key: %s", string(fk.msgs[0].Key))
	}
	var m Manifest
	if err := json.Unmarshal(fk.msgs[0].Value, &m); err != nil {
		t.Fatalf("value is not a manifest: %v", err)
	}
	if m.SnapshotID != "sid-abc" || m.LastJournalOffset != 99 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestKafkaManifest_PublishLatest_Fail(t *testing.T) {
	fk := &fakeKafkaWriter{fail: true}
	km := NewKafkaManifestWith(fk, DefaultKey)
	if err := km.PublishLatest(context.Background(), "sid-abc", 99); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiPublisher_StopsOnError(t *testing.T) {
	ok := &fakeKafkaWriter{}
	bad := &fakeKafkaWriter{fail: true}
	after := &fakeKafkaWriter{}
	mp := MultiPublisher(NewKafkaManifestWith(ok, "k"), NewKafkaManifestWith(bad, "k"), NewKafkaManifestWith(after, "k"))
	if err := mp.PublishLatest(context.Background(), "sid", 1); err == nil {
		t.Fatalf("expected error")
	}
	if len(ok.msgs) != 1 || len(after.msgs) != 0 {
		t.Fatalf("unexpected fan-out: ok=%d after=%d", len(ok.msgs), len(after.msgs))
	}
}
