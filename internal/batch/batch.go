// Package batch splits record collections into fixed-size chunks and
// delivers them to Braze one request at a time.
package batch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"brazekit/internal/braze"
	"brazekit/internal/journal"
	"brazekit/internal/ledger"
	"brazekit/internal/metrics"
	"brazekit/internal/transform"
)

// Size is the per-request record limit of /users/track.
const Size = 75

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = Size
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end:end])
	}
	return out
}

// Pending pairs a record with its ledger key.
type Pending[T any] struct {
	Key    string
	Record T
}

// Tracker is implemented by *braze.Client.
type Tracker interface {
	Track(ctx context.Context, body braze.TrackRequest) (braze.TrackResponse, error)
}

// ProgressFunc is called after each accepted chunk with cumulative counts.
type ProgressFunc func(kind ledger.Kind, sent, total int)

// Sender delivers chunks sequentially. Ledger, Journal and Metrics are optional.
type Sender struct {
	Tracker  Tracker
	Ledger   ledger.Store
	Journal  journal.Writer
	Metrics  *metrics.Registry
	Logger   *zap.Logger
	Progress ProgressFunc
	RunID    string

	now func() time.Time
}

// Result reports what a Send call delivered before it returned.
type Result struct {
	Sent    int
	Batches int
}

// SendPurchases posts purchases in chunks of Size.
func (s *Sender) SendPurchases(ctx context.Context, items []Pending[transform.PurchaseRecord]) (Result, error) {
	return send(ctx, s, ledger.KindPurchase, items, func(recs []transform.PurchaseRecord) braze.TrackRequest {
		return braze.TrackRequest{Purchases: recs}
	})
}

// SendEvents posts order_completed events in chunks of Size.
func (s *Sender) SendEvents(ctx context.Context, items []Pending[transform.OrderCompletedEvent]) (Result, error) {
	return send(ctx, s, ledger.KindEvent, items, func(recs []transform.OrderCompletedEvent) braze.TrackRequest {
		return braze.TrackRequest{Events: recs}
	})
}

func send[T any](ctx context.Context, s *Sender, kind ledger.Kind, items []Pending[T], wrap func([]T) braze.TrackRequest) (Result, error) {
	log := s.logger()
	var res Result
	for i, chunk := range Chunk(items, Size) {
		recs := make([]T, len(chunk))
		keys := make([]string, len(chunk))
		for j, p := range chunk {
			recs[j] = p.Record
			keys[j] = p.Key
		}

		t0 := time.Now()
		_, err := s.Tracker.Track(ctx, wrap(recs))
		if s.Metrics != nil {
			s.Metrics.RequestLatency.Observe(time.Since(t0).Seconds())
		}
		if err != nil {
			if s.Metrics != nil {
				s.Metrics.BatchFailures.WithLabelValues(string(kind)).Inc()
			}
			log.Error("batch rejected", zap.String("kind", string(kind)), zap.Int("batch", i+1), zap.Int("size", len(chunk)), zap.Error(err))
			return res, errors.Wrapf(err, "%s batch %d", kind, i+1)
		}
		res.Sent += len(chunk)
		res.Batches++
		if s.Metrics != nil {
			s.Metrics.BatchesSent.WithLabelValues(string(kind)).Inc()
			s.Metrics.RecordsSent.WithLabelValues(string(kind)).Add(float64(len(chunk)))
		}
		if err := s.record(ctx, kind, i+1, keys); err != nil {
			return res, err
		}
		if s.Progress != nil {
			s.Progress(kind, res.Sent, len(items))
		}
	}
	return res, nil
}

// record marks an accepted chunk in the ledger and the journal.
func (s *Sender) record(ctx context.Context, kind ledger.Kind, batchNo int, keys []string) error {
	ts := s.clock().Unix()
	if s.Ledger != nil {
		for _, k := range keys {
			_, orderRef, _ := ledger.ParseKey(k)
			applied, err := s.Ledger.Apply(ctx, k, ledger.Entry{Kind: kind, OrderID: orderRef, RunID: s.RunID, SentAt: ts})
			if err != nil {
				return errors.Wrapf(err, "ledger apply %s", k)
			}
			if applied && s.Metrics != nil {
				s.Metrics.LedgerApplied.Inc()
			}
		}
	}
	if s.Journal != nil {
		e := journal.Entry{RunID: s.RunID, Kind: kind, Batch: batchNo, Keys: keys, Count: len(keys), TS: ts}
		if err := s.Journal.Append(ctx, e); err != nil {
			return errors.Wrapf(err, "journal append %s batch %d", kind, batchNo)
		}
		if s.Metrics != nil {
			s.Metrics.JournalAppended.Inc()
		}
	}
	return nil
}

func (s *Sender) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Sender) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
