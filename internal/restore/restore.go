// Package restore rebuilds a ledger from the latest snapshot plus the
// journal entries written after it.
package restore

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"go.uber.org/zap"

	"brazekit/internal/journal"
	"brazekit/internal/ledger"
	"brazekit/internal/manifest"
	"brazekit/internal/metrics"
	"brazekit/internal/snapshot"
)

type Restorer struct {
	store           ledger.Store
	manifestReader  manifest.Reader
	snapshotBaseDir string

	Metrics *metrics.Registry
	Logger  *zap.Logger
}

func NewRestorer(st ledger.Store, mr manifest.Reader, snapshotBaseDir string) *Restorer {
	return &Restorer{
		store:           st,
		manifestReader:  mr,
		snapshotBaseDir: snapshotBaseDir,
	}
}

// Result counts record keys. Keys at or before the start offset are not counted.
type Result struct {
	Restored int
	Applied  int
	Skipped  int
}

// RestoreFromSnapshot replaces the ledger contents with the snapshot.
// A missing snapshot is logged and leaves the ledger untouched.
func (r *Restorer) RestoreFromSnapshot(ctx context.Context, snapshotID string) (int, error) {
	if snapshotID == "" {
		return 0, nil
	}
	path := filepath.Join(r.snapshotBaseDir, snapshotID, snapshot.FileName)
	dump, err := snapshot.Read(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			r.logger().Warn("snapshot not found, skipping", zap.String("path", path))
			return 0, nil
		}
		return 0, err
	}
	if err := r.store.LoadAll(ctx, dump); err != nil {
		return 0, errors.Wrap(err, "load snapshot")
	}
	r.logger().Info("loaded snapshot", zap.Int("keys", len(dump)), zap.String("snapshot", snapshotID))
	return len(dump), nil
}

// Replay applies every journal entry after fromOffset. Apply is idempotent,
// so keys already in the ledger are counted as skipped.
func (r *Restorer) Replay(ctx context.Context, src journal.Scanner, fromOffset int64) (Result, error) {
	var res Result
	err := src.Scan(ctx, func(offset int64, e journal.Entry) error {
		if offset <= fromOffset {
			return nil
		}
		for _, key := range e.Keys {
			kind, orderRef, ok := ledger.ParseKey(key)
			if !ok {
				kind = e.Kind
			}
			applied, err := r.store.Apply(ctx, key, ledger.Entry{Kind: kind, OrderID: orderRef, RunID: e.RunID, SentAt: e.TS})
			if err != nil {
				return errors.Wrapf(err, "apply %s at offset %d", key, offset)
			}
			if applied {
				res.Applied++
				if r.Metrics != nil {
					r.Metrics.ReplayApplied.Inc()
				}
			} else {
				res.Skipped++
				if r.Metrics != nil {
					r.Metrics.ReplaySkipped.Inc()
				}
			}
		}
		return nil
	})
	return res, err
}

// RestoreAndReplay reads the latest manifest, restores its snapshot and
// replays the journal from the manifest's offset.
func (r *Restorer) RestoreAndReplay(ctx context.Context, src journal.Scanner) (Result, error) {
	m, err := r.manifestReader.ReadLatest(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "read manifest")
	}
	n, err := r.RestoreFromSnapshot(ctx, m.SnapshotID)
	if err != nil {
		return Result{}, errors.Wrap(err, "restore snapshot")
	}
	res, err := r.Replay(ctx, src, m.LastJournalOffset)
	res.Restored = n
	if err != nil {
		return res, errors.Wrap(err, "replay journal")
	}
	return res, nil
}

func (r *Restorer) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
