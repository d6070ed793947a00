// Package snapshot dumps a ledger to disk so it can be restored elsewhere.
package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"brazekit/internal/ledger"
)

// FileName is the dump written inside each snapshot directory.
const FileName = "ledger.json"

type Snapshotter interface {
	WriteSnapshot(ctx context.Context, snapshotID string, st ledger.Store) (int, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// Path returns where the snapshot with the given id lives.
func (f *FilesystemSnapshotter) Path(snapshotID string) string {
	return filepath.Join(f.baseDir, snapshotID, FileName)
}

// WriteSnapshot writes every ledger entry and returns how many were written.
// The file is written to a temp name and renamed, so readers never see a partial dump.
func (f *FilesystemSnapshotter) WriteSnapshot(ctx context.Context, snapshotID string, st ledger.Store) (int, error) {
	if snapshotID == "" {
		return 0, errors.New("snapshot id is empty")
	}
	dump := make(map[string]ledger.Entry)
	if err := st.Range(ctx, func(key string, e ledger.Entry) error {
		dump[key] = e
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "range ledger")
	}

	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp := f.Path(snapshotID) + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, errors.Wrap(err, "create")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		_ = out.Close()
		return 0, errors.Wrap(err, "encode")
	}
	if err := out.Close(); err != nil {
		return 0, errors.Wrap(err, "close")
	}
	if err := os.Rename(tmp, f.Path(snapshotID)); err != nil {
		return 0, errors.Wrap(err, "rename")
	}
	return len(dump), nil
}

// Read loads a snapshot written by WriteSnapshot.
func Read(path string) (map[string]ledger.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	var dump map[string]ledger.Entry
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, errors.Wrapf(err, "unmarshal snapshot %s", path)
	}
	return dump, nil
}
