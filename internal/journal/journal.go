// Package journal is an append-only record of batches Braze accepted.
// Replaying it rebuilds the ledger.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"brazekit/internal/ledger"
)

// Entry describes one accepted batch.
type Entry struct {
	RunID string      `json:"runId"`
	Kind  ledger.Kind `json:"kind"`
	Batch int         `json:"batch"`
	Keys  []string    `json:"keys"`
	Count int         `json:"count"`
	TS    int64       `json:"ts"`
}

type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// Scanner feeds journal entries in append order. fn receives a 1-based offset.
type Scanner interface {
	Scan(ctx context.Context, fn func(offset int64, e Entry) error) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(ctx context.Context, e Entry) error {
	for _, w := range m.writers {
		if err := w.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FileName is the JSONL journal file inside the journal directory.
const FileName = "deliveries.jsonl"

type FileWriter struct {
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(_ context.Context, e Entry) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(&e); err != nil {
		return errors.Wrap(err, "encode")
	}
	return f.Sync()
}

// FileReader scans a JSONL journal file.
type FileReader struct {
	path string
}

func NewFileReader(path string) *FileReader { return &FileReader{path: path} }

// Scan calls fn for every entry in file order. A journal that was never
// written reads as empty.
func (r *FileReader) Scan(ctx context.Context, fn func(offset int64, e Entry) error) error {
	f, err := os.Open(r.path)
	if oserror.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	var line int64
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return errors.Wrapf(err, "unmarshal line %d", line)
		}
		if err := fn(line, e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "scan journal")
	}
	return nil
}

// Length counts entries in the scanner, used as the snapshot offset.
func Length(ctx context.Context, s Scanner) (int64, error) {
	var n int64
	err := s.Scan(ctx, func(offset int64, _ Entry) error {
		n = offset
		return nil
	})
	return n, err
}

// SplitBrokers turns a comma-separated bootstrap list into broker addresses.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
