package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"brazekit/internal/ledger"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// The table is append-only; the autoincrement id is the replay offset.
const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT    NOT NULL,
    kind         TEXT    NOT NULL,
    batch        INTEGER NOT NULL,
    record_keys  TEXT    NOT NULL,
    record_count INTEGER NOT NULL,
    ts           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id, batch);
`

// SQLiteJournal stores entries in a local SQLite file and can replay them.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "sqlite: mkdir")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite: open %q", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: apply schema")
	}
	return &SQLiteJournal{db: db}, nil
}

func (s *SQLiteJournal) Close() error { return s.db.Close() }

func (s *SQLiteJournal) Append(ctx context.Context, e Entry) error {
	keys, err := json.Marshal(e.Keys)
	if err != nil {
		return errors.Wrap(err, "marshal keys")
	}
	const q = `INSERT INTO deliveries (run_id, kind, batch, record_keys, record_count, ts) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.RunID, string(e.Kind), e.Batch, string(keys), e.Count, e.TS); err != nil {
		return errors.Wrapf(err, "sqlite: append run %q batch %d", e.RunID, e.Batch)
	}
	return nil
}

func (s *SQLiteJournal) Scan(ctx context.Context, fn func(offset int64, e Entry) error) error {
	const q = `SELECT id, run_id, kind, batch, record_keys, record_count, ts FROM deliveries ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return errors.Wrap(err, "sqlite: scan")
	}
	defer rows.Close()

	// Collect first: fn may write back to the same single-connection pool.
	type row struct {
		id int64
		e  Entry
	}
	var all []row
	for rows.Next() {
		var (
			r    row
			kind string
			keys string
		)
		if err := rows.Scan(&r.id, &r.e.RunID, &kind, &r.e.Batch, &keys, &r.e.Count, &r.e.TS); err != nil {
			return errors.Wrap(err, "sqlite: scan row")
		}
		r.e.Kind = ledger.Kind(kind)
		if err := json.Unmarshal([]byte(keys), &r.e.Keys); err != nil {
			return errors.Wrapf(err, "sqlite: keys of row %d", r.id)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range all {
		if err := fn(r.id, r.e); err != nil {
			return err
		}
	}
	return nil
}
