// Package sqlite is the embedded index store, backed by modernc.org/sqlite.
//
// The database runs in WAL mode: a rebuild transaction writes while readers
// keep reading the last committed generation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/tdfc/internal/core"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	seq   INTEGER PRIMARY KEY,
	key_a TEXT NOT NULL,
	key_b TEXT NOT NULL,
	label TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_key ON entries (key_a, key_b, seq);
`

const sigKey = "file_sig"

// Store implements core.IndexStore on a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.StorageError("open", err)
	}
	db.SetMaxOpenConns(8)

	return &Store{db: db}, nil
}

// Init creates the tables when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return core.StorageError("init schema", err)
	}
	return nil
}

// StoredSignature returns the committed signature, or "" when none.
func (s *Store) StoredSignature(ctx context.Context) (core.Signature, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, sigKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", core.StorageError("read signature", err)
	}
	return core.Signature(v), nil
}

// BeginRebuild starts the rebuild transaction: entries and meta are cleared
// and sig is written, all uncommitted.
func (s *Store) BeginRebuild(ctx context.Context, sig core.Signature) (core.RebuildTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.StorageError("begin rebuild", err)
	}

	for _, q := range []struct {
		op   string
		sql  string
		args []any
	}{
		{"clear entries", `DELETE FROM entries`, nil},
		{"clear meta", `DELETE FROM meta`, nil},
		{"write signature", `INSERT INTO meta (key, value) VALUES (?, ?)`, []any{sigKey, string(sig)}},
	} {
		if _, err := tx.ExecContext(ctx, q.sql, q.args...); err != nil {
			_ = tx.Rollback()
			return nil, core.StorageError(q.op, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (seq, key_a, key_b, label) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return nil, core.StorageError("prepare insert", err)
	}

	return &rebuildTx{tx: tx, insert: stmt}, nil
}

type rebuildTx struct {
	tx     *sql.Tx
	insert *sql.Stmt
	seq    int64
	done   bool
}

func (t *rebuildTx) WriteBatch(ctx context.Context, entries []core.Entry) error {
	for _, e := range entries {
		t.seq++
		if _, err := t.insert.ExecContext(ctx, t.seq, e.KeyA, e.KeyB, e.Label); err != nil {
			return core.StorageError("insert entries", err)
		}
	}
	return nil
}

func (t *rebuildTx) Commit(context.Context) error {
	if t.done {
		return core.StorageError("commit", sql.ErrTxDone)
	}
	_ = t.insert.Close()
	if err := t.tx.Commit(); err != nil {
		return core.StorageError("commit", err)
	}
	t.done = true
	return nil
}

func (t *rebuildTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	_ = t.insert.Close()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return core.StorageError("rollback", err)
	}
	return nil
}

// First returns the label of the first entry for the key in insertion order.
func (s *Store) First(ctx context.Context, keyA, keyB string) (string, bool, error) {
	var label string
	err := s.db.QueryRowContext(ctx,
		`SELECT label FROM entries WHERE key_a = ? AND key_b = ? ORDER BY seq LIMIT 1`,
		keyA, keyB,
	).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, core.StorageError("first", err)
	}
	return label, true, nil
}

// All returns every label for the key in insertion order.
func (s *Store) All(ctx context.Context, keyA, keyB string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label FROM entries WHERE key_a = ? AND key_b = ? ORDER BY seq`,
		keyA, keyB,
	)
	if err != nil {
		return nil, core.StorageError("all", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, core.StorageError("all", err)
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, core.StorageError("all", err)
	}
	return labels, nil
}

// Snapshot reads the signature and entry count inside one read transaction.
func (s *Store) Snapshot(ctx context.Context) (core.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	defer tx.Rollback()

	var snap core.Snapshot
	var sig sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, sigKey).Scan(&sig)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	snap.Signature = core.Signature(sig.String)

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&snap.Entries); err != nil {
		return core.Snapshot{}, core.StorageError("snapshot", err)
	}
	return snap, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
