package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memStore is an IndexStore that keeps staged entries private to the
// transaction until Commit, like the SQL stores.
type memStore struct {
	mu      sync.RWMutex
	sig     Signature
	entries []Entry

	begins    atomic.Int32
	commits   atomic.Int32
	rollbacks atomic.Int32
	reads     atomic.Int32

	commitErr error
}

func (m *memStore) Init(context.Context) error { return nil }

func (m *memStore) StoredSignature(context.Context) (Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sig, nil
}

func (m *memStore) BeginRebuild(_ context.Context, sig Signature) (RebuildTx, error) {
	m.begins.Add(1)
	return &memTx{store: m, sig: sig}, nil
}

func (m *memStore) First(_ context.Context, a, b string) (string, bool, error) {
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.KeyA == a && e.KeyB == b {
			return e.Label, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) All(_ context.Context, a, b string) ([]string, error) {
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, e := range m.entries {
		if e.KeyA == a && e.KeyB == b {
			out = append(out, e.Label)
		}
	}
	return out, nil
}

func (m *memStore) Snapshot(context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Signature: m.sig, Entries: len(m.entries)}, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshotEntries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

type memTx struct {
	store  *memStore
	sig    Signature
	staged []Entry
	done   bool
}

func (t *memTx) WriteBatch(_ context.Context, entries []Entry) error {
	if t.done {
		return errors.New("transaction closed")
	}
	t.staged = append(t.staged, entries...)
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction closed")
	}
	if t.store.commitErr != nil {
		return StorageError("commit", t.store.commitErr)
	}
	t.done = true
	t.store.mu.Lock()
	t.store.sig = t.sig
	t.store.entries = t.staged
	t.store.mu.Unlock()
	t.store.commits.Add(1)
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.done = true
		t.store.rollbacks.Add(1)
	}
	return nil
}

// memOpener serves in-memory sheets regardless of the file contents.
type memOpener struct {
	mu      sync.Mutex
	sheets  map[string][][]Cell
	openErr error
	opens   atomic.Int32
}

func newMemOpener(sheets map[string][][]Cell) *memOpener {
	return &memOpener{sheets: sheets}
}

func (o *memOpener) set(sheet string, rows [][]Cell) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sheets[sheet] = rows
}

func (o *memOpener) Open(string) (Workbook, error) {
	o.opens.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	cp := make(map[string][][]Cell, len(o.sheets))
	for k, v := range o.sheets {
		cp[k] = v
	}
	return &memWorkbook{sheets: cp}, nil
}

type memWorkbook struct {
	sheets map[string][][]Cell
}

func (w *memWorkbook) SheetNames() []string {
	names := make([]string, 0, len(w.sheets))
	for k := range w.sheets {
		names = append(names, k)
	}
	return names
}

func (w *memWorkbook) Rows(sheet string) (RowIterator, error) {
	rows, ok := w.sheets[sheet]
	if !ok {
		return nil, ErrSheetNotFound
	}
	return &memRows{rows: rows, i: -1}, nil
}

func (w *memWorkbook) Close() error { return nil }

type memRows struct {
	rows [][]Cell
	i    int
}

func (r *memRows) Next() bool {
	r.i++
	return r.i < len(r.rows)
}

func (r *memRows) Row() ([]Cell, error) { return r.rows[r.i], nil }
func (r *memRows) Err() error            { return nil }
func (r *memRows) Close() error          { return nil }

// texts builds a row of text cells; "" yields an empty cell.
func texts(vals ...string) []Cell {
	row := make([]Cell, len(vals))
	for i, v := range vals {
		row[i] = TextCell(v)
	}
	return row
}

// writeSource creates a placeholder source file and returns its path.
func writeSource(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "current.xlsx")
	if err := os.WriteFile(path, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

// touch moves the file's mtime forward so its stat signature changes.
func touch(t *testing.T, path string, by time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	mt := info.ModTime().Add(by)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// scenarioRows is the sheet used by the end-to-end lookup scenarios: two
// title rows, the header on row 3, then data.
func scenarioRows() [][]Cell {
	return [][]Cell{
		texts("Tableau de correspondance"),
		{},
		texts("Notes", "Imprimé", "Code EDI", "Libellé"),
		texts("x", "1234", "001A", "Some Label"),
	}
}
