package core

import (
	"context"
	"time"
)

// Signature is a cheap change-detection token for the source spreadsheet.
// The zero value means "no source"; it never equals a real signature.
type Signature string

// IsZero reports whether s is the absent signature.
func (s Signature) IsZero() bool { return s == "" }

// Entry is one indexed row. KeyA and KeyB are normalized; Label is the
// trimmed source text.
type Entry struct {
	KeyA  string
	KeyB  string
	Label string
}

// Snapshot is the store state observed in one read transaction.
type Snapshot struct {
	Signature Signature
	Entries   int
}

// IndexStore is the durable derived index. Implementations must make
// BeginRebuild + WriteBatch + Commit a single transaction: readers see either
// the previous signature and entries or the new ones, never a mix.
type IndexStore interface {
	// Init creates the meta and entries tables when missing.
	Init(ctx context.Context) error

	// StoredSignature returns the signature of the committed index, or the
	// zero Signature when nothing has been built.
	StoredSignature(ctx context.Context) (Signature, error)

	// BeginRebuild opens a transaction that has already cleared all entries
	// and recorded sig as the pending signature.
	BeginRebuild(ctx context.Context, sig Signature) (RebuildTx, error)

	// First returns the label of the first entry for (keyA, keyB) in
	// insertion order.
	First(ctx context.Context, keyA, keyB string) (string, bool, error)

	// All returns every label for (keyA, keyB) in insertion order.
	All(ctx context.Context, keyA, keyB string) ([]string, error)

	// Snapshot reads the signature and entry count consistently.
	Snapshot(ctx context.Context) (Snapshot, error)

	Close() error
}

// RebuildTx is an open rebuild transaction.
// Rollback after Commit is a no-op.
type RebuildTx interface {
	WriteBatch(ctx context.Context, entries []Entry) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SourceOpener opens spreadsheets. Implemented by the xlsx package.
type SourceOpener interface {
	Open(path string) (Workbook, error)
}

// Workbook is an opened spreadsheet.
type Workbook interface {
	SheetNames() []string
	// Rows streams the named sheet from its first row. It returns
	// ErrSheetNotFound when the sheet does not exist.
	Rows(sheet string) (RowIterator, error)
	Close() error
}

// RowIterator walks a sheet one row at a time, in sheet order. Rows with no
// populated cells are still yielded (as empty slices) so row numbers stay
// aligned with the sheet.
type RowIterator interface {
	Next() bool
	Row() ([]Cell, error)
	Err() error
	Close() error
}

// LookupMode selects between first-match and all-matches queries.
type LookupMode string

const (
	ModeSingle LookupMode = "single"
	ModeAll    LookupMode = "all"
)

// LookupRequest is a point query over the compound key. KeyA and KeyB are
// raw user input; they are normalized before matching.
type LookupRequest struct {
	Sheet string // defaults to the configured sheet
	KeyA  string
	KeyB  string
	Mode  LookupMode
}

// LookupResult is the answer to a LookupRequest. Label is set in single mode,
// Labels in all mode.
type LookupResult struct {
	Found  bool
	Label  string
	Labels []string
}

// RebuildSummary reports what a rebuild scanned, skipped and indexed.
type RebuildSummary struct {
	RebuildID         string        `json:"rebuildId"`
	Sheet             string        `json:"sheet"`
	Signature         Signature     `json:"signature"`
	HeaderRow         int           `json:"headerRow"`
	RowsScanned       int           `json:"rowsScanned"`
	RowsIndexed       int           `json:"rowsIndexed"`
	SkippedOutOfRange int           `json:"skippedOutOfRange"`
	SkippedEmptyKey   int           `json:"skippedEmptyKey"`
	SkippedEmptyLabel int           `json:"skippedEmptyLabel"`
	Batches           int           `json:"batches"`
	StartedAt         time.Time     `json:"startedAt"`
	Duration          time.Duration `json:"duration"`
}

// Skipped returns the total number of data rows that were not indexed.
func (s RebuildSummary) Skipped() int {
	return s.SkippedOutOfRange + s.SkippedEmptyKey + s.SkippedEmptyLabel
}

// IndexStatus describes the index relative to the current source file.
type IndexStatus struct {
	Sheet         string          `json:"sheet"`
	SourcePath    string          `json:"sourcePath"`
	SourcePresent bool            `json:"sourcePresent"`
	Current       Signature       `json:"currentSignature"`
	Stored        Signature       `json:"storedSignature"`
	Fresh         bool            `json:"fresh"`
	Entries       int             `json:"entries"`
	LastRebuild   *RebuildSummary `json:"lastRebuild,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}
