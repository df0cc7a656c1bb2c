package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the number of entries written per batch during a rebuild.
const DefaultBatchSize = 3000

// IndexBuilder regenerates the index from the source spreadsheet.
type IndexBuilder struct {
	store     IndexStore
	opener    SourceOpener
	sigs      SignatureComputer
	locator   *HeaderLocator
	batchSize int
}

// NewIndexBuilder returns a builder writing to store.
func NewIndexBuilder(store IndexStore, opener SourceOpener, sigs SignatureComputer, locator *HeaderLocator, batchSize int) *IndexBuilder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &IndexBuilder{
		store:     store,
		opener:    opener,
		sigs:      sigs,
		locator:   locator,
		batchSize: batchSize,
	}
}

// Stage reads sheet from the source at path and writes every accepted row into
// a new rebuild transaction. On success the caller owns the returned
// transaction and must Commit or Rollback it; nothing is visible to readers
// before Commit. On failure the transaction has been rolled back.
//
// The returned summary carries the signature even on failure when it could be
// computed.
func (b *IndexBuilder) Stage(ctx context.Context, path, sheet string) (RebuildTx, RebuildSummary, error) {
	sum := RebuildSummary{
		RebuildID: uuid.NewString(),
		Sheet:     sheet,
		StartedAt: time.Now(),
	}

	sig, err := b.sigs.Compute(path, sheet)
	if err != nil {
		return nil, sum, err
	}
	if sig.IsZero() {
		return nil, sum, &ConfigurationError{Path: path, Err: ErrNoSource}
	}
	sum.Signature = sig

	wb, err := b.opener.Open(path)
	if err != nil {
		if !errors.Is(err, ErrInvalidFormat) {
			err = fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
		return nil, sum, &ConfigurationError{Path: path, Err: err}
	}
	defer wb.Close()

	rows, err := wb.Rows(sheet)
	if err != nil {
		if errors.Is(err, ErrSheetNotFound) {
			return nil, sum, &SchemaError{Sheet: sheet, Err: ErrSheetNotFound}
		}
		return nil, sum, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	tx, err := b.store.BeginRebuild(ctx, sig)
	if err != nil {
		return nil, sum, err
	}

	if err := b.fill(ctx, tx, sheet, rows, &sum); err != nil {
		_ = tx.Rollback(ctx)
		return nil, sum, err
	}
	return tx, sum, nil
}

// fill locates the header and streams the data rows after it into tx.
func (b *IndexBuilder) fill(ctx context.Context, tx RebuildTx, sheet string, rows RowIterator, sum *RebuildSummary) error {
	header, err := b.locator.Locate(sheet, rows)
	if err != nil {
		return err
	}
	sum.HeaderRow = header.Row

	colA := header.Column(FieldImprime)
	colB := header.Column(FieldCodeEDI)
	colLabel := header.Column(FieldLibelle)

	batch := make([]Entry, 0, b.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := tx.WriteBatch(ctx, batch); err != nil {
			return err
		}
		sum.Batches++
		batch = batch[:0]
		return nil
	}

	rowNum := header.Row
	for rows.Next() {
		rowNum++
		row, err := rows.Row()
		if err != nil {
			return fmt.Errorf("read row %d: %w", rowNum, err)
		}
		sum.RowsScanned++

		if colA >= len(row) || colB >= len(row) {
			sum.SkippedOutOfRange++
			continue
		}

		keyA := NormalizeCell(row[colA])
		keyB := NormalizeCell(row[colB])
		if keyA == "" || keyB == "" {
			sum.SkippedEmptyKey++
			continue
		}

		label := strings.TrimSpace(cellAt(row, colLabel).String())
		if label == "" {
			sum.SkippedEmptyLabel++
			continue
		}

		batch = append(batch, Entry{KeyA: keyA, KeyB: keyB, Label: label})
		sum.RowsIndexed++

		if len(batch) >= b.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return flush()
}
