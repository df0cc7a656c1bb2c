// Package xlsx reads source spreadsheets with excelize.
package xlsx

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/xuri/excelize/v2"
)

// Opener opens .xlsx workbooks from disk.
type Opener struct{}

// Open implements core.SourceOpener.
func (Opener) Open(path string) (core.Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidFormat, err)
	}
	wb := &Workbook{f: f, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		wb.date1904 = *props.Date1904
	}
	return wb, nil
}

// Workbook wraps an open excelize file.
type Workbook struct {
	f        *excelize.File
	date1904 bool

	// dateStyles caches whether a style ID carries a date or time format.
	dateStyles map[int]bool
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	return w.f.GetSheetList()
}

// Rows streams the named sheet from row 1.
func (w *Workbook) Rows(sheet string) (core.RowIterator, error) {
	if !slices.Contains(w.f.GetSheetList(), sheet) {
		return nil, fmt.Errorf("%w: %q", core.ErrSheetNotFound, sheet)
	}
	rows, err := w.f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("open rows of %q: %w", sheet, err)
	}
	return &RowIterator{wb: w, sheet: sheet, rows: rows}, nil
}

// Close releases the file and any temporary files excelize created.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// RowIterator adapts excelize.Rows to core.RowIterator.
type RowIterator struct {
	wb    *Workbook
	sheet string
	rows  *excelize.Rows
	row   int
}

func (it *RowIterator) Next() bool {
	if !it.rows.Next() {
		return false
	}
	it.row++
	return true
}

// Row returns the current row with trailing empty cells trimmed. Values are
// read raw, without number formats, and classified by core.ClassifyRaw.
// Raw values lose the cell type, so numeric values are checked once more:
// booleans read as True/False and date or time formatted serials read as
// "2006-01-02 15:04:05" or "15:04:05".
func (it *RowIterator) Row() ([]core.Cell, error) {
	cols, err := it.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	row := make([]core.Cell, len(cols))
	for i, v := range cols {
		cell := core.ClassifyRaw(v)
		if cell.Kind == core.CellNumber {
			if cell, err = it.typed(i+1, cell); err != nil {
				return nil, err
			}
		}
		row[i] = cell
	}
	return row, nil
}

func (it *RowIterator) Err() error { return it.rows.Error() }

func (it *RowIterator) Close() error { return it.rows.Close() }

// typed reinterprets a numeric cell using its stored type and number format.
func (it *RowIterator) typed(col int, cell core.Cell) (core.Cell, error) {
	ref, err := excelize.CoordinatesToCellName(col, it.row)
	if err != nil {
		return cell, err
	}

	typ, err := it.wb.f.GetCellType(it.sheet, ref)
	if err != nil {
		return cell, err
	}
	if typ == excelize.CellTypeBool {
		if cell.Number != 0 {
			return core.TextCell("True"), nil
		}
		return core.TextCell("False"), nil
	}

	styleID, err := it.wb.f.GetCellStyle(it.sheet, ref)
	if err != nil {
		return cell, err
	}
	isDate, err := it.wb.isDateStyle(styleID)
	if err != nil || !isDate {
		return cell, err
	}

	t, err := excelize.ExcelDateToTime(cell.Number, it.wb.date1904)
	if err != nil {
		// Out of the calendar range: keep the number.
		return cell, nil
	}
	if cell.Number >= 0 && cell.Number < 1 {
		return core.TextCell(t.Format(time.TimeOnly)), nil
	}
	return core.TextCell(t.Format(time.DateTime)), nil
}

// builtinDateFormats are the built-in number format IDs that render dates or
// times, including the East Asian locale variants.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

func (w *Workbook) isDateStyle(styleID int) (bool, error) {
	if styleID == 0 {
		return false, nil
	}
	if v, ok := w.dateStyles[styleID]; ok {
		return v, nil
	}
	style, err := w.f.GetStyle(styleID)
	if err != nil {
		return false, fmt.Errorf("read style %d: %w", styleID, err)
	}
	v := builtinDateFormats[style.NumFmt]
	if style.CustomNumFmt != nil {
		v = isDateFormatCode(*style.CustomNumFmt)
	}
	w.dateStyles[styleID] = v
	return v, nil
}

// isDateFormatCode reports whether a custom number format renders a date or
// time. Quoted literals, escaped characters and bracketed sections such as
// colors and locales are ignored; elapsed-time sections like [h] count.
func isDateFormatCode(code string) bool {
	code = strings.SplitN(code, ";", 2)[0]
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			j := strings.IndexByte(code[i+1:], '"')
			if j < 0 {
				i = len(code)
			} else {
				i += j + 1
			}
		case '\\', '_', '*':
			i++
		case '[':
			j := strings.IndexByte(code[i+1:], ']')
			if j < 0 {
				i = len(code)
				continue
			}
			inner := strings.ToLower(code[i+1 : i+1+j])
			if inner != "" && strings.Trim(inner, "hms") == "" {
				return true
			}
			i += j + 1
		default:
			b.WriteByte(c)
		}
	}
	return strings.ContainsAny(strings.ToLower(b.String()), "ymdhs")
}
