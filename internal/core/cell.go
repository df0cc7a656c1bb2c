package core

import (
	"fmt"
	"math"
	"strconv"
)

// CellKind tags the value held by a Cell.
type CellKind uint8

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellOther
)

// Cell is one spreadsheet value. Readers never inspect the payload directly;
// String is the only conversion to text.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
	Value  any
}

func TextCell(s string) Cell {
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: CellText, Text: s}
}

func NumberCell(f float64) Cell { return Cell{Kind: CellNumber, Number: f} }

func OtherCell(v any) Cell {
	if v == nil {
		return Cell{}
	}
	return Cell{Kind: CellOther, Value: v}
}

// String renders the cell as text. Integral numbers render without a
// fractional part so that a code typed as 1234 reads back as "1234".
func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return c.Text
	case CellNumber:
		return formatNumber(c.Number)
	case CellOther:
		return fmt.Sprint(c.Value)
	default:
		return ""
	}
}

// IsEmpty reports whether the cell renders as the empty string.
func (c Cell) IsEmpty() bool { return c.String() == "" }

func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ClassifyRaw builds a Cell from a raw spreadsheet value. The value is only
// treated as a number when formatting it back yields the same text, so codes
// with leading zeros such as "0012" stay text.
func ClassifyRaw(raw string) Cell {
	if raw == "" {
		return Cell{}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && formatNumber(f) == raw {
		return NumberCell(f)
	}
	return TextCell(raw)
}

// cellAt returns row[i], or an empty cell when i is outside the row.
func cellAt(row []Cell, i int) Cell {
	if i < 0 || i >= len(row) {
		return Cell{}
	}
	return row[i]
}
