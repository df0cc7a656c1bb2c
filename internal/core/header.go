package core

import "fmt"

// FieldID names a logical column of the source sheet.
type FieldID int

const (
	FieldImprime FieldID = iota
	FieldCodeEDI
	FieldLibelle
)

// LogicalField maps a logical column to the header titles accepted for it,
// in order of preference.
type LogicalField struct {
	ID      FieldID
	Name    string
	Aliases []string
}

// DefaultFields is the header table for the TDFC sheet. New spellings are
// added here; HeaderLocator reads the table generically.
var DefaultFields = []LogicalField{
	{ID: FieldImprime, Name: "imprimé", Aliases: []string{"imprimé", "imprime"}},
	{ID: FieldCodeEDI, Name: "code EDI", Aliases: []string{"code edi", "code_edi", "codeedi"}},
	{ID: FieldLibelle, Name: "libellé", Aliases: []string{"libellé", "libelle"}},
}

// DefaultHeaderScanRows is the header search window used when none is configured.
const DefaultHeaderScanRows = 40

// Header is the located header row. Row is 1-based; Columns are 0-based.
type Header struct {
	Row     int
	Columns map[FieldID]int
}

// Column returns the column index of field, or -1.
func (h Header) Column(id FieldID) int {
	if c, ok := h.Columns[id]; ok {
		return c
	}
	return -1
}

// HeaderLocator finds the header row in the first rows of a sheet.
type HeaderLocator struct {
	fields  []LogicalField
	aliases [][]string // normalized, parallel to fields
	maxRows int
}

// NewHeaderLocator returns a locator for fields scanning at most maxRows rows.
func NewHeaderLocator(fields []LogicalField, maxRows int) *HeaderLocator {
	if maxRows <= 0 {
		maxRows = DefaultHeaderScanRows
	}
	l := &HeaderLocator{
		fields:  fields,
		aliases: make([][]string, len(fields)),
		maxRows: maxRows,
	}
	for i, f := range fields {
		for _, a := range f.Aliases {
			l.aliases[i] = append(l.aliases[i], Normalize(a))
		}
	}
	return l
}

// MaxRows returns the size of the scan window.
func (l *HeaderLocator) MaxRows() int { return l.maxRows }

// Locate consumes rows from it until it finds the first row in the scan
// window where every field resolves. The iterator is left positioned on the
// header row, so the caller's next Next() yields the first data row.
func (l *HeaderLocator) Locate(sheet string, it RowIterator) (Header, error) {
	bestMissing := l.fieldNames()

	for r := 1; r <= l.maxRows && it.Next(); r++ {
		row, err := it.Row()
		if err != nil {
			return Header{}, fmt.Errorf("read row %d: %w", r, err)
		}

		cols, missing := l.match(row)
		if len(missing) == 0 {
			return Header{Row: r, Columns: cols}, nil
		}
		if len(missing) < len(bestMissing) {
			bestMissing = missing
		}
	}
	if err := it.Err(); err != nil {
		return Header{}, fmt.Errorf("read sheet: %w", err)
	}

	return Header{}, &SchemaError{Sheet: sheet, Missing: bestMissing, Err: ErrHeaderNotFound}
}

// match resolves each field against one row. The first column carrying a
// given normalized title wins.
func (l *HeaderLocator) match(row []Cell) (map[FieldID]int, []string) {
	titles := make(map[string]int, len(row))
	for i, c := range row {
		t := NormalizeCell(c)
		if t == "" {
			continue
		}
		if _, seen := titles[t]; !seen {
			titles[t] = i
		}
	}

	cols := make(map[FieldID]int, len(l.fields))
	var missing []string
	for i, f := range l.fields {
		found := false
		for _, alias := range l.aliases[i] {
			if c, ok := titles[alias]; ok {
				cols[f.ID] = c
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, f.Name)
		}
	}
	return cols, missing
}

func (l *HeaderLocator) fieldNames() []string {
	names := make([]string, 0, len(l.fields))
	for _, f := range l.fields {
		names = append(names, f.Name)
	}
	return names
}
