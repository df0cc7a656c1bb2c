package xlsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, sheet string, cells map[string]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			t.Fatalf("SetSheetName: %v", err)
		}
	}
	for ref, v := range cells {
		if err := f.SetCellValue(sheet, ref, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", ref, err)
		}
	}

	path := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestOpener_ReadsRows(t *testing.T) {
	path := writeWorkbook(t, "2026", map[string]any{
		"A1": "Title",
		"B3": "Imprimé",
		"C3": "Code EDI",
		"D3": "Libellé",
		"B4": 1234,
		"C4": "001A",
		"D4": "Some Label",
	})

	wb, err := Opener{}.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	if names := wb.SheetNames(); len(names) != 1 || names[0] != "2026" {
		t.Errorf("SheetNames = %v, want [2026]", names)
	}

	it, err := wb.Rows("2026")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer it.Close()

	var rows [][]core.Cell
	for it.Next() {
		row, err := it.Row()
		if err != nil {
			t.Fatalf("Row: %v", err)
		}
		rows = append(rows, row)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4 (empty row 2 included)", len(rows))
	}
	if len(rows[1]) != 0 {
		t.Errorf("row 2 = %v, want empty", rows[1])
	}
	if got := rows[2][1].String(); got != "Imprimé" {
		t.Errorf("B3 = %q, want Imprimé", got)
	}

	num := rows[3][1]
	if num.Kind != core.CellNumber || num.String() != "1234" {
		t.Errorf("B4 = %+v (%q), want number 1234", num, num.String())
	}
	if got := rows[3][2]; got.Kind != core.CellText || got.String() != "001A" {
		t.Errorf("C4 = %+v, want text 001A", got)
	}
}

func TestOpener_LeadingZeroTextStaysText(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", map[string]any{"A1": "0012"})

	wb, err := Opener{}.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	it, err := wb.Rows("Sheet1")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer it.Close()

	if !it.Next() {
		t.Fatal("no rows")
	}
	row, _ := it.Row()
	if got := row[0].String(); got != "0012" {
		t.Errorf("A1 = %q, want 0012", got)
	}
}

func TestOpener_TypedCells(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	dateFmt := "dd/mm/yyyy"
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt})
	if err != nil {
		t.Fatal(err)
	}
	decimalStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		t.Fatal(err)
	}

	for ref, v := range map[string]any{
		"A1": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"B1": true,
		"C1": false,
		"D1": 45292,
		"E1": 1234,
		"F1": 1234,
	} {
		if err := f.SetCellValue("Sheet1", ref, v); err != nil {
			t.Fatalf("SetCellValue(%s): %v", ref, err)
		}
	}
	if err := f.SetCellStyle("Sheet1", "D1", "D1", dateStyle); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellStyle("Sheet1", "E1", "E1", decimalStyle); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "typed.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	wb, err := Opener{}.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	it, err := wb.Rows("Sheet1")
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	defer it.Close()
	if !it.Next() {
		t.Fatal("no rows")
	}
	row, err := it.Row()
	if err != nil {
		t.Fatalf("Row: %v", err)
	}

	want := []string{"2024-01-01 00:00:00", "True", "False", "2024-01-01 00:00:00", "1234", "1234"}
	if len(row) != len(want) {
		t.Fatalf("got %d cells, want %d", len(row), len(want))
	}
	for i, w := range want {
		if got := row[i].String(); got != w {
			t.Errorf("cell %d = %q, want %q", i, got, w)
		}
	}
	if row[4].Kind != core.CellNumber || row[5].Kind != core.CellNumber {
		t.Errorf("plain numbers changed kind: %+v %+v", row[4], row[5])
	}
}

func TestIsDateFormatCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"dd/mm/yyyy", true},
		{"yyyy-mm-dd hh:mm", true},
		{"h:mm AM/PM", true},
		{"[h]:mm:ss", true},
		{"[$-40C]d mmmm yyyy", true},
		{"General", false},
		{"0.00", false},
		{"#,##0 \"jours\"", false},
		{"[Red]#,##0.00", false},
		{"0.00E+00", false},
		{"@", false},
	}
	for _, tt := range tests {
		if got := isDateFormatCode(tt.code); got != tt.want {
			t.Errorf("isDateFormatCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestOpener_MissingSheet(t *testing.T) {
	path := writeWorkbook(t, "2025", map[string]any{"A1": "x"})

	wb, err := Opener{}.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wb.Close()

	if _, err := wb.Rows("2026"); !errors.Is(err, core.ErrSheetNotFound) {
		t.Errorf("Rows(missing) = %v, want ErrSheetNotFound", err)
	}
}

func TestOpener_InvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	if err := os.WriteFile(path, []byte("not a zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (Opener{}).Open(path); !errors.Is(err, core.ErrInvalidFormat) {
		t.Errorf("Open(garbage) = %v, want ErrInvalidFormat", err)
	}
}
