// Package excel reads the spreadsheet source: one row per contract, the
// header row naming the fields.
package excel

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/leaseops/leaseverify/internal/model"
)

// Reader looks up contract rows in an XLSX workbook.
type Reader struct {
	path      string
	sheet     string
	keyColumn string
}

// NewReader creates a Reader over the workbook at path. sheet selects a
// sheet by name (empty means the first sheet); keyColumn names the header
// of the contract-number column.
func NewReader(path, sheet, keyColumn string) *Reader {
	if keyColumn == "" {
		keyColumn = "Contract Number"
	}
	return &Reader{path: path, sheet: sheet, keyColumn: keyColumn}
}

// Lookup returns the field map for the row whose key column equals the
// given contract number (canonical "/" form, matched ignoring
// surrounding whitespace). The second return is false when no row
// matches.
func (r *Reader) Lookup(contractNumber string) (*model.FieldMap, bool, error) {
	f, err := xlsx.OpenFile(r.path)
	if err != nil {
		return nil, false, eris.Wrap(err, "excel: open workbook")
	}

	sheet, err := r.getSheet(f)
	if err != nil {
		return nil, false, err
	}
	if len(sheet.Rows) == 0 {
		return nil, false, nil
	}

	header := rowToStrings(sheet.Rows[0])
	keyIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), r.keyColumn) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, false, eris.Errorf("excel: key column %q not found in header", r.keyColumn)
	}

	want := strings.TrimSpace(contractNumber)
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if keyIdx >= len(cells) || strings.TrimSpace(cells[keyIdx]) != want {
			continue
		}

		fm := model.NewFieldMap()
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			value := ""
			if i < len(cells) {
				value = strings.TrimSpace(cells[i])
			}
			fm.SetString(name, value)
		}
		return fm, true, nil
	}

	return nil, false, nil
}

// SheetNames lists the sheets of the workbook.
func (r *Reader) SheetNames() ([]string, error) {
	f, err := xlsx.OpenFile(r.path)
	if err != nil {
		return nil, eris.Wrap(err, "excel: open workbook")
	}
	names := make([]string, len(f.Sheets))
	for i, s := range f.Sheets {
		names[i] = s.Name
	}
	return names, nil
}

func (r *Reader) getSheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if r.sheet != "" {
		sheet, ok := f.Sheet[r.sheet]
		if !ok {
			return nil, eris.Errorf("excel: sheet %q not found", r.sheet)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("excel: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
