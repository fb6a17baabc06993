package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseops/leaseverify/internal/model"
)

const testRules = `
rules:
  - field: "Contract Number"
    required: true
    pattern: '^\d+/LO\d{4}/\d+$'
  - field: "Lease Type"
    one_of: ["commercial", "residential"]
  - field: "Area"
    min: 1
    max: 10000
  - field: "Start Date"
    date_format: "2006-01-02"
  - field: "Notes"
    max_len: 10
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	rs, err := Parse([]byte(testRules))
	require.NoError(t, err)
	return NewEngine(rs)
}

func rowFor(t *testing.T, table model.ValidationTable, field string) model.ValidationRow {
	t.Helper()
	for _, r := range table {
		if r.Field == field {
			return r
		}
	}
	t.Fatalf("no row for %s", field)
	return model.ValidationRow{}
}

func TestValidatePassing(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Lease Type", "Commercial")
	fm.SetString("Area", "120")
	fm.SetString("Start Date", "2024-03-01")

	table := testEngine(t).Validate(fm)
	assert.True(t, table.AllValid())
	require.Len(t, table, 4)
}

func TestValidatePatternFailure(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "LO-2024-5")

	table := testEngine(t).Validate(fm)
	row := rowFor(t, table, "Contract Number")
	assert.False(t, row.Valid)
	assert.Contains(t, row.Reason, "pattern")
}

func TestValidateOneOf(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Lease Type", "industrial")

	table := testEngine(t).Validate(fm)
	row := rowFor(t, table, "Lease Type")
	assert.False(t, row.Valid)
	assert.Contains(t, row.Reason, "not one of")
}

func TestValidateNumericRange(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Area", "0")

	table := testEngine(t).Validate(fm)
	assert.False(t, rowFor(t, table, "Area").Valid)

	fm.SetString("Area", "not a number")
	table = testEngine(t).Validate(fm)
	row := rowFor(t, table, "Area")
	assert.False(t, row.Valid)
	assert.Equal(t, "not numeric", row.Reason)
}

func TestValidateDateFormat(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Start Date", "01.03.2024")

	table := testEngine(t).Validate(fm)
	assert.False(t, rowFor(t, table, "Start Date").Valid)
}

func TestValidateMaxLen(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Notes", "this note is far too long")

	table := testEngine(t).Validate(fm)
	assert.False(t, rowFor(t, table, "Notes").Valid)
}

func TestValidateNoRuleApplied(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Landlord", "City Holdings")

	table := testEngine(t).Validate(fm)
	row := rowFor(t, table, "Landlord")
	assert.True(t, row.Valid)
	assert.Equal(t, "no rule applied", row.Reason)
}

func TestValidateRequiredMissing(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Tenant", "Acme")

	table := testEngine(t).Validate(fm)
	row := rowFor(t, table, "Contract Number")
	assert.False(t, row.Valid)
	assert.Equal(t, model.Absent, row.Value)
	assert.Equal(t, "required field missing", row.Reason)
}

func TestValidateOptionalEmpty(t *testing.T) {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Start Date", "")

	table := testEngine(t).Validate(fm)
	assert.True(t, rowFor(t, table, "Start Date").Valid)
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 5)
}

func TestParseRejectsBadPattern(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - field: X\n    pattern: '['\n"))
	require.Error(t, err)
}

func TestParseRejectsMissingField(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - required: true\n"))
	require.Error(t, err)
}
