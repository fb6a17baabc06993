// Package reconcile builds field-by-field comparison tables across the
// extraction sources of a contract.
package reconcile

import (
	"github.com/leaseops/leaseverify/internal/model"
)

// Source is one named field map entering a comparison. Order of sources
// matters: the first source anchors row ordering and column order in the
// rendered table.
type Source struct {
	Name   string
	Fields *model.FieldMap
}

// Options tune comparison semantics.
type Options struct {
	// StrictAbsent treats a field missing from any source as a mismatch.
	// By default absent fields are ignored and only sources that report
	// a field must agree on it.
	StrictAbsent bool
}

// Compare builds a comparison table over the union of fields across all
// sources. Rows appear in first-seen order walking the sources in the
// given order. A field a source does not report renders as the absent
// marker. With a single source every row matches trivially.
func Compare(sources []Source, opts Options) model.ComparisonTable {
	var order []string
	seen := make(map[string]bool)
	for _, src := range sources {
		for _, k := range src.Fields.Keys() {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	table := make(model.ComparisonTable, 0, len(order))
	for _, field := range order {
		row := model.ComparisonRow{
			Field:  field,
			Values: make(map[string]string, len(sources)),
			Match:  true,
		}

		var ref *model.Value
		for _, src := range sources {
			v, ok := src.Fields.Get(field)
			if !ok {
				row.Values[src.Name] = model.Absent
				if opts.StrictAbsent {
					row.Match = false
				}
				continue
			}
			row.Values[src.Name] = v.String()
			if ref == nil {
				refVal := v
				ref = &refVal
				continue
			}
			if !ref.Equal(v) {
				row.Match = false
			}
		}

		table = append(table, row)
	}
	return table
}

// OverallStatus collapses a comparison table and a validation table into
// a single pass or fail verdict.
func OverallStatus(cmp model.ComparisonTable, val model.ValidationTable) string {
	if cmp.AllMatch() && val.AllValid() {
		return model.StatusPassed
	}
	return model.StatusFailed
}
