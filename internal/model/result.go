package model

import "time"

// ComparisonRow records the per-source values for one field and whether
// they agree.
type ComparisonRow struct {
	Field  string            `json:"field"`
	Values map[string]string `json:"values"` // source name → rendered value or Absent
	Match  bool              `json:"match"`
}

// ComparisonTable is an ordered sequence of ComparisonRow, one per field
// in the union of the compared sources.
type ComparisonTable []ComparisonRow

// AllMatch reports whether every row in the table matches. An empty table
// matches trivially.
func (t ComparisonTable) AllMatch() bool {
	for _, r := range t {
		if !r.Match {
			return false
		}
	}
	return true
}

// ValidationRow records the business-rule verdict for one field.
type ValidationRow struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// ValidationTable is an ordered sequence of ValidationRow, one per field
// of the validated source map.
type ValidationTable []ValidationRow

// AllValid reports whether every row in the table is valid. An empty
// table is valid trivially.
func (t ValidationTable) AllValid() bool {
	for _, r := range t {
		if !r.Valid {
			return false
		}
	}
	return true
}

// ValidationKind distinguishes the per-source validation tables stored on
// a ContractResult.
type ValidationKind string

const (
	ValidationPrimary ValidationKind = "primary"
	ValidationWeb     ValidationKind = "web"
	ValidationMeter   ValidationKind = "meter"
)

// Overall status values derived from a comparison + validation pair.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// ContractResult is the persisted aggregate for one contract, keyed by
// sanitized contract key. It is created on the first comparison save,
// merged into by later validation saves and status patches, and never
// deleted by the pipeline.
type ContractResult struct {
	ContractID            string           `json:"contract_id"`
	Timestamp             time.Time        `json:"timestamp"`
	PDFExtracted          *FieldMap        `json:"pdf_extracted,omitempty"`
	WebExtracted          *FieldMap        `json:"web_extracted,omitempty"`
	CompareResult         ComparisonTable  `json:"compare_result,omitempty"`
	ValidationResult      ValidationTable  `json:"validation_result,omitempty"`
	WebValidationResult   ValidationTable  `json:"web_validation_result,omitempty"`
	MeterValidationResult ValidationTable  `json:"meter_validation_result,omitempty"`
	WorkflowStatus        string           `json:"workflow_status,omitempty"`
	LeadStatus            string           `json:"lead_status,omitempty"`
	LeaseType             string           `json:"lease_type,omitempty"`
	TenantType            string           `json:"tenant_type,omitempty"`
	PopupURL              string           `json:"popup_url,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Outcome is the terminal disposition of an intake file.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ResolveOutcome derives the terminal state for an intake file from its
// stored result. A missing result, or a result without both a comparison
// and a primary validation, is undetermined and resolves to Skipped.
func ResolveOutcome(r *ContractResult) Outcome {
	if r == nil || len(r.CompareResult) == 0 || len(r.ValidationResult) == 0 {
		return OutcomeSkipped
	}
	if r.CompareResult.AllMatch() && r.ValidationResult.AllValid() {
		return OutcomePassed
	}
	return OutcomeFailed
}
