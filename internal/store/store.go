// Package store persists contract verification results keyed by the
// sanitized contract key. Writes are merge-writes: each save touches only
// the columns it carries, so a comparison save never clobbers an earlier
// validation save and vice versa.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/leaseops/leaseverify/internal/model"
)

// ErrNotFound is returned by Fetch when no result exists for a key.
var ErrNotFound = eris.New("store: contract not found")

// ComparisonPayload is the column set written by a comparison save.
type ComparisonPayload struct {
	PDFExtracted *model.FieldMap       `json:"pdf_extracted,omitempty"`
	WebExtracted *model.FieldMap       `json:"web_extracted,omitempty"`
	Compare      model.ComparisonTable `json:"compare_result"`
	LeaseType    string                `json:"lease_type,omitempty"`
	TenantType   string                `json:"tenant_type,omitempty"`
	PopupURL     string                `json:"popup_url,omitempty"`
}

// ResultFilter specifies criteria for listing results.
type ResultFilter struct {
	WorkflowStatus string `json:"workflow_status,omitempty"`
	LeadStatus     string `json:"lead_status,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for verification results.
// Every write is idempotent per contract key: re-running a contract
// overwrites the same columns rather than appending new rows.
type Store interface {
	// UpsertComparison creates the result row on first save and
	// replaces the extraction and comparison columns on re-runs.
	UpsertComparison(ctx context.Context, contractKey string, p ComparisonPayload) error

	// UpsertValidation writes one validation table, selected by kind,
	// leaving every other column untouched.
	UpsertValidation(ctx context.Context, contractKey string, kind model.ValidationKind, table model.ValidationTable) error

	// Status patches. Both create the row if it does not exist yet.
	PatchWorkflowStatus(ctx context.Context, contractKey, status string) error
	PatchLeadStatus(ctx context.Context, contractKey, status string) error

	// Fetch returns the stored result or ErrNotFound.
	Fetch(ctx context.Context, contractKey string) (*model.ContractResult, error)
	List(ctx context.Context, filter ResultFilter) ([]model.ContractResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// validationColumn maps a validation kind to its storage column. Kinds
// outside this map are rejected before any SQL is built.
func validationColumn(kind model.ValidationKind) (string, error) {
	switch kind {
	case model.ValidationPrimary:
		return "validation_result", nil
	case model.ValidationWeb:
		return "web_validation_result", nil
	case model.ValidationMeter:
		return "meter_validation_result", nil
	default:
		return "", eris.Errorf("store: unknown validation kind %q", kind)
	}
}
