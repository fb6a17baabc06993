package extract

import (
	"github.com/rotisserie/eris"
)

// Prompt is one named extraction template: a system prompt shared across
// a batch (and therefore cacheable) plus a per-document user template
// whose %s receives the document text.
type Prompt struct {
	ID       string
	System   string
	Template string
}

// Prompt template identifiers used by the pipeline.
const (
	PromptLeasePDF     = "lease_pdf"
	PromptPortalRecord = "portal_record"
	PromptMeterRecord  = "meter_record"
)

const leaseSystemText = `You are a contract analyst extracting structured fields from lease documents. Return a single JSON object with the field names exactly as they appear in the document. Always include a "Contract Number" field. Use null for fields not found.`

var builtinPrompts = map[string]Prompt{
	PromptLeasePDF: {
		ID:     PromptLeasePDF,
		System: leaseSystemText,
		Template: `Extract the lease contract fields from this scanned document.

Document text:
%s

Return one JSON object mapping each field name to its value.`,
	},
	PromptPortalRecord: {
		ID:     PromptPortalRecord,
		System: leaseSystemText,
		Template: `Extract the lease contract fields from this legacy portal record snapshot.

Record content:
%s

Return one JSON object mapping each field name to its value.`,
	},
	PromptMeterRecord: {
		ID:     PromptMeterRecord,
		System: leaseSystemText,
		Template: `Extract the meter and utility fields from this record.

Record content:
%s

Return one JSON object mapping each field name to its value.`,
	},
}

// Registry resolves prompt-template identifiers. Built-in templates can
// be overridden or extended via Register.
type Registry struct {
	prompts map[string]Prompt
}

// NewRegistry returns a Registry seeded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{prompts: make(map[string]Prompt, len(builtinPrompts))}
	for id, p := range builtinPrompts {
		r.prompts[id] = p
	}
	return r
}

// Register adds or replaces a prompt template.
func (r *Registry) Register(p Prompt) {
	r.prompts[p.ID] = p
}

// Get resolves a prompt ID.
func (r *Registry) Get(id string) (Prompt, error) {
	p, ok := r.prompts[id]
	if !ok {
		return Prompt{}, eris.Errorf("extract: unknown prompt template %q", id)
	}
	return p, nil
}
