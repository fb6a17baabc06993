// Package extract turns raw document bytes or text snapshots into ordered
// field maps via OCR and LLM extraction.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/ocr"
	"github.com/leaseops/leaseverify/internal/resilience"
	"github.com/leaseops/leaseverify/pkg/anthropic"
)

// fieldContractNumber must be present in every extraction for the result
// to be addressable.
const fieldContractNumber = "Contract Number"

// Document is one source document awaiting extraction.
type Document struct {
	Name  string
	Raw   []byte
	Pages ocr.PageSelector
}

// Extraction is the parsed output of one extraction call.
type Extraction struct {
	RawText string
	Fields  *model.FieldMap
	Usage   anthropic.TokenUsage
}

// ContractNumber returns the canonical contract number of the extraction.
func (e *Extraction) ContractNumber() string {
	return e.Fields.GetString(fieldContractNumber)
}

// Adapter wraps the OCR and LLM capabilities behind the pipeline's
// extraction boundary.
type Adapter struct {
	ocr       ocr.Extractor
	llm       anthropic.Client
	registry  *Registry
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewAdapter creates an extraction adapter.
func NewAdapter(ocrExt ocr.Extractor, llm anthropic.Client, llmModel string, maxTokens int64) *Adapter {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Adapter{
		ocr:       ocrExt,
		llm:       llm,
		registry:  NewRegistry(),
		model:     llmModel,
		maxTokens: maxTokens,
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Registry exposes the prompt registry for template overrides.
func (a *Adapter) Registry() *Registry { return a.registry }

// ExtractDocument runs OCR over the document bytes and extracts fields
// with the named prompt template.
func (a *Adapter) ExtractDocument(ctx context.Context, doc Document, promptID string) (*Extraction, error) {
	text, err := a.ocr.ExtractText(ctx, doc.Raw, doc.Pages)
	if err != nil {
		return nil, &resilience.ExtractionFailure{Contract: doc.Name, Err: err}
	}
	return a.ExtractText(ctx, doc.Name, text, promptID)
}

// ExtractText extracts fields from already-textual content (a portal
// record snapshot, OCR output) with the named prompt template.
func (a *Adapter) ExtractText(ctx context.Context, name, text, promptID string) (*Extraction, error) {
	prompt, err := a.registry.Get(promptID)
	if err != nil {
		return nil, &resilience.ExtractionFailure{Contract: name, Err: err}
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    anthropic.BuildCachedSystemBlocks(prompt.System),
			Messages: []anthropic.Message{
				{Role: "user", Content: fmt.Sprintf(prompt.Template, text)},
			},
		})
	})
	if err != nil {
		return nil, &resilience.ExtractionFailure{Contract: name, Err: err}
	}

	raw := resp.Text()
	fields, err := ParseBlock(raw)
	if err != nil {
		return nil, &resilience.ParseFailure{Contract: name, Reason: err.Error()}
	}
	if fields.GetString(fieldContractNumber) == "" {
		return nil, &resilience.ParseFailure{Contract: name, Reason: "structured block has no Contract Number"}
	}

	zap.L().Debug("extraction complete",
		zap.String("document", name),
		zap.String("prompt", promptID),
		zap.Int("fields", fields.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	resp.Usage.LogCost(a.model, "extract:"+promptID)

	return &Extraction{RawText: raw, Fields: fields, Usage: resp.Usage}, nil
}
