// Package ocr turns PDF document bytes into plain text, either via the
// local pdftotext binary or the Mistral OCR API.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/leaseops/leaseverify/internal/config"
)

// PageSelector restricts extraction to a subset of pages. The zero value
// selects all pages.
type PageSelector struct {
	Pages []int // 1-based page numbers; empty means all
}

// AllPages selects the whole document.
func AllPages() PageSelector { return PageSelector{} }

// PageList selects an explicit set of 1-based pages.
func PageList(pages ...int) PageSelector { return PageSelector{Pages: pages} }

// All reports whether the selector covers the whole document.
func (s PageSelector) All() bool { return len(s.Pages) == 0 }

// Extractor extracts text content from PDF document bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte, pages PageSelector) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
