package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseops/leaseverify/internal/ocr"
	"github.com/leaseops/leaseverify/internal/resilience"
	"github.com/leaseops/leaseverify/pkg/anthropic"
)

// fakeOCR returns canned text for any document.
type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) ExtractText(ctx context.Context, pdf []byte, pages ocr.PageSelector) (string, error) {
	return f.text, f.err
}

// fakeLLM returns canned responses and records requests.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
	requests  []anthropic.MessageRequest
}

func (f *fakeLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	text := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func newTestAdapter(o ocr.Extractor, llm anthropic.Client) *Adapter {
	a := NewAdapter(o, llm, "claude-sonnet-4-5-20250929", 1024)
	a.retry = resilience.RetryConfig{MaxAttempts: 1}
	return a
}

func TestAdapter_ExtractDocument(t *testing.T) {
	llm := &fakeLLM{responses: []string{"```json\n{\"Contract Number\":\"100/LO2024/5\",\"Rent\":\"1200\"}\n```"}}
	a := newTestAdapter(&fakeOCR{text: "lease text"}, llm)

	ex, err := a.ExtractDocument(context.Background(), Document{Name: "100_LO2024_5.pdf", Raw: []byte("%PDF")}, PromptLeasePDF)
	require.NoError(t, err)
	assert.Equal(t, "100/LO2024/5", ex.ContractNumber())
	assert.Equal(t, "1200", ex.Fields.GetString("Rent"))
	assert.Contains(t, llm.requests[0].Messages[0].Content, "lease text")
	assert.Equal(t, leaseSystemText, llm.requests[0].System[0].Text)
}

func TestAdapter_OCRFailure(t *testing.T) {
	a := newTestAdapter(&fakeOCR{err: eris.New("pdftotext exploded")}, &fakeLLM{})

	_, err := a.ExtractDocument(context.Background(), Document{Name: "doc.pdf"}, PromptLeasePDF)
	require.Error(t, err)

	var ef *resilience.ExtractionFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "doc.pdf", ef.Contract)
}

func TestAdapter_LLMFailure(t *testing.T) {
	a := newTestAdapter(&fakeOCR{text: "x"}, &fakeLLM{err: eris.New("api down")})

	_, err := a.ExtractDocument(context.Background(), Document{Name: "doc.pdf"}, PromptLeasePDF)
	var ef *resilience.ExtractionFailure
	require.ErrorAs(t, err, &ef)
}

func TestAdapter_NoBlockIsParseFailure(t *testing.T) {
	llm := &fakeLLM{responses: []string{"the document is illegible"}}
	a := newTestAdapter(&fakeOCR{text: "x"}, llm)

	_, err := a.ExtractDocument(context.Background(), Document{Name: "doc.pdf"}, PromptLeasePDF)
	var pf *resilience.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.Reason, "no structured block")
}

func TestAdapter_MissingContractNumberIsParseFailure(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"Tenant":"Acme"}`}}
	a := newTestAdapter(&fakeOCR{text: "x"}, llm)

	_, err := a.ExtractDocument(context.Background(), Document{Name: "doc.pdf"}, PromptLeasePDF)
	var pf *resilience.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.Reason, "Contract Number")
}

func TestAdapter_UnknownPrompt(t *testing.T) {
	a := newTestAdapter(&fakeOCR{text: "x"}, &fakeLLM{responses: []string{"{}"}})

	_, err := a.ExtractText(context.Background(), "doc", "text", "nonexistent_prompt")
	var ef *resilience.ExtractionFailure
	require.ErrorAs(t, err, &ef)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(Prompt{ID: "custom", System: "sys", Template: "%s"})

	p, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "sys", p.System)

	_, err = r.Get("missing")
	require.Error(t, err)
}

func TestAdapter_RetriesTransientLLMErrors(t *testing.T) {
	llm := &retryLLM{failures: 2}
	a := NewAdapter(&fakeOCR{text: "x"}, llm, "claude-sonnet-4-5-20250929", 1024)
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: 1, JitterFraction: 0}

	ex, err := a.ExtractText(context.Background(), "doc", "text", PromptLeasePDF)
	require.NoError(t, err)
	assert.Equal(t, "1", ex.ContractNumber())
	assert.Equal(t, 3, llm.calls)
}

// retryLLM fails with a transient error N times, then succeeds.
type retryLLM struct {
	failures int
	calls    int
}

func (f *retryLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, resilience.NewTransientError(eris.New("overloaded"), 529)
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"Contract Number":"1"}`}},
	}, nil
}
