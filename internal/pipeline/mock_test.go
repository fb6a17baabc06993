package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/leaseops/leaseverify/internal/config"
	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/ocr"
	"github.com/leaseops/leaseverify/internal/portal"
	"github.com/leaseops/leaseverify/internal/store"
	"github.com/leaseops/leaseverify/internal/validate"
	"github.com/leaseops/leaseverify/pkg/anthropic"
)

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu            sync.Mutex
	results       map[string]*model.ContractResult
	comparisonErr error
	validationErr error
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]*model.ContractResult)}
}

func (m *memStore) get(key string) *model.ContractResult {
	r, ok := m.results[key]
	if !ok {
		r = &model.ContractResult{ContractID: key}
		m.results[key] = r
	}
	return r
}

func (m *memStore) UpsertComparison(_ context.Context, key string, p store.ComparisonPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.comparisonErr != nil {
		return m.comparisonErr
	}
	r := m.get(key)
	r.PDFExtracted = p.PDFExtracted
	r.WebExtracted = p.WebExtracted
	r.CompareResult = p.Compare
	r.LeaseType = p.LeaseType
	r.TenantType = p.TenantType
	r.PopupURL = p.PopupURL
	return nil
}

func (m *memStore) UpsertValidation(_ context.Context, key string, kind model.ValidationKind, table model.ValidationTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validationErr != nil {
		return m.validationErr
	}
	r := m.get(key)
	switch kind {
	case model.ValidationPrimary:
		r.ValidationResult = table
	case model.ValidationWeb:
		r.WebValidationResult = table
	case model.ValidationMeter:
		r.MeterValidationResult = table
	}
	return nil
}

func (m *memStore) PatchWorkflowStatus(_ context.Context, key, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(key).WorkflowStatus = status
	return nil
}

func (m *memStore) PatchLeadStatus(_ context.Context, key, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(key).LeadStatus = status
	return nil
}

func (m *memStore) Fetch(_ context.Context, key string) (*model.ContractResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) List(_ context.Context, _ store.ResultFilter) ([]model.ContractResult, error) {
	return nil, nil
}
func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

// fakeOCR returns canned text for any document.
type fakeOCR struct{ text string }

func (f *fakeOCR) ExtractText(_ context.Context, _ []byte, _ ocr.PageSelector) (string, error) {
	return f.text, nil
}

// stubLLM replies with a single canned text block.
type stubLLM struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (s *stubLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.reply}},
	}, nil
}

// fakeFetcher returns queued responses per identity and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]*portal.Record
	errs    map[string][]error // consumed one per call before records apply
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: make(map[string]*portal.Record),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, identity, _ string) (*portal.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[identity]++
	if queue := f.errs[identity]; len(queue) > 0 {
		err := queue[0]
		f.errs[identity] = queue[1:]
		return nil, err
	}
	rec, ok := f.records[identity]
	if !ok {
		return nil, fmt.Errorf("no record queued for %s", identity)
	}
	return rec, nil
}

type fakeEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (f *fakeEvictor) Evict(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, identity)
}

// fakeSheet returns one fixed row for every contract.
type fakeSheet struct {
	row   *model.FieldMap
	found bool
	err   error
}

func (f *fakeSheet) Lookup(_ string) (*model.FieldMap, bool, error) {
	return f.row, f.found, f.err
}

const leaseReply = "```json\n{\"Contract Number\": \"100/LO2024/5\", \"Tenant\": \"Acme\", \"Lease Type\": \"commercial\", \"Tenant Type\": \"business\"}\n```"

func webRecord(tenant string) *portal.Record {
	fields := model.NewFieldMap()
	fields.SetString("Contract Number", "100/LO2024/5")
	fields.SetString("Tenant", tenant)
	return &portal.Record{Fields: fields, PopupURL: "https://portal.example/records/17"}
}

func sheetRow(tenant string) *model.FieldMap {
	fm := model.NewFieldMap()
	fm.SetString("Contract Number", "100/LO2024/5")
	fm.SetString("Tenant", tenant)
	return fm
}

func testConfig() *config.Config {
	return &config.Config{
		Portal: config.PortalConfig{
			PrimarySystem:   "portal",
			AuthFailLimit:   2,
			AuthFailResetMS: 600_000,
		},
	}
}

func passingRules() *validate.Engine {
	rs, err := validate.Parse([]byte("rules:\n  - field: \"Contract Number\"\n    required: true\n"))
	if err != nil {
		panic(err)
	}
	return validate.NewEngine(rs)
}

func testAdapter(reply string) *extract.Adapter {
	return extract.NewAdapter(&fakeOCR{text: "lease text"}, &stubLLM{reply: reply}, "claude-haiku-4-5", 1024)
}

func testDoc(name string) extract.Document {
	return extract.Document{Name: name, Raw: []byte("%PDF-1.7"), Pages: ocr.AllPages()}
}
