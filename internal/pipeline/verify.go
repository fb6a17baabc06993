// Package pipeline orchestrates the verification of a lease document:
// extraction from the PDF, the spreadsheet and the web portal,
// reconciliation, business-rule validation, and result persistence.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/config"
	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/portal"
	"github.com/leaseops/leaseverify/internal/reconcile"
	"github.com/leaseops/leaseverify/internal/resilience"
	"github.com/leaseops/leaseverify/internal/store"
	"github.com/leaseops/leaseverify/internal/validate"
)

// Source names used in comparison tables.
const (
	SourcePDF   = "pdf"
	SourceSheet = "sheet"
	SourceWeb   = "web"
)

// Pipeline field names read from the lease extraction.
const (
	fieldLeaseType  = "Lease Type"
	fieldTenantType = "Tenant Type"
)

// RecordFetcher retrieves a contract record from a portal system.
// Satisfied by *portal.Fetcher.
type RecordFetcher interface {
	Fetch(ctx context.Context, identity, contractKey string) (*portal.Record, error)
}

// SessionEvictor drops a cached portal session so the next fetch logs in
// again. Satisfied by *portal.SessionCache.
type SessionEvictor interface {
	Evict(identity string)
}

// SheetSource looks up a contract row in the spreadsheet extract.
// Satisfied by *excel.Reader.
type SheetSource interface {
	Lookup(contractNumber string) (*model.FieldMap, bool, error)
}

// StageResult records one pipeline stage of a verification.
type StageResult struct {
	Name     string `json:"name"`
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
}

// Verification is the in-memory outcome of one document run.
type Verification struct {
	ContractKey string
	Status      string
	Compare     model.ComparisonTable
	Validation  map[model.ValidationKind]model.ValidationTable
	PopupURL    string
	Stages      []StageResult
}

// Pipeline wires the extraction sources, the reconciler, the validator
// and the store for single-document runs.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	adapter   *extract.Adapter
	sheet     SheetSource
	fetcher   RecordFetcher
	sessions  SessionEvictor
	validator *validate.Engine
	compare   reconcile.Options
}

// New assembles a pipeline. sheet, fetcher and sessions may be nil when
// the corresponding source is not configured; missing sources simply do
// not contribute columns to the comparison.
func New(
	cfg *config.Config,
	st store.Store,
	adapter *extract.Adapter,
	sheet SheetSource,
	fetcher RecordFetcher,
	sessions SessionEvictor,
	validator *validate.Engine,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		adapter:   adapter,
		sheet:     sheet,
		fetcher:   fetcher,
		sessions:  sessions,
		validator: validator,
		compare:   reconcile.Options{StrictAbsent: cfg.Compare.StrictAbsent},
	}
}

// Run verifies one lease document end to end. The returned Verification
// carries per-stage timings even when Run fails partway.
func (p *Pipeline) Run(ctx context.Context, doc extract.Document) (*Verification, error) {
	log := zap.L().With(zap.String("document", doc.Name))
	log.Info("verification starting")

	v := &Verification{
		Validation: make(map[model.ValidationKind]model.ValidationTable),
	}

	trackStage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		stage := StageResult{Name: name, Duration: time.Since(start).Milliseconds()}
		if err != nil {
			stage.Error = err.Error()
			log.Error("stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.Duration),
				zap.Error(err),
			)
		} else {
			log.Debug("stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.Duration),
			)
		}
		v.Stages = append(v.Stages, stage)
		return err
	}
	skipStage := func(name, reason string) {
		v.Stages = append(v.Stages, StageResult{Name: name, Skipped: true, Error: reason})
	}

	// Extract the lease PDF. Everything downstream keys off the contract
	// number it reports.
	var pdfFields *model.FieldMap
	err := trackStage("extract_pdf", func() error {
		extraction, err := p.adapter.ExtractDocument(ctx, doc, extract.PromptLeasePDF)
		if err != nil {
			return err
		}
		pdfFields = extraction.Fields
		v.ContractKey = model.SanitizeKey(extraction.ContractNumber())
		return nil
	})
	if err != nil {
		return v, err
	}

	if fileKey := model.KeyFromFilename(doc.Name); fileKey != v.ContractKey {
		log.Warn("file name does not match extracted contract number",
			zap.String("file_key", fileKey),
			zap.String("contract", v.ContractKey),
		)
	}
	log = log.With(zap.String("contract", v.ContractKey))

	sources := []reconcile.Source{{Name: SourcePDF, Fields: pdfFields}}

	// Spreadsheet row, when a workbook is configured. A missing row is
	// not an error; the sheet just contributes nothing.
	if p.sheet != nil {
		_ = trackStage("lookup_sheet", func() error {
			row, found, err := p.sheet.Lookup(model.DisplayKey(v.ContractKey))
			if err != nil {
				return err
			}
			if found {
				sources = append(sources, reconcile.Source{Name: SourceSheet, Fields: row})
			} else {
				log.Info("no spreadsheet row for contract")
			}
			return nil
		})
	} else {
		skipStage("lookup_sheet", "no workbook configured")
	}

	// Portal record. Not-found aborts the run so the intake file resolves
	// to skipped rather than recording a one-sided comparison.
	var webFields *model.FieldMap
	if p.fetcher != nil && p.cfg.Portal.PrimarySystem != "" {
		err = trackStage("fetch_web", func() error {
			rec, err := p.fetchRecord(ctx, p.cfg.Portal.PrimarySystem, v.ContractKey)
			if err != nil {
				return err
			}
			webFields = rec.Fields
			v.PopupURL = rec.PopupURL
			sources = append(sources, reconcile.Source{Name: SourceWeb, Fields: rec.Fields})
			return nil
		})
		if err != nil {
			return v, err
		}
	} else {
		skipStage("fetch_web", "no portal configured")
	}

	// Meter record from the secondary system feeds validation only; its
	// fields describe consumption, not lease terms.
	var meterFields *model.FieldMap
	if p.fetcher != nil && p.cfg.Portal.MeterSystem != "" {
		_ = trackStage("fetch_meter", func() error {
			rec, err := p.fetchRecord(ctx, p.cfg.Portal.MeterSystem, v.ContractKey)
			if err != nil {
				var nf *resilience.FetchNotFound
				if errors.As(err, &nf) {
					log.Info("no meter record for contract")
					return nil
				}
				return err
			}
			meterFields = rec.Fields
			return nil
		})
	}

	_ = trackStage("reconcile", func() error {
		v.Compare = reconcile.Compare(sources, p.compare)
		return nil
	})

	err = trackStage("persist_comparison", func() error {
		payload := store.ComparisonPayload{
			PDFExtracted: pdfFields,
			WebExtracted: webFields,
			Compare:      v.Compare,
			LeaseType:    pdfFields.GetString(fieldLeaseType),
			TenantType:   pdfFields.GetString(fieldTenantType),
			PopupURL:     v.PopupURL,
		}
		return resilience.Do(ctx, resilience.Once(), func(ctx context.Context) error {
			return p.store.UpsertComparison(ctx, v.ContractKey, payload)
		})
	})
	if err != nil {
		return v, eris.Wrapf(err, "pipeline: persist comparison %s", v.ContractKey)
	}

	err = trackStage("validate", func() error {
		if err := p.validateAndSave(ctx, v, model.ValidationPrimary, pdfFields); err != nil {
			return err
		}
		if webFields != nil {
			if err := p.validateAndSave(ctx, v, model.ValidationWeb, webFields); err != nil {
				return err
			}
		}
		if meterFields != nil {
			if err := p.validateAndSave(ctx, v, model.ValidationMeter, meterFields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return v, eris.Wrapf(err, "pipeline: validate %s", v.ContractKey)
	}

	v.Status = reconcile.OverallStatus(v.Compare, v.Validation[model.ValidationPrimary])
	log.Info("verification complete",
		zap.String("status", v.Status),
		zap.Int("fields_compared", len(v.Compare)),
	)
	return v, nil
}

// fetchRecord fetches from one portal system, evicting the session and
// retrying once when the failure looks like a stale login rather than a
// portal verdict.
func (p *Pipeline) fetchRecord(ctx context.Context, identity, contractKey string) (*portal.Record, error) {
	rec, err := p.fetcher.Fetch(ctx, identity, contractKey)
	if err == nil || !isStaleSessionErr(err) || p.sessions == nil {
		return rec, err
	}

	zap.L().Warn("portal fetch failed, evicting session and retrying",
		zap.String("system", identity),
		zap.String("contract", contractKey),
		zap.Error(err),
	)
	p.sessions.Evict(identity)
	return p.fetcher.Fetch(ctx, identity, contractKey)
}

// isStaleSessionErr reports whether a fetch error could be cured by a
// fresh login. Portal verdicts (not found, step timeout) and auth
// failures are not; a dead browser target is.
func isStaleSessionErr(err error) bool {
	var nf *resilience.FetchNotFound
	var timeout *resilience.FetchTimeout
	switch {
	case errors.As(err, &nf), errors.As(err, &timeout):
		return false
	case resilience.IsAuthFailure(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (p *Pipeline) validateAndSave(ctx context.Context, v *Verification, kind model.ValidationKind, fields *model.FieldMap) error {
	table := p.validator.Validate(fields)
	v.Validation[kind] = table
	return resilience.Do(ctx, resilience.Once(), func(ctx context.Context) error {
		return p.store.UpsertValidation(ctx, v.ContractKey, kind, table)
	})
}
