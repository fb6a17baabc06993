package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/excel"
	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/lifecycle"
	"github.com/leaseops/leaseverify/internal/ocr"
	"github.com/leaseops/leaseverify/internal/pipeline"
	"github.com/leaseops/leaseverify/internal/portal"
	"github.com/leaseops/leaseverify/internal/resilience"
	"github.com/leaseops/leaseverify/internal/store"
	"github.com/leaseops/leaseverify/internal/validate"
	anthropicpkg "github.com/leaseops/leaseverify/pkg/anthropic"
)

// pipelineEnv holds the initialized store, portal sessions, and pipeline
// needed by the verify/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Sessions *portal.SessionCache // may be nil
	Archiver *lifecycle.Manager
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Sessions != nil {
		pe.Sessions.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured result store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leaseverify.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the extraction adapter, the portal
// session cache, and the rule engine, and builds the Pipeline. Callers
// should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("verify"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	ocrExtractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init ocr")
	}

	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	adapter := extract.NewAdapter(ocrExtractor, llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)

	rules, err := validate.Load(cfg.Rules.Path)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load rules")
	}

	var sheet pipeline.SheetSource
	if cfg.Excel.Path != "" {
		sheet = excel.NewReader(cfg.Excel.Path, cfg.Excel.Sheet, cfg.Excel.KeyColumn)
		zap.L().Info("spreadsheet source enabled", zap.String("path", cfg.Excel.Path))
	} else {
		zap.L().Debug("LEASEVERIFY_EXCEL_PATH not set, spreadsheet source disabled")
	}

	var fetcher pipeline.RecordFetcher
	var sessions *portal.SessionCache
	if len(cfg.Portal.Systems) > 0 {
		driver := portal.NewChromeDriver(cfg.Portal.Headless, cfg.Portal.NavTimeout())
		sessions = portal.NewSessionCache(driver, cfg.Portal.Systems)
		fetcher = portal.NewFetcher(sessions, adapter, cfg.Portal.Systems, resilience.PollConfig{
			MaxAttempts: cfg.Portal.PollAttempts,
			Interval:    cfg.Portal.PollInterval(),
		})
		zap.L().Info("portal source enabled",
			zap.Int("systems", len(cfg.Portal.Systems)),
			zap.Bool("headless", cfg.Portal.Headless),
		)
	} else {
		zap.L().Debug("no portal systems configured, web source disabled")
	}

	p := pipeline.New(cfg, st, adapter, sheet, fetcher, sessions, validate.NewEngine(rules))

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Sessions: sessions,
		Archiver: lifecycle.NewManager(st, cfg.Intake.Dir, cfg.Intake.ArchiveRoot,
			cfg.Intake.MoveDelay(), cfg.Intake.FilePause()),
	}, nil
}
