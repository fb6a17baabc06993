package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/lifecycle"
	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/resilience"
)

// Batch runs the verification pipeline over many documents with bounded
// concurrency. One broken document never aborts the batch; failures land
// in the summary. Repeated login failures against one portal system open
// a circuit that fails the remaining items for that system fast.
type Batch struct {
	pipeline    *Pipeline
	archiver    *lifecycle.Manager
	concurrency int

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewBatch builds a batch runner. archiver may be nil to leave intake
// files in place after the run.
func NewBatch(p *Pipeline, archiver *lifecycle.Manager, concurrency int) *Batch {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Batch{
		pipeline:    p,
		archiver:    archiver,
		concurrency: concurrency,
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
}

// Run verifies every document, then archives the intake directory. The
// returned summary is complete even when ctx is canceled partway.
func (b *Batch) Run(ctx context.Context, docs []extract.Document) (*model.Summary, error) {
	summary := &model.Summary{}
	runID := uuid.New().String()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("batch starting", zap.Int("documents", len(docs)))

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			b.processItem(ctx, doc, summary)
			return nil // item failures don't abort the batch
		})
	}
	_ = g.Wait()

	log.Info("batch complete", zap.String("summary", summary.String()))

	if b.archiver != nil && ctx.Err() == nil {
		report, err := b.archiver.Run(ctx)
		if err != nil {
			log.Error("archive pass failed", zap.Error(err))
		} else {
			log.Info("archive pass complete",
				zap.Int("moved", report.Total()),
				zap.Int("left", len(report.Left)),
			)
		}
	}

	return summary, ctx.Err()
}

func (b *Batch) processItem(ctx context.Context, doc extract.Document, summary *model.Summary) {
	identity := b.pipeline.cfg.Portal.PrimarySystem
	breaker := b.breakerFor(identity)

	if breaker != nil {
		if allowErr := breaker.Allow(); allowErr != nil {
			summary.Fail(model.KeyFromFilename(doc.Name), "fetch_web", resilience.KindAuth,
				"portal logins for "+identity+" are failing, item not attempted")
			summary.CountOutcome(model.OutcomeSkipped)
			return
		}
	}

	v, err := b.pipeline.Run(ctx, doc)
	countStages(summary, v)

	if breaker != nil {
		breaker.Record(err)
	}

	if err != nil {
		contract := v.ContractKey
		if contract == "" {
			contract = model.KeyFromFilename(doc.Name)
		}
		summary.Fail(contract, lastFailedStage(v), resilience.FailureKind(err), err.Error())
		summary.CountOutcome(model.OutcomeSkipped)
		return
	}

	switch v.Status {
	case model.StatusPassed:
		summary.CountOutcome(model.OutcomePassed)
	default:
		summary.CountOutcome(model.OutcomeFailed)
	}
}

// breakerFor returns the auth circuit for a portal system, creating it
// on first use. Returns nil when the pipeline has no portal source.
func (b *Batch) breakerFor(identity string) *resilience.CircuitBreaker {
	if identity == "" || b.pipeline.fetcher == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[identity]
	if !ok {
		cfg := b.pipeline.cfg.Portal
		br = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.AuthFailLimit,
			ResetTimeout:     cfg.AuthFailReset(),
			ShouldTrip:       resilience.IsAuthFailure,
		})
		b.breakers[identity] = br
	}
	return br
}

// countStages folds a verification's successful stages into the batch
// counters.
func countStages(summary *model.Summary, v *Verification) {
	if v == nil {
		return
	}
	byStage := map[string]string{
		"extract_pdf": "extracted",
		"fetch_web":   "fetched",
		"reconcile":   "compared",
		"validate":    "validated",
	}
	for _, s := range v.Stages {
		if s.Skipped || s.Error != "" {
			continue
		}
		if counter, ok := byStage[s.Name]; ok {
			summary.Count(counter)
		}
	}
}

func lastFailedStage(v *Verification) string {
	if v == nil {
		return ""
	}
	for i := len(v.Stages) - 1; i >= 0; i-- {
		if v.Stages[i].Error != "" && !v.Stages[i].Skipped {
			return v.Stages[i].Name
		}
	}
	return ""
}
