package portal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/config"
	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/resilience"
)

// Record is the outcome of a successful portal fetch: the extracted
// fields plus the URL of the record view when it opened in a popup.
type Record struct {
	Fields   *model.FieldMap
	PopupURL string
	RawHTML  string
}

// Fetcher drives an authenticated portal session through the search
// sequence and extracts the matching record's fields.
type Fetcher struct {
	cache   *SessionCache
	adapter *extract.Adapter
	systems map[string]config.SystemConfig
	poll    resilience.PollConfig
}

// NewFetcher builds a fetcher over the session cache and extraction
// adapter.
func NewFetcher(cache *SessionCache, adapter *extract.Adapter, systems map[string]config.SystemConfig, poll resilience.PollConfig) *Fetcher {
	if poll.MaxAttempts <= 0 {
		poll = resilience.DefaultPollConfig()
	}
	return &Fetcher{cache: cache, adapter: adapter, systems: systems, poll: poll}
}

// Fetch looks up contractKey on the named system and extracts the record
// fields. contractKey is the sanitized storage key; the portal is
// searched with its display form. Navigation steps that exceed the wait
// budget report a timeout; a search or record view that never appears
// reports not found.
func (f *Fetcher) Fetch(ctx context.Context, identity, contractKey string) (*Record, error) {
	sys, ok := f.systems[identity]
	if !ok {
		return nil, &resilience.AuthenticationFailure{
			Identity: identity,
			Err:      errUnknownSystem(identity),
		}
	}

	sess, err := f.cache.Acquire(ctx, identity)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()

	searchKey := model.DisplayKey(contractKey)
	start := time.Now()

	rec, err := f.fetch(ctx, sess.Conn, sys, identity, searchKey)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("portal record fetched",
		zap.String("system", identity),
		zap.String("contract", contractKey),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rec, nil
}

func (f *Fetcher) fetch(ctx context.Context, conn Conn, sys config.SystemConfig, identity, searchKey string) (*Record, error) {
	if err := conn.Click(ctx, sys.MenuSelector); err != nil {
		return nil, f.stepErr(err, identity, searchKey, "open menu")
	}
	if sys.SubMenuSelector != "" {
		if err := conn.Click(ctx, sys.SubMenuSelector); err != nil {
			return nil, f.stepErr(err, identity, searchKey, "open search view")
		}
	}
	if err := conn.SetValue(ctx, sys.SearchSelector, searchKey); err != nil {
		return nil, f.stepErr(err, identity, searchKey, "enter search key")
	}
	if err := conn.Click(ctx, sys.SubmitSelector); err != nil {
		return nil, f.stepErr(err, identity, searchKey, "submit search")
	}

	err := resilience.Poll(ctx, "search result", f.poll, func(ctx context.Context) (bool, error) {
		return conn.Exists(ctx, sys.ResultSelector)
	})
	if err != nil {
		var timeout *resilience.TimeoutError
		if errors.As(err, &timeout) {
			return nil, &resilience.FetchNotFound{
				Identity:  identity,
				SearchKey: searchKey,
				What:      "result row",
			}
		}
		return nil, f.stepErr(err, identity, searchKey, "await search result")
	}

	popupURL, err := conn.OpenRecord(ctx, sys.ResultSelector)
	if err != nil {
		return nil, f.stepErr(err, identity, searchKey, "open record")
	}

	err = resilience.Poll(ctx, "record view", f.poll, func(ctx context.Context) (bool, error) {
		return conn.Exists(ctx, sys.RecordSelector)
	})
	if err != nil {
		var timeout *resilience.TimeoutError
		if errors.As(err, &timeout) {
			return nil, &resilience.FetchNotFound{
				Identity:  identity,
				SearchKey: searchKey,
				What:      "record view",
			}
		}
		return nil, f.stepErr(err, identity, searchKey, "await record view")
	}

	html, err := conn.Snapshot(ctx)
	if err != nil {
		return nil, f.stepErr(err, identity, searchKey, "snapshot record")
	}

	extraction, err := f.adapter.ExtractText(ctx, searchKey, html, sys.PromptID)
	if err != nil {
		return nil, err
	}

	return &Record{Fields: extraction.Fields, PopupURL: popupURL, RawHTML: html}, nil
}

// stepErr maps a failed navigation step to the fetch error taxonomy.
// Deadline overruns become fetch timeouts; everything else passes
// through for the caller's stale-session handling.
func (f *Fetcher) stepErr(err error, identity, searchKey, step string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &resilience.FetchTimeout{
			Identity:  identity,
			SearchKey: searchKey,
			Step:      step,
			Attempts:  f.poll.MaxAttempts,
			Interval:  f.poll.Interval,
		}
	}
	return err
}
