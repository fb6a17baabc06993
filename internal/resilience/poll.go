package resilience

import (
	"context"
	"time"
)

// PollConfig bounds a wait for a remote affordance: at most MaxAttempts
// checks at a fixed Interval.
type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPollConfig returns the wait budget used for portal navigation
// steps.
func DefaultPollConfig() PollConfig {
	return PollConfig{MaxAttempts: 10, Interval: 500 * time.Millisecond}
}

// TimeoutError is returned by Poll when the predicate never became true
// within the wait budget.
type TimeoutError struct {
	Op       string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return "poll timed out waiting for " + e.Op
}

// Poll runs predicate up to cfg.MaxAttempts times, sleeping cfg.Interval
// between checks. It returns nil as soon as the predicate reports done,
// the predicate's error if it fails hard, or a *TimeoutError once the
// budget is exhausted. The predicate runs at least once even with a zero
// budget.
func Poll(ctx context.Context, op string, cfg PollConfig, predicate func(ctx context.Context) (bool, error)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		done, err := predicate(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &TimeoutError{Op: op, Attempts: cfg.MaxAttempts, Interval: cfg.Interval}
}
