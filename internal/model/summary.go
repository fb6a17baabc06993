package model

import (
	"fmt"
	"strings"
	"sync"
)

// ItemFailure records why one contract did not complete a stage.
type ItemFailure struct {
	Contract string `json:"contract"`
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
}

// Summary accumulates batch counters across concurrent workers. The zero
// value is ready to use.
type Summary struct {
	mu        sync.Mutex
	Extracted int           `json:"extracted"`
	Fetched   int           `json:"fetched"`
	Compared  int           `json:"compared"`
	Validated int           `json:"validated"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// Count increments the named stage counter.
func (s *Summary) Count(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch stage {
	case "extracted":
		s.Extracted++
	case "fetched":
		s.Fetched++
	case "compared":
		s.Compared++
	case "validated":
		s.Validated++
	}
}

// CountOutcome increments the counter for a terminal state.
func (s *Summary) CountOutcome(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch o {
	case OutcomePassed:
		s.Passed++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Fail records a per-item failure reason.
func (s *Summary) Fail(contract, stage, kind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failures = append(s.Failures, ItemFailure{
		Contract: contract,
		Stage:    stage,
		Kind:     kind,
		Reason:   reason,
	})
}

// String renders the summary for the batch report.
func (s *Summary) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "extracted=%d fetched=%d compared=%d validated=%d passed=%d failed=%d skipped=%d",
		s.Extracted, s.Fetched, s.Compared, s.Validated, s.Passed, s.Failed, s.Skipped)
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n  %s [%s/%s]: %s", f.Contract, f.Stage, f.Kind, f.Reason)
	}
	return b.String()
}
