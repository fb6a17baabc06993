// Package lifecycle moves processed intake files into dated archive
// folders according to their stored verification outcome.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/store"
)

// Report summarizes one archive pass.
type Report struct {
	Moved map[model.Outcome][]string
	Left  []string
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Moved: make(map[model.Outcome][]string)}
}

// Total returns the number of files moved.
func (r *Report) Total() int {
	n := 0
	for _, files := range r.Moved {
		n += len(files)
	}
	return n
}

// Manager walks the intake directory and files each document under
// archive/<date>/<outcome>/. Files whose result cannot be read stay in
// place for the next pass.
type Manager struct {
	store       store.Store
	intakeDir   string
	archiveRoot string
	moveDelay   time.Duration
	limiter     *rate.Limiter

	// test seams
	nowFunc    func() time.Time
	renameFunc func(oldpath, newpath string) error
}

// NewManager builds an archive manager. filePause spaces consecutive
// file moves; moveDelay is the settle time before each move, covering
// writers that close the file late.
func NewManager(st store.Store, intakeDir, archiveRoot string, moveDelay, filePause time.Duration) *Manager {
	var limiter *rate.Limiter
	if filePause > 0 {
		limiter = rate.NewLimiter(rate.Every(filePause), 1)
	}
	return &Manager{
		store:       st,
		intakeDir:   intakeDir,
		archiveRoot: archiveRoot,
		moveDelay:   moveDelay,
		limiter:     limiter,
		nowFunc:     time.Now,
		renameFunc:  os.Rename,
	}
}

// Run processes every file currently in the intake directory, in name
// order, sequentially. It returns the report of what moved where. A file
// that fails to move is logged and left for a later pass; Run only
// returns an error when the intake directory itself cannot be read or
// the context is canceled.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	entries, err := os.ReadDir(m.intakeDir)
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: read intake dir %s", m.intakeDir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	report := NewReport()
	dateDir := m.nowFunc().Format("2006-01-02")

	for _, name := range names {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		key := model.KeyFromFilename(name)
		outcome := m.resolveOutcome(ctx, key)

		if err := m.archive(ctx, name, dateDir, outcome); err != nil {
			zap.L().Warn("intake file not moved",
				zap.String("file", name),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
			report.Left = append(report.Left, name)
			continue
		}

		report.Moved[outcome] = append(report.Moved[outcome], name)
		zap.L().Info("intake file archived",
			zap.String("file", name),
			zap.String("contract", key),
			zap.String("outcome", string(outcome)),
		)
	}
	return report, nil
}

// resolveOutcome maps a contract key to its terminal state. Unknown
// contracts and unreadable results resolve to skipped so the file still
// leaves the intake directory.
func (m *Manager) resolveOutcome(ctx context.Context, key string) model.Outcome {
	result, err := m.store.Fetch(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("result lookup failed, treating as skipped",
				zap.String("contract", key),
				zap.Error(err),
			)
		}
		return model.OutcomeSkipped
	}
	return model.ResolveOutcome(result)
}

func (m *Manager) archive(ctx context.Context, name, dateDir string, outcome model.Outcome) error {
	destDir := filepath.Join(m.archiveRoot, dateDir, string(outcome))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return eris.Wrapf(err, "lifecycle: create %s", destDir)
	}

	if m.moveDelay > 0 {
		timer := time.NewTimer(m.moveDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	src := filepath.Join(m.intakeDir, name)
	dest := filepath.Join(destDir, name)
	return m.move(src, dest)
}

// move renames the file, falling back to copy and delete when rename
// fails, typically across filesystems.
func (m *Manager) move(src, dest string) error {
	if err := m.renameFunc(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return eris.Wrapf(err, "lifecycle: copy %s", src)
	}
	if err := os.Remove(src); err != nil {
		return eris.Wrapf(err, "lifecycle: remove %s after copy", src)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
