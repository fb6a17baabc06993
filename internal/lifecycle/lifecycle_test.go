package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/store"
)

type memStore struct {
	results map[string]*model.ContractResult
	fetchErr error
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]*model.ContractResult)}
}

func (m *memStore) Fetch(_ context.Context, key string) (*model.ContractResult, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	r, ok := m.results[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) UpsertComparison(_ context.Context, key string, p store.ComparisonPayload) error {
	r := m.results[key]
	if r == nil {
		r = &model.ContractResult{ContractID: key}
		m.results[key] = r
	}
	r.PDFExtracted = p.PDFExtracted
	r.WebExtracted = p.WebExtracted
	r.CompareResult = p.Compare
	return nil
}

func (m *memStore) UpsertValidation(_ context.Context, key string, kind model.ValidationKind, table model.ValidationTable) error {
	r := m.results[key]
	if r == nil {
		r = &model.ContractResult{ContractID: key}
		m.results[key] = r
	}
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
	if r := m.results[key]; r != nil {
		r.WorkflowStatus = status
	}
	return nil
}

func (m *memStore) PatchLeadStatus(_ context.Context, key, status string) error {
	if r := m.results[key]; r != nil {
		r.LeadStatus = status
	}
	return nil
}

func (m *memStore) List(_ context.Context, _ store.ResultFilter) ([]model.ContractResult, error) {
	return nil, nil
}
func (m *memStore) Migrate(_ context.Context) error { return nil }
func (m *memStore) Close() error                    { return nil }

func storeResult(t *testing.T, st *memStore, key string, match, valid bool) {
	t.Helper()
	require.NoError(t, st.UpsertComparison(context.Background(), key, store.ComparisonPayload{
		Compare: model.ComparisonTable{{Field: "Tenant", Match: match}},
	}))
	require.NoError(t, st.UpsertValidation(context.Background(), key, model.ValidationPrimary,
		model.ValidationTable{{Field: "Tenant", Valid: valid}}))
}

func writeIntake(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("pdf bytes"), 0o644))
	}
}

func newTestManager(t *testing.T, st store.Store) (*Manager, string, string) {
	t.Helper()
	intake := t.TempDir()
	archive := t.TempDir()
	m := NewManager(st, intake, archive, 0, 0)
	m.nowFunc = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return m, intake, archive
}

func TestRunFilesByOutcome(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, true)
	storeResult(t, st, "200_LO2024_9", false, true)

	m, intake, archive := newTestManager(t, st)
	writeIntake(t, intake, "100_LO2024_5.pdf", "200_LO2024_9.pdf", "300_LO2024_1.pdf")

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"100_LO2024_5.pdf"}, report.Moved[model.OutcomePassed])
	assert.Equal(t, []string{"200_LO2024_9.pdf"}, report.Moved[model.OutcomeFailed])
	assert.Equal(t, []string{"300_LO2024_1.pdf"}, report.Moved[model.OutcomeSkipped])
	assert.Equal(t, 3, report.Total())
	assert.Empty(t, report.Left)

	assert.FileExists(t, filepath.Join(archive, "2024-06-15", "passed", "100_LO2024_5.pdf"))
	assert.FileExists(t, filepath.Join(archive, "2024-06-15", "failed", "200_LO2024_9.pdf"))
	assert.FileExists(t, filepath.Join(archive, "2024-06-15", "skipped", "300_LO2024_1.pdf"))

	entries, err := os.ReadDir(intake)
	require.NoError(t, err)
	assert.Empty(t, entries, "intake dir drains completely")
}

func TestRunTerminalStateExclusive(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, true)

	m, intake, archive := newTestManager(t, st)
	writeIntake(t, intake, "100_LO2024_5.pdf")

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	found := 0
	for _, state := range []string{"passed", "failed", "skipped"} {
		if _, err := os.Stat(filepath.Join(archive, "2024-06-15", state, "100_LO2024_5.pdf")); err == nil {
			found++
		}
	}
	assert.Equal(t, 1, found, "file lands in exactly one state folder")
}

func TestRunRerunIsNoop(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, true)

	m, intake, _ := newTestManager(t, st)
	writeIntake(t, intake, "100_LO2024_5.pdf")

	first, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total())

	second, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Total())
}

func TestRunInvalidValidationFails(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, false)

	m, intake, archive := newTestManager(t, st)
	writeIntake(t, intake, "100_LO2024_5.pdf")

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(archive, "2024-06-15", "failed", "100_LO2024_5.pdf"))
}

func TestRunFetchErrorSkips(t *testing.T) {
	st := newMemStore()
	st.fetchErr = errors.New("db down")

	m, intake, archive := newTestManager(t, st)
	writeIntake(t, intake, "100_LO2024_5.pdf")

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(archive, "2024-06-15", "skipped", "100_LO2024_5.pdf"))
}

func TestRunSkipsHiddenAndDirs(t *testing.T) {
	st := newMemStore()
	m, intake, _ := newTestManager(t, st)
	writeIntake(t, intake, ".partial.pdf")
	require.NoError(t, os.Mkdir(filepath.Join(intake, "sub"), 0o755))

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total())
	assert.FileExists(t, filepath.Join(intake, ".partial.pdf"))
}

func TestMoveFallsBackToCopy(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, true)

	m, intake, archive := newTestManager(t, st)
	m.renameFunc = func(_, _ string) error { return errors.New("cross-device link") }
	writeIntake(t, intake, "100_LO2024_5.pdf")

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total())

	dest := filepath.Join(archive, "2024-06-15", "passed", "100_LO2024_5.pdf")
	assert.FileExists(t, dest)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
	assert.NoFileExists(t, filepath.Join(intake, "100_LO2024_5.pdf"))
}

func TestMoveFailureLeavesFile(t *testing.T) {
	st := newMemStore()
	storeResult(t, st, "100_LO2024_5", true, true)

	m, intake, _ := newTestManager(t, st)
	// Rename fails and the copy fallback cannot create the destination
	// either once the archive root is a file.
	m.renameFunc = func(_, _ string) error { return errors.New("cross-device link") }
	m.archiveRoot = filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(m.archiveRoot, nil, 0o644))

	writeIntake(t, intake, "100_LO2024_5.pdf")

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total())
	assert.Equal(t, []string{"100_LO2024_5.pdf"}, report.Left)
	assert.FileExists(t, filepath.Join(intake, "100_LO2024_5.pdf"))
}
