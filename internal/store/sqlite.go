package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leaseops/leaseverify/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	contract_key            TEXT PRIMARY KEY,
	compared_at             DATETIME,
	pdf_extracted           TEXT,
	web_extracted           TEXT,
	compare_result          TEXT,
	validation_result       TEXT,
	web_validation_result   TEXT,
	meter_validation_result TEXT,
	workflow_status         TEXT,
	lead_status             TEXT,
	lease_type              TEXT,
	tenant_type             TEXT,
	popup_url               TEXT,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_contracts_workflow_status ON contracts(workflow_status);
CREATE INDEX IF NOT EXISTS idx_contracts_lead_status ON contracts(lead_status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertComparison(ctx context.Context, contractKey string, p ComparisonPayload) error {
	pdfJSON, err := marshalNullable(p.PDFExtracted)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pdf fields")
	}
	webJSON, err := marshalNullable(p.WebExtracted)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal web fields")
	}
	cmpJSON, err := json.Marshal(p.Compare)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal comparison")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contracts (contract_key, compared_at, pdf_extracted, web_extracted, compare_result,
		                       lease_type, tenant_type, popup_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (contract_key) DO UPDATE SET
			compared_at    = excluded.compared_at,
			pdf_extracted  = excluded.pdf_extracted,
			web_extracted  = excluded.web_extracted,
			compare_result = excluded.compare_result,
			lease_type     = excluded.lease_type,
			tenant_type    = excluded.tenant_type,
			popup_url      = excluded.popup_url,
			updated_at     = excluded.updated_at`,
		contractKey, now, pdfJSON, webJSON, string(cmpJSON),
		nullable(p.LeaseType), nullable(p.TenantType), nullable(p.PopupURL), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert comparison %s", contractKey)
}

func (s *SQLiteStore) UpsertValidation(ctx context.Context, contractKey string, kind model.ValidationKind, table model.ValidationTable) error {
	col, err := validationColumn(kind)
	if err != nil {
		return err
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation")
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO contracts (contract_key, %s, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contract_key) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at`, col, col, col)

	_, err = s.db.ExecContext(ctx, query, contractKey, string(tableJSON), now, now)
	return eris.Wrapf(err, "sqlite: upsert %s validation %s", kind, contractKey)
}

func (s *SQLiteStore) PatchWorkflowStatus(ctx context.Context, contractKey, status string) error {
	return s.patchColumn(ctx, contractKey, "workflow_status", status)
}

func (s *SQLiteStore) PatchLeadStatus(ctx context.Context, contractKey, status string) error {
	return s.patchColumn(ctx, contractKey, "lead_status", status)
}

func (s *SQLiteStore) patchColumn(ctx context.Context, contractKey, col, value string) error {
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO contracts (contract_key, %s, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contract_key) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at`, col, col, col)

	_, err := s.db.ExecContext(ctx, query, contractKey, value, now, now)
	return eris.Wrapf(err, "sqlite: patch %s for %s", col, contractKey)
}

const sqliteSelect = `SELECT contract_key, compared_at, pdf_extracted, web_extracted, compare_result,
	validation_result, web_validation_result, meter_validation_result,
	workflow_status, lead_status, lease_type, tenant_type, popup_url,
	created_at, updated_at FROM contracts`

func (s *SQLiteStore) Fetch(ctx context.Context, contractKey string) (*model.ContractResult, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelect+` WHERE contract_key = ?`, contractKey)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch %s", contractKey)
	}
	return r, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ResultFilter) ([]model.ContractResult, error) {
	query := sqliteSelect + ` WHERE 1=1`
	var args []any

	if filter.WorkflowStatus != "" {
		query += ` AND workflow_status = ?`
		args = append(args, filter.WorkflowStatus)
	}
	if filter.LeadStatus != "" {
		query += ` AND lead_status = ?`
		args = append(args, filter.LeadStatus)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.ContractResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list iterate")
}

// helpers

func marshalNullable(fm *model.FieldMap) (any, error) {
	if fm == nil {
		return nil, nil
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResult(row scannable) (*model.ContractResult, error) {
	var r model.ContractResult
	var comparedAt sql.NullTime
	var pdfJSON, webJSON, cmpJSON sql.NullString
	var valJSON, webValJSON, meterValJSON sql.NullString
	var workflow, lead, leaseType, tenantType, popupURL sql.NullString

	err := row.Scan(&r.ContractID, &comparedAt, &pdfJSON, &webJSON, &cmpJSON,
		&valJSON, &webValJSON, &meterValJSON,
		&workflow, &lead, &leaseType, &tenantType, &popupURL,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if comparedAt.Valid {
		r.Timestamp = comparedAt.Time
	}
	r.WorkflowStatus = workflow.String
	r.LeadStatus = lead.String
	r.LeaseType = leaseType.String
	r.TenantType = tenantType.String
	r.PopupURL = popupURL.String

	if pdfJSON.Valid {
		r.PDFExtracted = model.NewFieldMap()
		if err := json.Unmarshal([]byte(pdfJSON.String), r.PDFExtracted); err != nil {
			return nil, eris.Wrap(err, "unmarshal pdf fields")
		}
	}
	if webJSON.Valid {
		r.WebExtracted = model.NewFieldMap()
		if err := json.Unmarshal([]byte(webJSON.String), r.WebExtracted); err != nil {
			return nil, eris.Wrap(err, "unmarshal web fields")
		}
	}
	for _, pair := range []struct {
		src  sql.NullString
		dest any
		name string
	}{
		{cmpJSON, &r.CompareResult, "comparison"},
		{valJSON, &r.ValidationResult, "validation"},
		{webValJSON, &r.WebValidationResult, "web validation"},
		{meterValJSON, &r.MeterValidationResult, "meter validation"},
	} {
		if !pair.src.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(pair.src.String), pair.dest); err != nil {
			return nil, eris.Wrapf(err, "unmarshal %s table", pair.name)
		}
	}
	return &r, nil
}
