package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leaseops/leaseverify/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. It is satisfied by
// pgxmock for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	contract_key            TEXT PRIMARY KEY,
	compared_at             TIMESTAMPTZ,
	pdf_extracted           JSONB,
	web_extracted           JSONB,
	compare_result          JSONB,
	validation_result       JSONB,
	web_validation_result   JSONB,
	meter_validation_result JSONB,
	workflow_status         TEXT,
	lead_status             TEXT,
	lease_type              TEXT,
	tenant_type             TEXT,
	popup_url               TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contracts_workflow_status ON contracts(workflow_status);
CREATE INDEX IF NOT EXISTS idx_contracts_lead_status ON contracts(lead_status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertComparison(ctx context.Context, contractKey string, p ComparisonPayload) error {
	pdfJSON, err := marshalNullable(p.PDFExtracted)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pdf fields")
	}
	webJSON, err := marshalNullable(p.WebExtracted)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal web fields")
	}
	cmpJSON, err := json.Marshal(p.Compare)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal comparison")
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO contracts (contract_key, compared_at, pdf_extracted, web_extracted, compare_result,
		                       lease_type, tenant_type, popup_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (contract_key) DO UPDATE SET
			compared_at    = EXCLUDED.compared_at,
			pdf_extracted  = EXCLUDED.pdf_extracted,
			web_extracted  = EXCLUDED.web_extracted,
			compare_result = EXCLUDED.compare_result,
			lease_type     = EXCLUDED.lease_type,
			tenant_type    = EXCLUDED.tenant_type,
			popup_url      = EXCLUDED.popup_url,
			updated_at     = EXCLUDED.updated_at`,
		contractKey, now, pdfJSON, webJSON, string(cmpJSON),
		nullable(p.LeaseType), nullable(p.TenantType), nullable(p.PopupURL), now,
	)
	return eris.Wrapf(err, "postgres: upsert comparison %s", contractKey)
}

func (s *PostgresStore) UpsertValidation(ctx context.Context, contractKey string, kind model.ValidationKind, table model.ValidationTable) error {
	col, err := validationColumn(kind)
	if err != nil {
		return err
	}
	tableJSON, err := json.Marshal(table)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation")
	}

	query := fmt.Sprintf(`
		INSERT INTO contracts (contract_key, %s, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (contract_key) DO UPDATE SET
			%s = EXCLUDED.%s,
			updated_at = EXCLUDED.updated_at`, col, col, col)

	_, err = s.pool.Exec(ctx, query, contractKey, string(tableJSON), time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert %s validation %s", kind, contractKey)
}

func (s *PostgresStore) PatchWorkflowStatus(ctx context.Context, contractKey, status string) error {
	return s.patchColumn(ctx, contractKey, "workflow_status", status)
}

func (s *PostgresStore) PatchLeadStatus(ctx context.Context, contractKey, status string) error {
	return s.patchColumn(ctx, contractKey, "lead_status", status)
}

func (s *PostgresStore) patchColumn(ctx context.Context, contractKey, col, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO contracts (contract_key, %s, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (contract_key) DO UPDATE SET
			%s = EXCLUDED.%s,
			updated_at = EXCLUDED.updated_at`, col, col, col)

	_, err := s.pool.Exec(ctx, query, contractKey, value, time.Now().UTC())
	return eris.Wrapf(err, "postgres: patch %s for %s", col, contractKey)
}

const postgresSelect = `SELECT contract_key, compared_at, pdf_extracted, web_extracted, compare_result,
	validation_result, web_validation_result, meter_validation_result,
	workflow_status, lead_status, lease_type, tenant_type, popup_url,
	created_at, updated_at FROM contracts`

func (s *PostgresStore) Fetch(ctx context.Context, contractKey string) (*model.ContractResult, error) {
	row := s.pool.QueryRow(ctx, postgresSelect+` WHERE contract_key = $1`, contractKey)
	r, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch %s", contractKey)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ResultFilter) ([]model.ContractResult, error) {
	query := postgresSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.WorkflowStatus != "" {
		query += ` AND workflow_status = ` + arg(filter.WorkflowStatus)
	}
	if filter.LeadStatus != "" {
		query += ` AND lead_status = ` + arg(filter.LeadStatus)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.ContractResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list iterate")
}
