package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/entity"
)

// PostgresConfig mirrors the pool knobs exposed through env config.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS invoices (
	id                   UUID PRIMARY KEY,
	provider_name        TEXT NOT NULL,
	service_type         TEXT NOT NULL,
	invoice_date         DATE,
	total_amount         DOUBLE PRECISION,
	usage_quantity       DOUBLE PRECISION,
	usage_rate           DOUBLE PRECISION,
	service_charge       DOUBLE PRECISION,
	billing_period_start DATE,
	billing_period_end   DATE,
	account_number       TEXT,
	source_ref           TEXT NOT NULL,
	status               TEXT NOT NULL,
	confidence           DOUBLE PRECISION NOT NULL,
	fingerprint          TEXT NOT NULL UNIQUE,
	content_hash         TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_content_hash ON invoices(content_hash);
CREATE INDEX IF NOT EXISTS idx_invoices_provider ON invoices(provider_name, invoice_date);

CREATE TABLE IF NOT EXISTS sources (
	source_ref    TEXT PRIMARY KEY,
	content_hash  TEXT NOT NULL,
	provider_hint TEXT,
	service_hint  TEXT,
	data          BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_log (
	id                 BIGSERIAL PRIMARY KEY,
	run_id             UUID NOT NULL,
	source_ref         TEXT,
	provider_name      TEXT,
	ocr_method         TEXT,
	ocr_reliability    DOUBLE PRECISION,
	parsing_confidence DOUBLE PRECISION,
	text_length        INTEGER,
	status             TEXT,
	stage              TEXT,
	diagnostic         TEXT,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_log_source ON processing_log(source_ref, created_at);
`

// PostgresStore is the hosted-deployment InvoiceStore.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres creates a pgx pool, verifies connectivity, and applies the
// schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.DialTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.DialTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	logger.Info("postgres store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Persist relies on ON CONFLICT DO NOTHING over the fingerprint unique
// constraint; zero rows affected means another run committed first.
func (s *PostgresStore) Persist(ctx context.Context, inv *entity.Invoice) (PersistOutcome, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (
			id, provider_name, service_type, invoice_date, total_amount,
			usage_quantity, usage_rate, service_charge,
			billing_period_start, billing_period_end, account_number,
			source_ref, status, confidence, fingerprint, content_hash,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (fingerprint) DO NOTHING`,
		inv.ID, inv.Provider, string(inv.ServiceType), inv.InvoiceDate, inv.TotalAmount,
		inv.UsageQuantity, inv.UsageRate, inv.ServiceCharge,
		inv.BillingPeriodStart, inv.BillingPeriodEnd, inv.AccountNumber,
		inv.SourceRef, string(inv.Status), inv.Confidence, inv.Fingerprint, inv.ContentHash,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return Inserted, fmt.Errorf("insert invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Info("persist lost fingerprint race", "fingerprint", inv.Fingerprint)
		return Duplicate, nil
	}
	s.logger.Info("invoice persisted",
		"id", inv.ID, "provider", inv.Provider, "status", inv.Status, "confidence", inv.Confidence)
	return Inserted, nil
}

func (s *PostgresStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM invoices WHERE fingerprint = $1)`, fingerprint).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) ExistsContentHash(ctx context.Context, contentHash string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM invoices WHERE content_hash = $1)`, contentHash).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("content hash lookup: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) PutSource(ctx context.Context, src *SourceDoc) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (source_ref, content_hash, provider_hint, service_hint, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (source_ref) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			provider_hint = EXCLUDED.provider_hint,
			service_hint = EXCLUDED.service_hint,
			data = EXCLUDED.data`,
		src.Ref, src.ContentHash, src.ProviderHint, src.ServiceHint, src.Data, src.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store source %s: %w", src.Ref, err)
	}
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, ref string) (*SourceDoc, error) {
	var src SourceDoc
	err := s.pool.QueryRow(ctx, `
		SELECT source_ref, content_hash, provider_hint, service_hint, data, created_at
		FROM sources WHERE source_ref = $1`, ref).
		Scan(&src.Ref, &src.ContentHash, &src.ProviderHint, &src.ServiceHint, &src.Data, &src.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %s: not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", ref, err)
	}
	return &src, nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, log *entity.RunLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_log (
			run_id, source_ref, provider_name, ocr_method, ocr_reliability,
			parsing_confidence, text_length, status, stage, diagnostic, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		log.RunID, log.SourceRef, log.Provider, log.OCRMethod, log.OCRReliability,
		log.ParsingConfidence, log.TextLength, string(log.Status), log.Stage, log.Diagnostic,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{ByProvider: make(map[string]ProviderStats)}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(ocr_reliability), 0),
		       COALESCE(AVG(parsing_confidence), 0)
		FROM processing_log`, string(constants.StatusValidated)).
		Scan(&out.TotalRuns, &out.Successful, &out.AvgOCRReliability, &out.AvgParsingConfidence)
	if err != nil {
		return nil, fmt.Errorf("overall stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT provider_name, COUNT(*),
		       COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(parsing_confidence), 0)
		FROM processing_log
		WHERE provider_name <> ''
		GROUP BY provider_name`, string(constants.StatusValidated))
	if err != nil {
		return nil, fmt.Errorf("provider stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name string
			ps   ProviderStats
		)
		if err := rows.Scan(&name, &ps.Total, &ps.Successful, &ps.AvgConfidence); err != nil {
			return nil, fmt.Errorf("provider stats scan: %w", err)
		}
		out.ByProvider[name] = ps
	}
	return out, rows.Err()
}
