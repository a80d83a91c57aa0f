package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/entity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS invoices (
	id                   TEXT PRIMARY KEY,
	provider_name        TEXT NOT NULL,
	service_type         TEXT NOT NULL,
	invoice_date         TEXT,
	total_amount         REAL,
	usage_quantity       REAL,
	usage_rate           REAL,
	service_charge       REAL,
	billing_period_start TEXT,
	billing_period_end   TEXT,
	account_number       TEXT,
	source_ref           TEXT NOT NULL,
	status               TEXT NOT NULL,
	confidence           REAL NOT NULL,
	fingerprint          TEXT NOT NULL,
	content_hash         TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_fingerprint ON invoices(fingerprint);
CREATE INDEX IF NOT EXISTS idx_invoices_content_hash ON invoices(content_hash);
CREATE INDEX IF NOT EXISTS idx_invoices_provider ON invoices(provider_name, invoice_date);

CREATE TABLE IF NOT EXISTS sources (
	source_ref    TEXT PRIMARY KEY,
	content_hash  TEXT NOT NULL,
	provider_hint TEXT,
	service_hint  TEXT,
	data          BLOB NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT NOT NULL,
	source_ref         TEXT,
	provider_name      TEXT,
	ocr_method         TEXT,
	ocr_reliability    REAL,
	parsing_confidence REAL,
	text_length        INTEGER,
	status             TEXT,
	stage              TEXT,
	diagnostic         TEXT,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_log_source ON processing_log(source_ref, created_at);
`

// SQLiteStore is the default local InvoiceStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the invoice database at path.
// ":memory:" works for tests.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single connection sidesteps table-lock contention under the pool
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	logger.Info("sqlite store ready", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Persist inserts the invoice; the unique fingerprint index enforces
// at-most-once, and a lost race surfaces here as Duplicate.
func (s *SQLiteStore) Persist(ctx context.Context, inv *entity.Invoice) (PersistOutcome, error) {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, provider_name, service_type, invoice_date, total_amount,
			usage_quantity, usage_rate, service_charge,
			billing_period_start, billing_period_end, account_number,
			source_ref, status, confidence, fingerprint, content_hash,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.Provider, string(inv.ServiceType),
		dateOrNil(inv.InvoiceDate), floatOrNil(inv.TotalAmount),
		floatOrNil(inv.UsageQuantity), floatOrNil(inv.UsageRate), floatOrNil(inv.ServiceCharge),
		dateOrNil(inv.BillingPeriodStart), dateOrNil(inv.BillingPeriodEnd), inv.AccountNumber,
		inv.SourceRef, string(inv.Status), inv.Confidence, inv.Fingerprint, inv.ContentHash,
		inv.CreatedAt.Format(time.RFC3339), inv.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			s.logger.Info("persist lost fingerprint race", "fingerprint", inv.Fingerprint)
			return Duplicate, nil
		}
		return Inserted, fmt.Errorf("insert invoice: %w", err)
	}
	s.logger.Info("invoice persisted",
		"id", inv.ID, "provider", inv.Provider, "status", inv.Status, "confidence", inv.Confidence)
	return Inserted, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM invoices WHERE fingerprint = ?`, fingerprint).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ExistsContentHash(ctx context.Context, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM invoices WHERE content_hash = ?`, contentHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("content hash lookup: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) PutSource(ctx context.Context, src *SourceDoc) error {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_ref, content_hash, provider_hint, service_hint, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_ref) DO UPDATE SET
			content_hash = excluded.content_hash,
			provider_hint = excluded.provider_hint,
			service_hint = excluded.service_hint,
			data = excluded.data`,
		src.Ref, src.ContentHash, src.ProviderHint, src.ServiceHint, src.Data,
		src.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store source %s: %w", src.Ref, err)
	}
	return nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, ref string) (*SourceDoc, error) {
	var (
		src       SourceDoc
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source_ref, content_hash, provider_hint, service_hint, data, created_at
		FROM sources WHERE source_ref = ?`, ref).
		Scan(&src.Ref, &src.ContentHash, &src.ProviderHint, &src.ServiceHint, &src.Data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s: not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", ref, err)
	}
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		src.CreatedAt = t
	}
	return &src, nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, log *entity.RunLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_log (
			run_id, source_ref, provider_name, ocr_method, ocr_reliability,
			parsing_confidence, text_length, status, stage, diagnostic, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RunID.String(), log.SourceRef, log.Provider, log.OCRMethod, log.OCRReliability,
		log.ParsingConfidence, log.TextLength, string(log.Status), log.Stage, log.Diagnostic,
		log.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{ByProvider: make(map[string]ProviderStats)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(ocr_reliability), 0),
		       COALESCE(AVG(parsing_confidence), 0)
		FROM processing_log`, string(constants.StatusValidated)).
		Scan(&out.TotalRuns, &out.Successful, &out.AvgOCRReliability, &out.AvgParsingConfidence)
	if err != nil {
		return nil, fmt.Errorf("overall stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_name, COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(parsing_confidence), 0)
		FROM processing_log
		WHERE provider_name != ''
		GROUP BY provider_name`, string(constants.StatusValidated))
	if err != nil {
		return nil, fmt.Errorf("provider stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
