package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utilitrack/invoice-pipeline/internal/common"
	"github.com/utilitrack/invoice-pipeline/internal/pipeline"
	"github.com/utilitrack/invoice-pipeline/internal/repository"
	"github.com/utilitrack/invoice-pipeline/internal/template"
	"github.com/utilitrack/invoice-pipeline/internal/textextract"
)

// app bundles the wired collaborators every command needs. Configuration
// comes from the environment; commands only add per-invocation flags.
type app struct {
	cfg      *common.Config
	logger   *slog.Logger
	store    repository.InvoiceStore
	registry *template.Registry
	pipe     *pipeline.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := common.SetupLogger(common.ParseLogLevel(cfg.Log.Level), cfg.Log.Format)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := template.NewRegistry(logger)
	if _, err := registry.LoadDir(cfg.Templates.Dir); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}

	extractor, err := buildExtractor(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pipe := pipeline.New(pipeline.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MinReliability:      cfg.Pipeline.MinReliability,
		ExtractTimeout:      cfg.Pipeline.ExtractTimeout,
		Retry:               cfg.RetryPolicy(),
	}, extractor, registry, store, logger)

	return &app{cfg: cfg, logger: logger, store: store, registry: registry, pipe: pipe}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.InvoiceStore, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return repository.OpenPostgres(ctx, repository.PostgresConfig{
			DSN:             cfg.Database.PostgresDSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
	default:
		return repository.OpenSQLite(cfg.Database.SQLitePath, logger)
	}
}

func buildExtractor(cfg *common.Config, logger *slog.Logger) (textextract.Extractor, error) {
	switch cfg.Extract.Backend {
	case "remote":
		return textextract.NewRemote(textextract.RemoteConfig{
			Endpoint: cfg.Extract.RemoteEndpoint,
			APIKey:   cfg.Extract.RemoteAPIKey,
			Timeout:  cfg.Extract.RemoteTimeout,
		}, logger), nil
	case "local":
		return textextract.NewLocal(textextract.LocalConfig{
			Pdftotext:     cfg.Extract.Pdftotext,
			Pdftoppm:      cfg.Extract.Pdftoppm,
			Tesseract:     cfg.Extract.Tesseract,
			TesseractLang: cfg.Extract.TesseractLang,
			DPI:           cfg.Extract.DPI,
			MaxPages:      cfg.Extract.MaxPages,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown extract backend %q", cfg.Extract.Backend)
	}
}
