// Package pipeline orchestrates one document's trip through text
// extraction, template matching, field extraction, validation, the
// duplicate guard, and persistence. Low confidence never drops a record;
// only an unreadable document or a missing template rejects a run, and
// every run leaves a processing_log row either way.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
	"github.com/utilitrack/invoice-pipeline/internal/dedupe"
	"github.com/utilitrack/invoice-pipeline/internal/entity"
	"github.com/utilitrack/invoice-pipeline/internal/extract"
	"github.com/utilitrack/invoice-pipeline/internal/repository"
	"github.com/utilitrack/invoice-pipeline/internal/template"
	"github.com/utilitrack/invoice-pipeline/internal/textextract"
	"github.com/utilitrack/invoice-pipeline/internal/validate"
)

// Stage names recorded in the processing log.
const (
	StageTextExtraction  = "text_extraction"
	StageTemplateLookup  = "template_lookup"
	StageFieldExtraction = "field_extraction"
	StageValidation      = "validation"
	StageDedupe          = "dedupe"
	StagePersistence     = "persistence"
)

// Config carries the pipeline's thresholds and retry policy.
type Config struct {
	ConfidenceThreshold float64
	// MinReliability caps a run at needs_review when the OCR backend
	// reports reliability below it.
	MinReliability float64
	// ExtractTimeout bounds each individual extraction attempt.
	ExtractTimeout time.Duration
	Retry          common.RetryPolicy
}

// Hint carries what the caller knows about the document up front.
type Hint struct {
	Provider    string
	ServiceType constants.ServiceType
	SourceRef   string
}

// Result is one completed run. Invoice is nil only when the run was
// stopped by the duplicate guard before a row was built.
type Result struct {
	RunID     uuid.UUID
	Invoice   *entity.Invoice
	Record    *validate.ScoredRecord
	Text      textextract.TextDocument
	Duplicate bool
	Status    constants.Status
}

// Rejection is a fatal run outcome: nothing was persisted to the invoices
// table. The processing log still records the attempt.
type Rejection struct {
	SourceRef  string
	Stage      string
	Diagnostic string
	Err        error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("run rejected at %s: %s", r.Stage, r.Diagnostic)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Pipeline wires the stage collaborators together.
type Pipeline struct {
	logger    *slog.Logger
	cfg       Config
	text      textextract.Extractor
	registry  *template.Registry
	extractor *extract.Extractor
	validator *validate.Validator
	guard     *dedupe.Guard
	store     repository.InvoiceStore
}

// New builds a Pipeline around an extraction backend, a template registry,
// and a store.
func New(cfg Config, text textextract.Extractor, registry *template.Registry, store repository.InvoiceStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 90 * time.Second
	}
	return &Pipeline{
		logger:    logger,
		cfg:       cfg,
		text:      text,
		registry:  registry,
		extractor: extract.New(logger),
		validator: validate.New(cfg.ConfidenceThreshold, logger),
		guard:     dedupe.NewGuard(store, logger),
		store:     store,
	}
}

// Parse runs one document end to end.
func (p *Pipeline) Parse(ctx context.Context, doc []byte, hint Hint) (*Result, error) {
	return p.process(ctx, doc, hint, false)
}

// Reprocess re-runs the pipeline against the stored bytes of an earlier
// submission, typically after a template fix. overrideProvider and
// overrideService, when non-empty, replace the hints stored with the
// source. The content-hash pre-check is skipped (the file is known); the
// semantic fingerprint still guards against writing the same record twice.
func (p *Pipeline) Reprocess(ctx context.Context, sourceRef, overrideProvider string, overrideService constants.ServiceType) (*Result, error) {
	src, err := p.store.GetSource(ctx, sourceRef)
	if err != nil {
		return nil, common.WrapError(err, "reprocess")
	}
	hint := Hint{
		Provider:    src.ProviderHint,
		ServiceType: constants.ServiceType(src.ServiceHint),
		SourceRef:   src.Ref,
	}
	if overrideProvider != "" {
		hint.Provider = overrideProvider
	}
	if overrideService != "" {
		hint.ServiceType = overrideService
	}
	return p.process(ctx, src.Data, hint, true)
}

func (p *Pipeline) process(ctx context.Context, doc []byte, hint Hint, reprocess bool) (*Result, error) {
	if len(doc) == 0 {
		return nil, common.NewAppError("EMPTY_DOCUMENT", "document has no content", common.ErrInvalidInput)
	}

	runID := uuid.New()
	contentHash := dedupe.ContentHash(doc)
	log := &entity.RunLog{
		RunID:     runID,
		SourceRef: hint.SourceRef,
		Provider:  hint.Provider,
	}
	logger := p.logger.With("run_id", runID, "source_ref", hint.SourceRef)

	// Stage 1: text extraction, retried per policy with a per-attempt
	// deadline.
	var td textextract.TextDocument
	err := common.WithRetry(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
		defer cancel()
		var xerr error
		td, xerr = p.text.Extract(attemptCtx, doc)
		return xerr
	}, p.cfg.Retry)
	if err != nil {
		return nil, p.reject(ctx, log, hint, StageTextExtraction, err)
	}
	log.OCRMethod = td.Method
	log.OCRReliability = td.Reliability
	log.TextLength = len(td.Text)
	logger.Info("text extracted",
		"method", td.Method, "reliability", td.Reliability, "chars", len(td.Text), "pages", td.Pages)

	if err := ctx.Err(); err != nil {
		return nil, p.reject(ctx, log, hint, StageTextExtraction, err)
	}

	// Stage 2: template lookup.
	tpl, err := p.registry.Lookup(hint.Provider, hint.ServiceType)
	if err != nil {
		return nil, p.reject(ctx, log, hint, StageTemplateLookup, err)
	}
	log.Provider = tpl.Provider

	// Stage 3: field extraction. Misses are not errors here.
	fields := p.extractor.Extract(td.Text, tpl)
	logger.Info("fields extracted", "found", fields.FoundCount(), "total", len(tpl.Fields))

	// Stage 4: validation and scoring.
	rec := p.validator.Validate(fields, tpl)
	log.ParsingConfidence = rec.Confidence
	if td.Reliability < p.cfg.MinReliability && rec.Status == constants.StatusValidated {
		rec.Status = constants.StatusNeedsReview
		rec.Issues = append(rec.Issues,
			fmt.Sprintf("ocr reliability %.2f below minimum %.2f", td.Reliability, p.cfg.MinReliability))
	}

	if err := ctx.Err(); err != nil {
		return nil, p.reject(ctx, log, hint, StageValidation, err)
	}

	inv := p.buildInvoice(&rec, tpl, hint, contentHash)
	log.Status = inv.Status
	log.Stage = StagePersistence

	// Stage 5: optimistic duplicate pre-check. The store's unique index is
	// the authority; this only short-circuits the obvious cases.
	checkHash := contentHash
	if reprocess {
		checkHash = ""
	}
	verdict, err := p.guard.Check(ctx, inv.Fingerprint, checkHash)
	if err != nil {
		return nil, p.reject(ctx, log, hint, StageDedupe, err)
	}
	if verdict == dedupe.Duplicate {
		log.Status = constants.StatusDuplicate
		log.Stage = StageDedupe
		p.recordRun(ctx, log)
		logger.Info("duplicate detected", "fingerprint", inv.Fingerprint[:12])
		return &Result{RunID: runID, Record: &rec, Text: td, Duplicate: true, Status: constants.StatusDuplicate}, nil
	}

	// Stage 6: persist source bytes then the invoice row.
	if !reprocess {
		src := &repository.SourceDoc{
			Ref:          hint.SourceRef,
			ContentHash:  contentHash,
			ProviderHint: hint.Provider,
			ServiceHint:  string(hint.ServiceType),
			Data:         doc,
		}
		if err := p.store.PutSource(ctx, src); err != nil {
			return nil, p.reject(ctx, log, hint, StagePersistence, err)
		}
	}

	outcome, err := p.store.Persist(ctx, inv)
	if err != nil {
		return nil, p.reject(ctx, log, hint, StagePersistence, err)
	}
	if outcome == repository.Duplicate {
		log.Status = constants.StatusDuplicate
		p.recordRun(ctx, log)
		return &Result{RunID: runID, Record: &rec, Text: td, Duplicate: true, Status: constants.StatusDuplicate}, nil
	}

	p.recordRun(ctx, log)
	logger.Info("run complete",
		"invoice_id", inv.ID, "status", inv.Status, "confidence", inv.Confidence)
	return &Result{RunID: runID, Invoice: inv, Record: &rec, Text: td, Status: inv.Status}, nil
}

// buildInvoice maps the scored record onto the storage row and computes
// the fingerprint. A record missing any semantic key component falls back
// to the content fingerprint so failed extractions still dedupe by file.
func (p *Pipeline) buildInvoice(rec *validate.ScoredRecord, tpl *template.Template, hint Hint, contentHash string) *entity.Invoice {
	inv := &entity.Invoice{
		ID:          uuid.New(),
		Provider:    tpl.Provider,
		ServiceType: tpl.ServiceType,
		SourceRef:   hint.SourceRef,
		Status:      rec.Status,
		Confidence:  rec.Confidence,
		ContentHash: contentHash,

		InvoiceDate:        rec.Date("invoice_date"),
		TotalAmount:        rec.Number("total_amount"),
		UsageQuantity:      rec.Number("usage_quantity"),
		UsageRate:          rec.Number("usage_rate"),
		ServiceCharge:      rec.Number("service_charge"),
		BillingPeriodStart: rec.Date("billing_period_start"),
		BillingPeriodEnd:   rec.Date("billing_period_end"),
	}
	if f := rec.Field("account_number"); f != nil && f.Parsed {
		inv.AccountNumber = f.Text
	}

	if inv.InvoiceDate != nil && inv.TotalAmount != nil {
		inv.Fingerprint = dedupe.SemanticFingerprint(inv.Provider, *inv.InvoiceDate, *inv.TotalAmount)
	} else {
		inv.Fingerprint = dedupe.ContentFingerprint(contentHash)
	}
	return inv
}

// reject records the failed run and wraps the stage error.
func (p *Pipeline) reject(ctx context.Context, log *entity.RunLog, hint Hint, stage string, err error) error {
	log.Stage = stage
	log.Status = constants.StatusFailed
	log.Diagnostic = err.Error()
	p.recordRun(ctx, log)
	return &Rejection{SourceRef: hint.SourceRef, Stage: stage, Diagnostic: err.Error(), Err: err}
}

// recordRun writes processing history on a detached context so a
// cancelled run still leaves its log row.
func (p *Pipeline) recordRun(ctx context.Context, log *entity.RunLog) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.RecordRun(rctx, log); err != nil {
		p.logger.Error("failed to record run", "run_id", log.RunID, "error", err)
	}
}

// Stats exposes the store's processing summary.
func (p *Pipeline) Stats(ctx context.Context) (*repository.Stats, error) {
	return p.store.Stats(ctx)
}
