package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
	"github.com/utilitrack/invoice-pipeline/internal/dedupe"
	"github.com/utilitrack/invoice-pipeline/internal/repository"
	"github.com/utilitrack/invoice-pipeline/internal/template"
	"github.com/utilitrack/invoice-pipeline/internal/textextract"
)

// stubExtractor returns canned text keyed by the document's bytes.
type stubExtractor struct {
	byDoc       map[string]string
	reliability float64
	err         error
	calls       int
}

func (s *stubExtractor) Extract(_ context.Context, doc []byte) (textextract.TextDocument, error) {
	s.calls++
	if s.err != nil {
		return textextract.TextDocument{}, s.err
	}
	rel := s.reliability
	if rel == 0 {
		rel = 0.95
	}
	return textextract.TextDocument{
		Text:        s.byDoc[string(doc)],
		Pages:       1,
		Method:      constants.MethodPDFText,
		Reliability: rel,
	}, nil
}

const aglTemplate = `{
	"provider": "AGL",
	"service_type": "electricity",
	"patterns": {
		"invoice_date": {
			"regex": ["issue date[:\\s]*([0-9]{1,2}/[0-9]{1,2}/[0-9]{4})"],
			"type": "date",
			"required": true,
			"format": "%d/%m/%Y"
		},
		"total_amount": {
			"regex": ["total amount due[:\\s]*\\$?([0-9,]+\\.[0-9]{2})"],
			"type": "decimal",
			"required": true,
			"validation": {"min": 1, "max": 5000}
		},
		"usage_quantity": {
			"regex": ["total usage[:\\s]*([0-9,]+\\.?[0-9]*)\\s*kwh"],
			"type": "decimal",
			"validation": {"min": 0, "max": 20000}
		}
	},
	"post_processing": {
		"date_format": "%Y-%m-%d",
		"validation_rules": {"date_sequence_check": true}
	}
}`

const goodInvoiceText = `AGL Energy
Issue Date: 15/07/2025
Total Usage: 1,245.5 kWh
Total Amount Due: $312.45
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	pipe  *Pipeline
	store *repository.SQLiteStore
	text  *stubExtractor
}

func newFixture(t *testing.T, text *stubExtractor) *fixture {
	t.Helper()
	logger := testLogger()

	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tpl, err := template.Parse([]byte(aglTemplate))
	require.NoError(t, err)
	registry := template.NewRegistry(logger)
	registry.Replace(tpl)

	pipe := New(Config{
		ConfidenceThreshold: 0.7,
		MinReliability:      0.4,
		ExtractTimeout:      5 * time.Second,
		Retry:               common.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, text, registry, store, logger)

	return &fixture{pipe: pipe, store: store, text: text}
}

func TestPipeline_Parse_HappyPath(t *testing.T) {
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{"doc-1": goodInvoiceText}})

	res, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "AGL", ServiceType: constants.Electricity, SourceRef: "july.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusValidated, res.Status)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, "AGL", res.Invoice.Provider)
	require.NotNil(t, res.Invoice.TotalAmount)
	assert.InDelta(t, 312.45, *res.Invoice.TotalAmount, 1e-9)
	require.NotNil(t, res.Invoice.InvoiceDate)
	assert.Equal(t, "2025-07-15", res.Invoice.InvoiceDate.Format("2006-01-02"))
	assert.InDelta(t, 1.0, res.Invoice.Confidence, 1e-9)
	assert.NotEmpty(t, res.Invoice.Fingerprint)

	// source bytes stored for reprocessing
	src, err := f.store.GetSource(context.Background(), "july.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc-1"), src.Data)

	// run recorded
	stats, err := f.pipe.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.Successful)
}

func TestPipeline_Parse_IdenticalBytesAreDuplicate(t *testing.T) {
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{"doc-1": goodInvoiceText}})
	hint := Hint{Provider: "AGL", ServiceType: constants.Electricity, SourceRef: "july.pdf"}

	_, err := f.pipe.Parse(context.Background(), []byte("doc-1"), hint)
	require.NoError(t, err)

	res, err := f.pipe.Parse(context.Background(), []byte("doc-1"), hint)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, constants.StatusDuplicate, res.Status)
	assert.Nil(t, res.Invoice)
}

func TestPipeline_Parse_SameInvoiceDifferentBytesIsDuplicate(t *testing.T) {
	// two scans of the same bill: different files, same provider/date/amount
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{
		"scan-a": goodInvoiceText,
		"scan-b": goodInvoiceText + "\ntrailing scanner noise",
	}})
	hint := Hint{Provider: "AGL", ServiceType: constants.Electricity}

	first, err := f.pipe.Parse(context.Background(), []byte("scan-a"), Hint{Provider: "AGL", SourceRef: "a.pdf", ServiceType: constants.Electricity})
	require.NoError(t, err)
	require.NotNil(t, first.Invoice)

	hint.SourceRef = "b.pdf"
	second, err := f.pipe.Parse(context.Background(), []byte("scan-b"), hint)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
}

func TestPipeline_Parse_UnknownProviderRejects(t *testing.T) {
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{"doc-1": goodInvoiceText}})

	_, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "EnergyAustralia", SourceRef: "x.pdf",
	})
	require.Error(t, err)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, StageTemplateLookup, rej.Stage)
	assert.ErrorIs(t, err, common.ErrNoTemplateFound)

	// nothing persisted, but the attempt is logged
	ok, err := f.store.ExistsContentHash(context.Background(), dedupe.ContentHash([]byte("doc-1")))
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := f.pipe.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 0, stats.Successful)
}

func TestPipeline_Parse_ExtractionFailureRejects(t *testing.T) {
	f := newFixture(t, &stubExtractor{err: common.NonRetryable(common.ErrExtractionFailed)})

	_, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "AGL", SourceRef: "x.pdf", ServiceType: constants.Electricity,
	})
	require.Error(t, err)

	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, StageTextExtraction, rej.Stage)
	assert.Equal(t, 1, f.text.calls, "permanent failure is not retried")
}

func TestPipeline_Parse_RetryableExtractionFailureIsRetried(t *testing.T) {
	f := newFixture(t, &stubExtractor{err: common.Retryable(errors.New("transient"))})

	_, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "AGL", SourceRef: "x.pdf", ServiceType: constants.Electricity,
	})
	require.Error(t, err)
	assert.Equal(t, 2, f.text.calls)
}

func TestPipeline_Parse_LowReliabilityCapsStatus(t *testing.T) {
	f := newFixture(t, &stubExtractor{
		byDoc:       map[string]string{"doc-1": goodInvoiceText},
		reliability: 0.3, // below MinReliability 0.4
	})

	res, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "AGL", ServiceType: constants.Electricity, SourceRef: "x.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.StatusNeedsReview, res.Status)
	assert.NotEmpty(t, res.Record.Issues)
}

func TestPipeline_Parse_PartialExtractionPersistsForReview(t *testing.T) {
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{
		"doc-1": "Issue Date: 15/07/2025\nnothing else recognizable",
	}})

	res, err := f.pipe.Parse(context.Background(), []byte("doc-1"), Hint{
		Provider: "AGL", ServiceType: constants.Electricity, SourceRef: "x.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, constants.StatusNeedsReview, res.Status)
	require.NotNil(t, res.Invoice)
	assert.Nil(t, res.Invoice.TotalAmount)
	assert.Contains(t, res.Invoice.Fingerprint, "content:",
		"semantic key incomplete, content fingerprint used")
}

func TestPipeline_Parse_EmptyDocument(t *testing.T) {
	f := newFixture(t, &stubExtractor{})
	_, err := f.pipe.Parse(context.Background(), nil, Hint{Provider: "AGL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestPipeline_Reprocess(t *testing.T) {
	f := newFixture(t, &stubExtractor{byDoc: map[string]string{"doc-1": goodInvoiceText}})
	hint := Hint{Provider: "AGL", ServiceType: constants.Electricity, SourceRef: "july.pdf"}

	_, err := f.pipe.Parse(context.Background(), []byte("doc-1"), hint)
	require.NoError(t, err)

	// same template, same bytes: semantic fingerprint already persisted
	res, err := f.pipe.Reprocess(context.Background(), "july.pdf", "", "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	t.Run("unknown source ref", func(t *testing.T) {
		_, err := f.pipe.Reprocess(context.Background(), "missing.pdf", "", "")
		assert.Error(t, err)
	})
}
