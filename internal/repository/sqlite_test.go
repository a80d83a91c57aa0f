package repository

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/entity"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "invoices.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleInvoice(fingerprint, contentHash string) *entity.Invoice {
	date := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	amount := 312.45
	qty := 1245.5
	return &entity.Invoice{
		Provider:      "AGL",
		ServiceType:   constants.Electricity,
		InvoiceDate:   &date,
		TotalAmount:   &amount,
		UsageQuantity: &qty,
		AccountNumber: "123456789",
		SourceRef:     "bill-july.pdf",
		Status:        constants.StatusValidated,
		Confidence:    0.95,
		Fingerprint:   fingerprint,
		ContentHash:   contentHash,
	}
}

func TestSQLiteStore_PersistAndExists(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	inv := sampleInvoice("fp-1", "hash-1")
	outcome, err := store.Persist(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)
	assert.NotEqual(t, uuid.Nil, inv.ID, "Persist assigns an id")

	ok, err := store.Exists(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ExistsContentHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "fp-other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_PersistDuplicateFingerprint(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Persist(ctx, sampleInvoice("fp-1", "hash-1"))
	require.NoError(t, err)

	// same fingerprint from different bytes: second write loses
	outcome, err := store.Persist(ctx, sampleInvoice("fp-1", "hash-2"))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)
}

func TestSQLiteStore_PersistNullableFields(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	inv := &entity.Invoice{
		Provider:    "Origin Energy",
		ServiceType: constants.Gas,
		SourceRef:   "partial.pdf",
		Status:      constants.StatusNeedsReview,
		Confidence:  0.3,
		Fingerprint: "content:abcdef",
		ContentHash: "abcdef",
	}
	outcome, err := store.Persist(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, Inserted, outcome)
}

func TestSQLiteStore_Sources(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	src := &SourceDoc{
		Ref:          "bill-july.pdf",
		ContentHash:  "hash-1",
		ProviderHint: "AGL",
		ServiceHint:  "electricity",
		Data:         []byte("%PDF-1.4 fake"),
	}
	require.NoError(t, store.PutSource(ctx, src))

	got, err := store.GetSource(ctx, "bill-july.pdf")
	require.NoError(t, err)
	assert.Equal(t, src.Data, got.Data)
	assert.Equal(t, "AGL", got.ProviderHint)

	t.Run("upsert replaces data", func(t *testing.T) {
		src2 := &SourceDoc{Ref: "bill-july.pdf", ContentHash: "hash-2", Data: []byte("new bytes")}
		require.NoError(t, store.PutSource(ctx, src2))

		got, err := store.GetSource(ctx, "bill-july.pdf")
		require.NoError(t, err)
		assert.Equal(t, []byte("new bytes"), got.Data)
		assert.Equal(t, "hash-2", got.ContentHash)
	})

	t.Run("unknown ref", func(t *testing.T) {
		_, err := store.GetSource(ctx, "nope.pdf")
		assert.Error(t, err)
	})
}

func TestSQLiteStore_RunsAndStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	runs := []entity.RunLog{
		{RunID: uuid.New(), SourceRef: "a.pdf", Provider: "AGL", OCRMethod: "pdf-text",
			OCRReliability: 0.95, ParsingConfidence: 1.0, TextLength: 2400, Status: constants.StatusValidated},
		{RunID: uuid.New(), SourceRef: "b.pdf", Provider: "AGL", OCRMethod: "pdf-ocr",
			OCRReliability: 0.55, ParsingConfidence: 0.6, TextLength: 900, Status: constants.StatusNeedsReview},
		{RunID: uuid.New(), SourceRef: "c.pdf", Provider: "Origin Energy", OCRMethod: "pdf-text",
			OCRReliability: 0.95, ParsingConfidence: 0.9, TextLength: 1800, Status: constants.StatusValidated},
	}
	for i := range runs {
		require.NoError(t, store.RecordRun(ctx, &runs[i]))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalRuns)
	assert.Equal(t, 2, stats.Successful)
	assert.InDelta(t, (0.95+0.55+0.95)/3, stats.AvgOCRReliability, 1e-9)

	require.Contains(t, stats.ByProvider, "AGL")
	agl := stats.ByProvider["AGL"]
	assert.Equal(t, 2, agl.Total)
	assert.Equal(t, 1, agl.Successful)
	assert.InDelta(t, 0.8, agl.AvgConfidence, 1e-9)
}
