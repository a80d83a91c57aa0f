package async

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
	"github.com/utilitrack/invoice-pipeline/internal/pipeline"
	"github.com/utilitrack/invoice-pipeline/internal/repository"
	"github.com/utilitrack/invoice-pipeline/internal/template"
	"github.com/utilitrack/invoice-pipeline/internal/textextract"
)

type echoExtractor struct{}

func (echoExtractor) Extract(_ context.Context, doc []byte) (textextract.TextDocument, error) {
	return textextract.TextDocument{
		Text:        string(doc),
		Pages:       1,
		Method:      constants.MethodPDFText,
		Reliability: 0.95,
	}, nil
}

const queueTemplate = `{
	"provider": "AGL",
	"service_type": "electricity",
	"patterns": {
		"invoice_date": {
			"regex": ["issue date[:\\s]*([0-9]{1,2}/[0-9]{1,2}/[0-9]{4})"],
			"type": "date",
			"required": true
		},
		"total_amount": {
			"regex": ["total[:\\s]*\\$?([0-9,]+\\.[0-9]{2})"],
			"type": "decimal",
			"required": true
		}
	}
}`

func invoiceDoc(day int, amount float64) []byte {
	return []byte(fmt.Sprintf("Issue Date: %02d/07/2025\nTotal: $%.2f\n", day, amount))
}

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "q.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tpl, err := template.Parse([]byte(queueTemplate))
	require.NoError(t, err)
	registry := template.NewRegistry(logger)
	registry.Replace(tpl)

	return pipeline.New(pipeline.Config{
		ConfidenceThreshold: 0.7,
		MinReliability:      0.4,
		ExtractTimeout:      5 * time.Second,
		Retry:               common.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond},
	}, echoExtractor{}, registry, store, logger)
}

func TestParseQueue_ProcessesAllJobs(t *testing.T) {
	pipe := newTestPipeline(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	var (
		mu       sync.Mutex
		statuses []constants.Status
	)
	q := NewParseQueue(pipe, logger,
		WithWorkers(2),
		WithQueueSize(8),
		WithJobTimeout(10*time.Second),
		WithResultFunc(func(_ Job, res *pipeline.Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses = append(statuses, constants.StatusFailed)
				return
			}
			statuses = append(statuses, res.Status)
		}),
	)

	for i := 1; i <= 4; i++ {
		err := q.Enqueue(context.Background(), Job{
			SourceRef:   fmt.Sprintf("doc-%d.pdf", i),
			Doc:         invoiceDoc(i, float64(i)*100+0.45),
			Provider:    "AGL",
			ServiceType: constants.Electricity,
		})
		require.NoError(t, err)
	}
	q.Shutdown(context.Background())

	require.Len(t, statuses, 4)
	for _, st := range statuses {
		assert.Equal(t, constants.StatusValidated, st)
	}
}

func TestParseQueue_EnqueueAfterShutdownFails(t *testing.T) {
	pipe := newTestPipeline(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	q := NewParseQueue(pipe, logger, WithWorkers(1))
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{SourceRef: "late.pdf"})
	assert.Error(t, err)
}

func TestRunBatch(t *testing.T) {
	pipe := newTestPipeline(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	jobs := []Job{
		{SourceRef: "a.pdf", Doc: invoiceDoc(1, 100.45), Provider: "AGL", ServiceType: constants.Electricity},
		{SourceRef: "b.pdf", Doc: invoiceDoc(2, 200.45), Provider: "AGL", ServiceType: constants.Electricity},
		// same bytes as a.pdf: duplicate
		{SourceRef: "a-again.pdf", Doc: invoiceDoc(1, 100.45), Provider: "AGL", ServiceType: constants.Electricity},
		// no template for this provider: rejection counts as failed
		{SourceRef: "c.pdf", Doc: invoiceDoc(3, 300.45), Provider: "Unknown Energy", ServiceType: constants.Electricity},
	}

	// single worker so the duplicate ordering is deterministic
	batch, err := RunBatch(context.Background(), pipe, jobs, 1, 10*time.Second, logger)
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Counts.Total())
	assert.Equal(t, 2, batch.Counts.Succeeded)
	assert.Equal(t, 1, batch.Counts.Duplicates)
	assert.Equal(t, 1, batch.Counts.Failed)
	assert.False(t, batch.FinishedAt.IsZero())

	agl := batch.ByProvider["AGL"]
	require.NotNil(t, agl)
	assert.Equal(t, 3, agl.Total())
}
