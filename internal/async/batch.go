package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/entity"
	"github.com/utilitrack/invoice-pipeline/internal/pipeline"
)

// RunBatch pushes every job through a dedicated worker pool and returns the
// aggregate tallies once all of them finish.
func RunBatch(ctx context.Context, pipe *pipeline.Pipeline, jobs []Job, workers int, jobTimeout time.Duration, logger *slog.Logger) (*entity.ProcessingBatch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	batch := entity.NewProcessingBatch()
	var mu sync.Mutex

	q := NewParseQueue(pipe, logger,
		WithWorkers(workers),
		WithQueueSize(len(jobs)+1),
		WithJobTimeout(jobTimeout),
		WithResultFunc(func(job Job, res *pipeline.Result, err error) {
			provider := job.Provider
			status := constants.StatusFailed
			if err == nil {
				status = res.Status
			}
			mu.Lock()
			batch.Record(provider, status)
			mu.Unlock()
		}),
	)

	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			q.Shutdown(ctx)
			return batch, err
		}
	}
	q.Shutdown(ctx)

	batch.Finish()
	logger.Info("batch complete",
		"batch_id", batch.ID,
		"total", batch.Counts.Total(),
		"succeeded", batch.Counts.Succeeded,
		"needs_review", batch.Counts.NeedsReview,
		"failed", batch.Counts.Failed,
		"duplicates", batch.Counts.Duplicates,
		"elapsed", batch.FinishedAt.Sub(batch.StartedAt))
	return batch, nil
}
