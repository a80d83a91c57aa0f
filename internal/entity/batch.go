package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/utilitrack/invoice-pipeline/constants"
)

// BatchCounts tallies outcomes for one slice of a batch.
type BatchCounts struct {
	Succeeded   int
	NeedsReview int
	Failed      int
	Duplicates  int
}

// Total returns the number of runs the counts cover.
func (c BatchCounts) Total() int {
	return c.Succeeded + c.NeedsReview + c.Failed + c.Duplicates
}

// ProcessingBatch groups a set of pipeline runs with aggregate counts for
// operator visibility.
type ProcessingBatch struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     BatchCounts
	ByProvider map[string]*BatchCounts
}

// NewProcessingBatch starts an empty batch.
func NewProcessingBatch() *ProcessingBatch {
	return &ProcessingBatch{
		ID:         uuid.New(),
		StartedAt:  time.Now().UTC(),
		ByProvider: make(map[string]*BatchCounts),
	}
}

// Record folds one run outcome into the batch tallies.
func (b *ProcessingBatch) Record(provider string, status constants.Status) {
	if provider == "" {
		provider = "unknown"
	}
	pc := b.ByProvider[provider]
	if pc == nil {
		pc = &BatchCounts{}
		b.ByProvider[provider] = pc
	}
	for _, c := range []*BatchCounts{&b.Counts, pc} {
		switch status {
		case constants.StatusValidated:
			c.Succeeded++
		case constants.StatusNeedsReview:
			c.NeedsReview++
		case constants.StatusDuplicate:
			c.Duplicates++
		default:
			c.Failed++
		}
	}
}

// Finish stamps the batch end time.
func (b *ProcessingBatch) Finish() {
	b.FinishedAt = time.Now().UTC()
}
