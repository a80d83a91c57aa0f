// Package repository persists invoices, source documents, and per-run
// processing history. Two implementations share one schema: SQLite for the
// local deployment and Postgres for the hosted one. The unique fingerprint
// index is the pipeline's only serialization point; the first committed
// write wins and later writers observe Duplicate.
package repository

import (
	"context"
	"time"

	"github.com/utilitrack/invoice-pipeline/internal/entity"
)

// PersistOutcome reports what a Persist call did.
type PersistOutcome int

const (
	Inserted PersistOutcome = iota
	Duplicate
)

func (o PersistOutcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "inserted"
}

// SourceDoc is a stored source document, kept so reprocess can re-run the
// pipeline against the exact original bytes.
type SourceDoc struct {
	Ref          string
	ContentHash  string
	ProviderHint string
	ServiceHint  string
	Data         []byte
	CreatedAt    time.Time
}

// ProviderStats aggregates run history for one provider.
type ProviderStats struct {
	Total         int
	Successful    int
	AvgConfidence float64
}

// Stats is the operator-facing processing summary.
type Stats struct {
	TotalRuns            int
	Successful           int
	AvgOCRReliability    float64
	AvgParsingConfidence float64
	ByProvider           map[string]ProviderStats
}

// InvoiceStore is the external persistence collaborator the pipeline hands
// finished records to.
type InvoiceStore interface {
	// Persist writes the invoice, returning Duplicate when another run
	// already committed the same fingerprint.
	Persist(ctx context.Context, inv *entity.Invoice) (PersistOutcome, error)
	// Exists is the optimistic fingerprint pre-check.
	Exists(ctx context.Context, fingerprint string) (bool, error)
	// ExistsContentHash is the file-level pre-check.
	ExistsContentHash(ctx context.Context, contentHash string) (bool, error)

	PutSource(ctx context.Context, src *SourceDoc) error
	GetSource(ctx context.Context, ref string) (*SourceDoc, error)

	RecordRun(ctx context.Context, log *entity.RunLog) error
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
