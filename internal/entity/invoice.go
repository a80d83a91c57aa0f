package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/utilitrack/invoice-pipeline/constants"
)

// Invoice is a structured billing record extracted from one source document.
// Optional fields are pointers so "not extracted" survives the round trip to
// storage instead of collapsing to zero values.
type Invoice struct {
	ID          uuid.UUID
	Provider    string
	ServiceType constants.ServiceType

	InvoiceDate        *time.Time
	TotalAmount        *float64
	UsageQuantity      *float64
	UsageRate          *float64
	ServiceCharge      *float64
	BillingPeriodStart *time.Time
	BillingPeriodEnd   *time.Time
	AccountNumber      string

	SourceRef   string
	Status      constants.Status
	Confidence  float64
	Fingerprint string
	ContentHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunLog is one row of per-run processing history, kept for operator
// visibility independent of whether an invoice row was written.
type RunLog struct {
	RunID             uuid.UUID
	SourceRef         string
	Provider          string
	OCRMethod         string
	OCRReliability    float64
	ParsingConfidence float64
	TextLength        int
	Status            constants.Status
	Stage             string
	Diagnostic        string
	CreatedAt         time.Time
}
