package constants

// Status is the canonical processing status for a pipeline run and for
// persisted invoice rows.
type Status string

// Stable values (store these exact strings in DB).
const (
	StatusPending         Status = "pending"          // run created, nothing done yet
	StatusTextExtracted   Status = "text_extracted"   // stage 1 completed (text available)
	StatusFieldsExtracted Status = "fields_extracted" // stage 2 completed (raw fields captured)
	StatusValidated       Status = "validated"        // scored at/above threshold, all required present
	StatusNeedsReview     Status = "needs_review"     // persisted, but below the confidence bar
	StatusFailed          Status = "failed"           // terminal failure
	StatusDuplicate       Status = "duplicate"        // terminal, fingerprint already ingested
)

// Terminal reports whether a status ends the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusValidated, StatusNeedsReview, StatusFailed, StatusDuplicate:
		return true
	}
	return false
}
