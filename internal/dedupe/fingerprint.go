// Package dedupe computes invoice fingerprints and runs the optimistic
// duplicate pre-check. True at-most-once is the store's unique index; this
// check only short-circuits the obvious cases before a write is attempted.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SemanticFingerprint keys an invoice by what it bills: provider, invoice
// date, and total amount. Two submissions of a re-billed invoice collide
// here even when the source files differ.
func SemanticFingerprint(provider string, invoiceDate time.Time, totalAmount float64) string {
	key := fmt.Sprintf("%s|%s|%.2f",
		strings.ToLower(strings.TrimSpace(provider)),
		invoiceDate.Format("2006-01-02"),
		totalAmount,
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ContentHash keys an invoice by its source bytes; a re-uploaded identical
// file collides here before any parsing state is consulted.
func ContentHash(doc []byte) string {
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint is the fingerprint used when the semantic key cannot
// be formed (failed or partial extractions without provider/date/amount).
func ContentFingerprint(contentHash string) string {
	return "content:" + contentHash
}
