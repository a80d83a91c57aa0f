// Package textextract converts raw document bytes into text. Two backends
// implement the same contract: a local one driving pdftotext/tesseract (with
// a pure-Go pdfcpu fallback) and a remote hosted OCR service. A backend that
// reads nothing at all fails hard; a backend that reads partially returns its
// best-effort text with reduced reliability.
package textextract

import "context"

// TextDocument is the result of text extraction from one document.
type TextDocument struct {
	Text        string
	Pages       int
	Method      string  // constants.MethodPDFText | MethodPDFOCR | MethodPDFNative | MethodRemoteOCR
	Reliability float64 // backend's own estimate in [0,1]
	Warnings    []string
}

// Extractor is the single contract both backends satisfy.
type Extractor interface {
	Extract(ctx context.Context, doc []byte) (TextDocument, error)
}
