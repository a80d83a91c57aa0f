package constants

import "strings"

// Extraction method labels stored in the processing log.
const (
	MethodPDFText   = "pdf-text"   // embedded text layer via pdftotext
	MethodPDFOCR    = "pdf-ocr"    // rasterize + tesseract
	MethodPDFNative = "pdf-native" // pdfcpu content-stream fallback
	MethodRemoteOCR = "remote-ocr" // hosted OCR service
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
