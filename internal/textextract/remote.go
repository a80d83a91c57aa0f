package textextract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
)

// RemoteConfig configures the hosted OCR backend.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration // default 45s, applied per request
}

// Remote sends document bytes to a hosted OCR service. Higher accuracy than
// local tesseract on poor scans, at the cost of a network round trip.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
	logger *slog.Logger
}

// NewRemote builds the remote backend.
func NewRemote(cfg RemoteConfig, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Remote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// ocrResponse is the service's wire format.
type ocrResponse struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Pages      int      `json:"pages"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Extract posts the document and maps the response onto TextDocument.
// Service-side partial reads (low confidence, warnings) come back as
// reduced reliability, not as errors.
func (r *Remote) Extract(ctx context.Context, doc []byte) (TextDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(doc))
	if err != nil {
		return TextDocument{}, common.NonRetryable(fmt.Errorf("build ocr request: %w", err))
	}
	req.Header.Set("Content-Type", "application/pdf")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		// network errors and timeouts are worth another attempt
		return TextDocument{}, common.Retryable(fmt.Errorf("ocr request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return TextDocument{}, common.Retryable(fmt.Errorf("read ocr response: %w", err))
	}

	r.logger.Debug("remote ocr response",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return TextDocument{}, common.Retryable(fmt.Errorf("ocr service %d: %s", resp.StatusCode, truncate(string(body), 512)))
	case resp.StatusCode != http.StatusOK:
		return TextDocument{}, common.NonRetryable(fmt.Errorf("ocr service %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	var out ocrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return TextDocument{}, common.NonRetryable(fmt.Errorf("decode ocr response: %w", err))
	}
	if out.Text == "" {
		return TextDocument{}, common.NonRetryable(fmt.Errorf("%w: ocr service returned no text", common.ErrExtractionFailed))
	}

	reliability := out.Confidence
	if reliability <= 0 || reliability > 1 {
		reliability = heuristicReliability(out.Text)
	}
	pages := out.Pages
	if pages <= 0 {
		pages = 1
	}
	return TextDocument{
		Text:        CleanText(out.Text),
		Pages:       pages,
		Method:      constants.MethodRemoteOCR,
		Reliability: reliability,
		Warnings:    out.Warnings,
	}, nil
}
