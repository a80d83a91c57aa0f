package textextract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
)

// LocalConfig configures the local extraction backend.
type LocalConfig struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	// MinTextChars is the significant-character floor below which the text
	// layer is considered a scan wrapper and OCR takes over. Default 50.
	MinTextChars int
}

// Local extracts text with poppler tools and tesseract, falling back to
// pdfcpu's content-stream text when the tools are not installed.
type Local struct {
	cfg    LocalConfig
	runner Runner
	logger *slog.Logger
}

// NewLocal builds the local backend with defaults applied.
func NewLocal(cfg LocalConfig, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 50
	}
	return &Local{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the exec runner; tests stub external tools through this.
func (l *Local) WithRunner(r Runner) *Local {
	l.runner = r
	return l
}

// Extract tries the embedded text layer first, then rasterize+OCR, then the
// pdfcpu native reader. Partial reads return best-effort text with reduced
// reliability; only total unreadability is an error.
func (l *Local) Extract(ctx context.Context, doc []byte) (TextDocument, error) {
	pdfCtx, info, err := preflight(doc)
	if err != nil {
		return TextDocument{}, common.NonRetryable(fmt.Errorf("%w: %v", common.ErrExtractionFailed, err))
	}
	l.logger.Debug("preflight ok", "pages", info.Pages, "has_images", info.HasImages)

	path, cleanup, err := spool(doc)
	if err != nil {
		return TextDocument{}, common.Retryable(fmt.Errorf("spool document: %w", err))
	}
	defer cleanup()

	var warnings []string

	// 1) embedded text layer
	text, pages, warns, err := l.pdfToText(ctx, path)
	warnings = append(warnings, warns...)
	if err == nil && significantChars(text) >= l.cfg.MinTextChars {
		return TextDocument{
			Text:        CleanText(text),
			Pages:       pages,
			Method:      constants.MethodPDFText,
			Reliability: 0.95,
			Warnings:    warnings,
		}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return TextDocument{}, common.Retryable(ctx.Err())
		}
		warnings = append(warnings, fmt.Sprintf("pdftotext unavailable: %v", err))
	}

	// 2) rasterize + OCR each page
	text, pages, warns, err = l.pdfToOCR(ctx, path)
	warnings = append(warnings, warns...)
	if err == nil && significantChars(text) > 0 {
		text = CleanText(text)
		return TextDocument{
			Text:        text,
			Pages:       pages,
			Method:      constants.MethodPDFOCR,
			Reliability: heuristicReliability(text),
			Warnings:    warnings,
		}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return TextDocument{}, common.Retryable(ctx.Err())
		}
		warnings = append(warnings, fmt.Sprintf("ocr unavailable: %v", err))
	}

	// 3) pure-Go fallback
	if text, pages := nativeText(pdfCtx); significantChars(text) > 0 {
		text = CleanText(text)
		warnings = append(warnings, "extracted via pdfcpu content streams; layout fidelity reduced")
		return TextDocument{
			Text:        text,
			Pages:       pages,
			Method:      constants.MethodPDFNative,
			Reliability: heuristicReliability(text),
			Warnings:    warnings,
		}, nil
	}

	l.logger.Error("no extraction method produced text", "pages", info.Pages, "warnings", len(warnings))
	return TextDocument{}, common.NonRetryable(
		fmt.Errorf("%w: no method produced text (%s)", common.ErrExtractionFailed, strings.Join(warnings, "; ")))
}

func (l *Local) pdfToText(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := l.runner.Run(ctx, l.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, nil, fmt.Errorf("pdftotext: %w (%s)", err, truncate(string(errb), 512))
	}
	text = string(out)
	// A form-feed \f is used as page separator by default
	pages = 1 + strings.Count(text, "\f")
	return text, pages, nil, nil
}

func (l *Local) pdfToOCR(ctx context.Context, path string) (text string, pages int, warnings []string, err error) {
	tmpDir, err := os.MkdirTemp("", "uip-pp-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			l.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := l.runner.Run(ctx, l.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", l.cfg.DPI), "-png", path, prefix); err != nil {
		return "", 0, nil, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if l.cfg.MaxPages > 0 && len(matches) > l.cfg.MaxPages {
		matches = matches[:l.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, nil, fmt.Errorf("pdftoppm produced no images")
	}

	var b strings.Builder
	var warns []string
	for _, img := range matches {
		txt, w, err := l.tesseractOCR(ctx, img)
		if err != nil {
			// per-page OCR failure degrades reliability, it does not abort
			warns = append(warns, err.Error())
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
		warns = append(warns, w...)
	}
	return b.String(), len(matches), warns, nil
}

func (l *Local) tesseractOCR(ctx context.Context, imgPath string) (string, []string, error) {
	// tesseract <img> stdout -l eng --psm 6
	out, errb, err := l.runner.Run(ctx, l.cfg.Tesseract, imgPath, "stdout", "-l", l.cfg.TesseractLang, "--psm", "6")
	if err != nil {
		return "", nil, fmt.Errorf("tesseract %s: %w (%s)", filepath.Base(imgPath), err, truncate(string(errb), 512))
	}
	var warns []string
	if s := strings.TrimSpace(string(errb)); s != "" {
		warns = append(warns, truncate(s, 512))
	}
	return string(out), warns, nil
}

// spool writes document bytes to a temp file for the external tools.
func spool(doc []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "uip-doc-*.pdf")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.Write(doc); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", nil, err
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}
