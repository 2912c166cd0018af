package document

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// DefaultMaxPages caps the PDFs accepted for extraction.
const DefaultMaxPages = 50

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindImage
	kindHTML
	kindText
)

// Extractor turns an uploaded file into text. PDFs contribute their text
// layer and OCR of pages that carry raster images; images go straight to OCR.
type Extractor struct {
	ocr      ports.OCREngine
	raster   ports.PageRasterizer
	language string
	maxPages int
	logger   *slog.Logger
}

type Options struct {
	Language string
	MaxPages int
	Logger   *slog.Logger
}

func New(ocr ports.OCREngine, raster ports.PageRasterizer, opts Options) *Extractor {
	language := opts.Language
	if language == "" {
		language = "por"
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: ocr, raster: raster, language: language, maxPages: maxPages, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, src domain.ExtractionSource, progress domain.ProgressFunc) (domain.ExtractedText, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if len(src.Body) == 0 {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnusableInput, "extract", fmt.Errorf("empty file %s", src.Filename))
	}

	switch detectKind(src) {
	case kindPDF:
		return e.extractPDF(ctx, src, progress)
	case kindImage:
		return e.extractImage(ctx, src, progress)
	case kindHTML:
		text, err := htmlText(src.Body)
		if err != nil {
			return domain.ExtractedText{}, err
		}
		return nativeOnly(text), nil
	case kindText:
		return nativeOnly(plainText(src.Body)), nil
	default:
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnusableInput, "extract", fmt.Errorf("unsupported file type %q", src.MimeType))
	}
}

func (e *Extractor) extractImage(ctx context.Context, src domain.ExtractionSource, progress domain.ProgressFunc) (domain.ExtractedText, error) {
	progress("Executando OCR na imagem...")
	session, err := e.ocr.Open(ctx, e.language)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("open ocr session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			e.logger.Warn("ocr_session_close_failed", "file", src.Filename, "error", closeErr)
		}
	}()

	text, err := session.Recognize(ctx, src.Body)
	if err != nil {
		return domain.ExtractedText{}, fmt.Errorf("ocr image: %w", err)
	}
	var b pageWriter
	b.add(1, text)
	return domain.ExtractedText{OCR: b.String(), Combined: b.String(), Pages: 1}, nil
}

func nativeOnly(text string) domain.ExtractedText {
	text = strings.TrimSpace(text)
	return domain.ExtractedText{Native: text, Combined: text, Pages: 1}
}

func combine(native, ocr string) string {
	native = strings.TrimSpace(native)
	ocr = strings.TrimSpace(ocr)
	switch {
	case native == "":
		return ocr
	case ocr == "":
		return native
	default:
		return native + "\n\n" + ocr
	}
}

// pageWriter accumulates text under "--- Página N ---" markers, skipping
// pages that produced nothing.
type pageWriter struct {
	b strings.Builder
}

func (w *pageWriter) add(page int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
	fmt.Fprintf(&w.b, "--- Página %d ---\n%s", page, text)
}

func (w *pageWriter) String() string {
	return w.b.String()
}

func detectKind(src domain.ExtractionSource) kind {
	mime := strings.ToLower(strings.TrimSpace(src.MimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if k := kindFromMime(mime); k != kindUnknown {
		return k
	}

	switch strings.ToLower(filepath.Ext(src.Filename)) {
	case ".pdf":
		return kindPDF
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp", ".gif":
		return kindImage
	case ".html", ".htm":
		return kindHTML
	case ".txt", ".md", ".csv":
		return kindText
	}

	if bytes.HasPrefix(src.Body, []byte("%PDF-")) {
		return kindPDF
	}
	sniffed := http.DetectContentType(src.Body)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return kindFromMime(sniffed)
}

func kindFromMime(mime string) kind {
	switch {
	case mime == "application/pdf":
		return kindPDF
	case strings.HasPrefix(mime, "image/"):
		return kindImage
	case mime == "text/html" || mime == "application/xhtml+xml":
		return kindHTML
	case strings.HasPrefix(mime, "text/"):
		return kindText
	default:
		return kindUnknown
	}
}
