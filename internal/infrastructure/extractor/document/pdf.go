package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

func (e *Extractor) extractPDF(ctx context.Context, src domain.ExtractionSource, progress domain.ProgressFunc) (domain.ExtractedText, error) {
	reader, err := openPDF(src.Body)
	if err != nil {
		return domain.ExtractedText{}, err
	}

	pages := reader.NumPage()
	if pages == 0 {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnusableInput, "extract pdf", fmt.Errorf("%s has no pages", src.Filename))
	}
	if pages > e.maxPages {
		return domain.ExtractedText{}, domain.WrapError(domain.ErrUnusableInput, "extract pdf", fmt.Errorf("%s has %d pages, limit is %d", src.Filename, pages, e.maxPages))
	}

	var (
		native  pageWriter
		ocr     pageWriter
		session ports.OCRSession
		ocrErr  error
	)
	defer func() {
		if session == nil {
			return
		}
		if err := session.Close(); err != nil {
			e.logger.Warn("ocr_session_close_failed", "file", src.Filename, "error", err)
		}
	}()

	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return domain.ExtractedText{}, err
		}
		progress(fmt.Sprintf("Extraindo texto: página %d de %d", i, pages))

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := pageText(page)
		if err != nil {
			e.logger.Warn("pdf_page_text_failed", "file", src.Filename, "page", i, "error", err)
		}
		native.add(i, text)

		if !hasRasterImage(page) || (session == nil && ocrErr != nil) {
			continue
		}
		progress(fmt.Sprintf("Executando OCR: página %d de %d", i, pages))
		if err := e.ocrPage(ctx, src, i, &session, &ocr); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.ExtractedText{}, ctxErr
			}
			e.logger.Warn("pdf_page_ocr_failed", "file", src.Filename, "page", i, "error", err)
			ocrErr = err
		}
	}

	combined := combine(native.String(), ocr.String())
	if ocrErr != nil && len([]rune(strings.TrimSpace(combined))) < domain.MinUsableChars {
		return domain.ExtractedText{}, ocrErr
	}
	return domain.ExtractedText{
		Native:   native.String(),
		OCR:      ocr.String(),
		Combined: combined,
		Pages:    pages,
	}, nil
}

// ocrPage opens the shared session on first use and appends the page's
// recognized text.
func (e *Extractor) ocrPage(ctx context.Context, src domain.ExtractionSource, i int, session *ports.OCRSession, ocr *pageWriter) error {
	if *session == nil {
		opened, err := e.ocr.Open(ctx, e.language)
		if err != nil {
			return fmt.Errorf("open ocr session: %w", err)
		}
		*session = opened
	}
	image, err := e.raster.RenderPage(ctx, src.Body, i)
	if err != nil {
		return fmt.Errorf("rasterize page %d: %w", i, err)
	}
	recognized, err := (*session).Recognize(ctx, image)
	if err != nil {
		return fmt.Errorf("ocr page %d: %w", i, err)
	}
	ocr.add(i, recognized)
	return nil
}

// openPDF parses the document. The parser panics on some malformed files, so
// a panic is reported as unusable input.
func openPDF(body []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader = nil
			err = domain.WrapError(domain.ErrUnusableInput, "open pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()
	reader, err = pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnusableInput, "open pdf", err)
	}
	return reader, nil
}

func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("page text panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// hasRasterImage reports whether the page resources reference an image
// XObject, directly or inside a form XObject.
func hasRasterImage(page pdf.Page) (found bool) {
	defer func() {
		if recover() != nil {
			found = false
		}
	}()
	return resourcesHaveImage(page.Resources(), 0)
}

func resourcesHaveImage(resources pdf.Value, depth int) bool {
	if resources.IsNull() || depth > 4 {
		return false
	}
	xobjects := resources.Key("XObject")
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		switch obj.Key("Subtype").Name() {
		case "Image":
			return true
		case "Form":
			if resourcesHaveImage(obj.Key("Resources"), depth+1) {
				return true
			}
		}
	}
	return false
}
