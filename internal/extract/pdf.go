package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/lyra-research/lyra/internal/lyraerr"
)

// minTextPerPage is the byte-count floor below which a document's average
// per-page text is treated as image-only (scanned) rather than genuinely
// empty.
const minTextPerPage = 40

// FromPDF extracts plain text from a PDF document, per C9's PDF-to-text
// tier. It returns a lyraerr.ErrExtractionFailure when the document
// parses but carries no meaningful extractable text layer (a scanned
// PDF): there is no OCR engine wired, so a scanned page is reported as a
// failure rather than silently returned as an empty document.
func FromPDF(input []byte) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(input), int64(len(input)))
	if err != nil {
		return Document{}, fmt.Errorf("%w: open pdf: %v", lyraerr.ErrExtractionFailure, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("%w: read pdf text: %v", lyraerr.ErrExtractionFailure, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return Document{}, fmt.Errorf("%w: read pdf text: %v", lyraerr.ErrExtractionFailure, err)
	}

	text := normalizeWhitespace(buf.String())
	pages := reader.NumPage()
	if pages > 0 && len(strings.TrimSpace(text)) < minTextPerPage*pages {
		return Document{}, fmt.Errorf("%w: pdf has no extractable text layer (likely scanned, OCR not available)", lyraerr.ErrExtractionFailure)
	}

	return Document{Title: findPDFTitle(reader), Text: text}, nil
}

func findPDFTitle(reader *pdf.Reader) string {
	trailer := reader.Trailer()
	info := trailer.Key("Info")
	if info.IsNull() {
		return ""
	}
	title := info.Key("Title")
	if title.IsNull() {
		return ""
	}
	return strings.TrimSpace(title.Text())
}
