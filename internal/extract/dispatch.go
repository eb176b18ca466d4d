package extract

import "strings"

// ForContentType extracts a Document from input according to its MIME
// content type, dispatching to FromPDF for "application/pdf" and
// FromHTML for everything else (the C9 extract job's single entry
// point, given a C13 store.Page's stored ContentType).
func ForContentType(contentType string, input []byte) (Document, error) {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return FromPDF(input)
	}
	return FromHTML(input), nil
}
