package extract

import (
	"strings"
	"testing"
)

func TestForContentTypeDispatchesHTML(t *testing.T) {
	doc, err := ForContentType("text/html; charset=utf-8", []byte(`<html><body><main><p>hi</p></main></body></html>`))
	if err != nil {
		t.Fatalf("ForContentType: %v", err)
	}
	if !strings.Contains(doc.Text, "hi") {
		t.Fatalf("expected html body text, got %q", doc.Text)
	}
}

func TestForContentTypeDispatchesPDF(t *testing.T) {
	doc, err := ForContentType("application/pdf", decodeSamplePDF(t, samplePDFWithText))
	if err != nil {
		t.Fatalf("ForContentType: %v", err)
	}
	if !strings.Contains(doc.Text, "Hello World") {
		t.Fatalf("expected pdf text, got %q", doc.Text)
	}
}
