package app

import "testing"

func TestDoiFromURL_ExtractsDOIFromDoiOrgLink(t *testing.T) {
	got := doiFromURL("https://doi.org/10.1038/s41586-020-2649-2")
	if got != "10.1038/s41586-020-2649-2" {
		t.Fatalf("doiFromURL = %q, want 10.1038/s41586-020-2649-2", got)
	}
}

func TestDoiFromURL_EmptyForNonDOIURL(t *testing.T) {
	if got := doiFromURL("https://example.com/article/1"); got != "" {
		t.Fatalf("expected empty DOI, got %q", got)
	}
}

func TestDomainOf_ExtractsHostname(t *testing.T) {
	if got := domainOf("https://example.com/a/b?c=1"); got != "example.com" {
		t.Fatalf("domainOf = %q, want example.com", got)
	}
}

func TestDomainOf_EmptyForUnparsableURL(t *testing.T) {
	if got := domainOf("://not a url"); got != "" {
		t.Fatalf("expected empty domain, got %q", got)
	}
}
