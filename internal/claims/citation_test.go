package claims

import (
	"context"
	"testing"
)

func TestClassifyCitationTrue(t *testing.T) {
	fc := &fakeChatClient{response: `{"is_citation": true}`}
	c := &CitationClassifier{Client: fc, Model: "test-model"}
	ok, err := c.Classify(context.Background(), "Smith et al. 2021", "as shown by Smith et al. 2021, throughput improved")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !ok {
		t.Fatal("expected is_citation=true")
	}
}

func TestClassifyCitationFalse(t *testing.T) {
	fc := &fakeChatClient{response: `{"is_citation": false}`}
	c := &CitationClassifier{Client: fc, Model: "test-model"}
	ok, err := c.Classify(context.Background(), "Home", "see our Home page for more")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if ok {
		t.Fatal("expected is_citation=false")
	}
}

func TestClassifyNotConfigured(t *testing.T) {
	c := &CitationClassifier{}
	if _, err := c.Classify(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error for unconfigured classifier")
	}
}
