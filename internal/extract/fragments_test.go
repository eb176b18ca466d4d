package extract

import (
	"strings"
	"testing"
)

func TestSplitRespectsRangeAndParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // ~150 runes, under default min
	text := para + "\n\n" + para + "\n\n" + para
	frags := Split(text, 100, 300)
	if len(frags) == 0 {
		t.Fatal("expected at least one fragment")
	}
	for _, f := range frags {
		if len(f) > 300+50 { // sentence-splitting may slightly overshoot a single long clause
			t.Fatalf("fragment exceeds max length: %d runes", len(f))
		}
	}
}

func TestSplitBreaksOversizedParagraphOnSentences(t *testing.T) {
	sentence := "This is one sentence of a long paragraph that keeps going. "
	huge := strings.Repeat(sentence, 40)
	frags := Split(huge, 100, 300)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments from an oversized paragraph, got %d", len(frags))
	}
	joined := strings.Join(frags, " ")
	if !strings.Contains(joined, "This is one sentence") {
		t.Fatalf("expected original sentence text to survive splitting")
	}
}

func TestSplitEmptyInput(t *testing.T) {
	if frags := Split("   ", 100, 300); len(frags) != 0 {
		t.Fatalf("expected no fragments for blank input, got %d", len(frags))
	}
}

func TestSplitUsesDefaultsWhenUnset(t *testing.T) {
	text := strings.Repeat("x ", 1000)
	frags := Split(text, 0, 0)
	if len(frags) == 0 {
		t.Fatal("expected fragments using package defaults")
	}
}
