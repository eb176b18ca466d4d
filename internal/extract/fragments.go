package extract

import "strings"

// DefaultFragmentMin and DefaultFragmentMax bound C9's target fragment
// length, in bytes.
const (
	DefaultFragmentMin = 400
	DefaultFragmentMax = 1200
)

// Split breaks text into fragments of at most maxLen bytes, closing a
// fragment once it reaches minLen bytes, breaking on paragraph boundaries
// first and falling back to sentence boundaries when a single paragraph
// exceeds maxLen. It never splits mid-word, so a single sentence longer
// than maxLen stays whole, and the last fragment may be shorter than
// minLen. A zero minLen/maxLen falls back to the package defaults.
func Split(text string, minLen, maxLen int) []string {
	if minLen <= 0 {
		minLen = DefaultFragmentMin
	}
	if maxLen <= 0 {
		maxLen = DefaultFragmentMax
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	var fragments []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			fragments = append(fragments, s)
		}
		buf.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for _, piece := range splitOversizedParagraph(p, maxLen) {
			if buf.Len() > 0 && buf.Len()+len(piece)+1 > maxLen {
				flush()
			}
			if buf.Len() > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(piece)
			if buf.Len() >= minLen {
				flush()
			}
		}
	}
	flush()
	return fragments
}

// splitOversizedParagraph breaks a single paragraph on sentence
// boundaries when it exceeds maxLen, otherwise returns it whole.
func splitOversizedParagraph(p string, maxLen int) []string {
	if len(p) <= maxLen {
		return []string{p}
	}
	sentences := splitSentences(p)
	var out []string
	var buf strings.Builder
	for _, s := range sentences {
		if buf.Len() > 0 && buf.Len()+len(s)+1 > maxLen {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		out = append(out, strings.TrimSpace(buf.String()))
	}
	return out
}

func splitSentences(p string) []string {
	var sentences []string
	var start int
	for i, r := range p {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			if end > start {
				sentences = append(sentences, strings.TrimSpace(p[start:end]))
			}
			start = end
		}
	}
	if start < len(p) {
		if rest := strings.TrimSpace(p[start:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	if len(sentences) == 0 {
		return []string{p}
	}
	return sentences
}
