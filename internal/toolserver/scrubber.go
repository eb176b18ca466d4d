package toolserver

import "strings"

// neutralizedTags is the set of prompt-structuring tags a scrubbed string
// must never carry through to a client verbatim, since an LLM-originated
// field (a synthesized claim, an extracted fragment) could contain text
// copied from a fetched page that tries to impersonate one of these.
var neutralizedTags = []string{
	"system", "instructions", "tool_result", "tool_use", "important",
	"assistant", "user", "task_brief",
}

// literalPatterns are instruction-formatting markers from common chat
// templates, neutralized the same way regardless of source model.
var literalPatterns = []struct{ pattern, replacement string }{
	{"[inst]", "[[inst]]"},
	{"[/inst]", "[[/inst]]"},
	{"<<sys>>", "[[sys]]"},
	{"<</sys>>", "[[/sys]]"},
	{"<![cdata[", "[CDATA["},
	{"]]>", "]]&gt;"},
}

// Scrubber redacts suspected system-prompt leakage (by n-gram match
// against a known system prompt) and neutralizes tag-pattern injection
// attempts in any LLM-originated string field before it reaches a client.
type Scrubber struct {
	ngramSize int
	ngrams    map[string]bool
}

const defaultNgramSize = 6

// NewScrubber precomputes the n-gram set of systemPrompt so Scrub can
// redact any substring of a tool output that echoes it verbatim. An
// empty systemPrompt disables the n-gram stage; tag neutralization
// always runs.
func NewScrubber(systemPrompt string) *Scrubber {
	s := &Scrubber{ngramSize: defaultNgramSize, ngrams: make(map[string]bool)}
	words := strings.Fields(systemPrompt)
	for i := 0; i+s.ngramSize <= len(words); i++ {
		s.ngrams[strings.Join(words[i:i+s.ngramSize], " ")] = true
	}
	return s
}

// Scrub applies tag neutralization then n-gram redaction to text.
func (s *Scrubber) Scrub(text string) string {
	text = neutralizeTags(text)
	if s == nil || len(s.ngrams) == 0 {
		return text
	}
	return redactNgrams(text, s.ngrams, s.ngramSize)
}

func redactNgrams(text string, ngrams map[string]bool, n int) string {
	words := strings.Fields(text)
	if len(words) < n {
		return text
	}
	redacted := make([]bool, len(words))
	for i := 0; i+n <= len(words); i++ {
		if ngrams[strings.Join(words[i:i+n], " ")] {
			for j := i; j < i+n; j++ {
				redacted[j] = true
			}
		}
	}
	out := make([]string, len(words))
	for i, w := range words {
		if redacted[i] {
			out[i] = "[REDACTED]"
		} else {
			out[i] = w
		}
	}
	return collapseRedactions(out)
}

// collapseRedactions merges adjacent [REDACTED] markers into one.
func collapseRedactions(words []string) string {
	var b strings.Builder
	prevRedacted := false
	for i, w := range words {
		if w == "[REDACTED]" {
			if prevRedacted {
				continue
			}
			prevRedacted = true
		} else {
			prevRedacted = false
		}
		if i > 0 && b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	return b.String()
}

// neutralizeTags rewrites <tag>/</tag>/<tag/> occurrences (for the fixed
// set of tags that carry prompt-structuring meaning) and common
// instruction-template literals into bracket form, so they render as
// inert text instead of being interpreted as structure by a downstream
// LLM consuming the tool response.
func neutralizeTags(text string) string {
	lower := strings.ToLower(text)
	var result strings.Builder
	result.Grow(len(text))
	i := 0
	for i < len(text) {
		matched := false

		for _, lp := range literalPatterns {
			if i+len(lp.pattern) <= len(text) && lower[i:i+len(lp.pattern)] == lp.pattern {
				result.WriteString(lp.replacement)
				i += len(lp.pattern)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		for _, tag := range neutralizedTags {
			closeTag := "</" + tag + ">"
			openTag := "<" + tag + ">"
			openTagAttr := "<" + tag + " "
			selfClose := "<" + tag + "/>"
			switch {
			case i+len(closeTag) <= len(text) && lower[i:i+len(closeTag)] == closeTag:
				result.WriteString("[/" + tag + "]")
				i += len(closeTag)
				matched = true
			case i+len(selfClose) <= len(text) && lower[i:i+len(selfClose)] == selfClose:
				result.WriteString("[" + tag + "/]")
				i += len(selfClose)
				matched = true
			case i+len(openTag) <= len(text) && lower[i:i+len(openTag)] == openTag:
				result.WriteString("[" + tag + "]")
				i += len(openTag)
				matched = true
			case i+len(openTagAttr) <= len(text) && lower[i:i+len(openTagAttr)] == openTagAttr:
				result.WriteString("[" + tag + " ")
				i += len(openTagAttr)
				matched = true
			}
			if matched {
				break
			}
		}
		if !matched {
			result.WriteByte(text[i])
			i++
		}
	}
	return result.String()
}

// scrubStrings walks a decoded JSON value in place, scrubbing every
// string leaf.
func scrubStrings(v any, s *Scrubber) {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if str, ok := val.(string); ok {
				x[k] = s.Scrub(str)
				continue
			}
			scrubStrings(val, s)
		}
	case []any:
		for i, val := range x {
			if str, ok := val.(string); ok {
				x[i] = s.Scrub(str)
				continue
			}
			scrubStrings(val, s)
		}
	}
}
