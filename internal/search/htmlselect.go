package search

import (
	"strings"

	"golang.org/x/net/html"
)

// selector is a parsed "tag" or "tag.class" match spec, the declared-config
// selector shape for C5. It deliberately does not support full CSS
// selector syntax: engines only ever need one tag plus an optional class.
type selector struct {
	tag   string
	class string
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return selector{tag: s[:i], class: s[i+1:]}
	}
	return selector{tag: s}
}

func nodeMatches(n *html.Node, sel selector) bool {
	if n.Type != html.ElementNode || n.Data != sel.tag {
		return false
	}
	if sel.class == "" {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == sel.class {
				return true
			}
		}
	}
	return false
}

// findAll walks doc depth-first collecting every node matching sel.
func findAll(doc *html.Node, sel selector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if nodeMatches(n, sel) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// findFirst returns the first descendant of n (n included) matching sel.
func findFirst(n *html.Node, sel selector) (*html.Node, bool) {
	if nodeMatches(n, sel) {
		return n, true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found, ok := findFirst(c, sel); ok {
			return found, true
		}
	}
	return nil, false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// extractResults pulls Result items out of a parsed SERP document using
// the engine's declared container/title/url/snippet selectors.
func extractResults(doc *html.Node, sel Selectors, source string) []Result {
	containerSel := parseSelector(sel.Container)
	titleSel := parseSelector(sel.Title)
	urlSel := parseSelector(sel.URL)
	snippetSel := parseSelector(sel.Snippet)

	var out []Result
	for _, container := range findAll(doc, containerSel) {
		titleNode, ok := findFirst(container, titleSel)
		if !ok {
			continue
		}
		urlNode, ok := findFirst(container, urlSel)
		if !ok {
			continue
		}
		href, ok := attr(urlNode, "href")
		if !ok || href == "" {
			continue
		}
		title := textContent(titleNode)
		if title == "" {
			continue
		}
		snippet := ""
		if snippetNode, ok := findFirst(container, snippetSel); ok {
			snippet = textContent(snippetNode)
		}
		out = append(out, Result{Title: title, URL: href, Snippet: snippet, Source: source})
	}
	return out
}

// containsAnySignature reports whether body contains any of the declared
// signatures, case-insensitively, the same approach as fetch's
// classifyChallenge but scoped to one engine's declared markers.
func containsAnySignature(body string, signatures []string) (string, bool) {
	lower := strings.ToLower(body)
	for _, sig := range signatures {
		if sig == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(sig)) {
			return sig, true
		}
	}
	return "", false
}
