package extract

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is an in-body link plus the surrounding text, used by C11's
// citation-detection LLM call to judge whether the link constitutes a
// citation.
type Link struct {
	URL     string
	Text    string
	Context string // up to contextRadius characters of surrounding body text
}

const contextRadius = 160

// ExtractLinks walks the document the same way FromHTML does (preferring
// <main>/<article>, falling back to <body>) and returns every in-body
// anchor with absolute-resolved href plus its surrounding text.
func ExtractLinks(input []byte, baseURL string) []Link {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return nil
	}
	base, _ := url.Parse(baseURL)

	content := findFirst(node, "main")
	if content == nil {
		content = findFirst(node, "article")
	}
	if content == nil {
		content = findFirst(node, "body")
	}
	if content == nil {
		return nil
	}

	var out []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "a") {
			href, ok := hrefOf(n)
			if ok && href != "" {
				resolved := href
				if base != nil {
					if u, err := base.Parse(href); err == nil {
						resolved = u.String()
					}
				}
				text := strings.TrimSpace(collectPlainText(n))
				if text != "" {
					out = append(out, Link{
						URL:     resolved,
						Text:    text,
						Context: surroundingText(content, n),
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(content)
	return out
}

func hrefOf(n *html.Node) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == "href" {
			return a.Val, true
		}
	}
	return "", false
}

func collectPlainText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// surroundingText renders root's full text and slices out a window
// centered on target's approximate offset within it.
func surroundingText(root, target *html.Node) string {
	full := collectPlainText(root)
	anchorText := strings.TrimSpace(collectPlainText(target))
	if anchorText == "" {
		return ""
	}
	idx := strings.Index(full, anchorText)
	if idx < 0 {
		return ""
	}
	start := idx - contextRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(anchorText) + contextRadius
	if end > len(full) {
		end = len(full)
	}
	return strings.TrimSpace(full[start:end])
}
