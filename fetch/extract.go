package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// extractDocument parses an HTML body and returns its title and a
// whitespace-normalized plain-text rendering. Script, style and other
// non-content subtrees are skipped. A body that fails to parse as HTML
// is returned verbatim as content.
func extractDocument(body string) (title, content string) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", strings.TrimSpace(body)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template", "iframe":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "article", "section":
				b.WriteByte('\n')
			}
		case html.TextNode:
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, normalizeText(b.String())
}

// normalizeText collapses runs of whitespace inside lines and drops
// blank lines entirely.
func normalizeText(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
