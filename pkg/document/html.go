package document

import (
	"strings"

	"golang.org/x/net/html"
)

// dropped are elements that never carry policy text.
var dropped = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"iframe": true, "object": true, "embed": true, "form": true,
	"button": true, "input": true, "head": true,
}

// extractMainContent returns the HTML of the main content area: the first
// <main> or <article> element, or the body. Non-content elements are removed.
func extractMainContent(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return page
	}

	removeElements(doc)

	for _, tag := range []string{"main", "article", "body"} {
		if node := findElement(doc, tag); node != nil {
			return renderChildren(node)
		}
	}
	return renderChildren(doc)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func removeElements(n *html.Node) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && dropped[node.Data] {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func renderChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return sb.String()
}
