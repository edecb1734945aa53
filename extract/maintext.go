package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// mainText returns the text of the <main>/<article> landmarks when present,
// otherwise of the subtree with the best text-to-markup density, otherwise
// of the whole body minus boilerplate.
func mainText(doc *html.Node, minLen int) string {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		var parts []string
		for _, n := range findAll(doc, tag) {
			if t := collectText(n); len(t) >= minLen {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}

	body := findFirst(doc, atom.Body)
	if body == nil {
		body = doc
	}
	if best := densest(body, minLen); best != nil {
		return collectText(best)
	}
	if t := cleanText(body); len(t) >= minLen {
		return t
	}
	return ""
}

type candidate struct {
	node     *html.Node
	score    float64
	linkDens float64
}

// densest scores content blocks by density × log(text length) × (1 - link
// density). Blocks that are mostly links are navigation.
func densest(root *html.Node, minLen int) *html.Node {
	var best candidate

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) {
			text := collectText(n)
			if len(text) >= minLen {
				markup := len(render(n))
				if markup == 0 {
					markup = 1
				}
				c := candidate{node: n, linkDens: float64(len(linkText(n))) / float64(len(text))}
				c.score = float64(len(text)) / float64(markup) * logScale(len(text)) * (1 - c.linkDens)
				if c.linkDens <= 0.5 && c.score > best.score {
					best = c
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return best.node
}

func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	for v := n; v > 100; v /= 2 {
		scale++
	}
	return scale
}

func linkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

// cleanText is collectText minus boilerplate regions.
func cleanText(n *html.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && isBoilerplate(c) {
			continue
		}
		if t := collectText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func render(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table, atom.Dl:
		return true
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "popup", "modal",
}

func isBoilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "class", "id":
			lower := strings.ToLower(a.Val)
			for _, p := range boilerplatePatterns {
				if strings.Contains(lower, p) {
					return true
				}
			}
		case "role":
			switch a.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

func findFirst(root *html.Node, tag atom.Atom) *html.Node {
	if all := findAll(root, tag); len(all) > 0 {
		return all[0]
	}
	return nil
}

func findAll(root *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
