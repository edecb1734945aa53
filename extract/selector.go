package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// selectText joins the text of every node matching one of selectors.
//
// Supported: tag, .class, #id, tag.class, tag#id, [attr], tag[attr=val],
// and the descendant combinator (space).
func selectText(doc *html.Node, selectors []string, minLen int) string {
	var parts []string
	for _, sel := range selectors {
		for _, n := range querySelectorAll(doc, sel) {
			if t := collectText(n); len(t) >= minLen {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func querySelectorAll(doc *html.Node, selector string) []*html.Node {
	steps := strings.Fields(selector)
	if len(steps) == 0 {
		return nil
	}
	matches := matchBelow(doc, parseSimple(steps[0]))
	for _, step := range steps[1:] {
		s := parseSimple(step)
		var next []*html.Node
		for _, m := range matches {
			for c := m.FirstChild; c != nil; c = c.NextSibling {
				next = append(next, matchBelow(c, s)...)
			}
		}
		matches = next
	}
	return matches
}

func matchBelow(root *html.Node, s simple) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if s.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

type simple struct {
	tag, id, class   string
	attrKey, attrVal string
}

func parseSimple(sel string) simple {
	var s simple
	if i := strings.IndexByte(sel, '['); i >= 0 {
		a := strings.TrimSuffix(sel[i+1:], "]")
		sel = sel[:i]
		if k, v, ok := strings.Cut(a, "="); ok {
			s.attrKey, s.attrVal = k, strings.Trim(v, `"'`)
		} else {
			s.attrKey = a
		}
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		s.id, sel = sel[i+1:], sel[:i]
	}
	if i := strings.IndexByte(sel, '.'); i >= 0 {
		s.class, sel = sel[i+1:], sel[:i]
	}
	s.tag = sel
	return s
}

func (s simple) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if s.attrVal != "" {
			return attr(n, s.attrKey) == s.attrVal
		}
		for _, a := range n.Attr {
			if a.Key == s.attrKey {
				return true
			}
		}
		return false
	}
	return true
}
