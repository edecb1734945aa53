// Package extract turns a rendered page into structured data: title,
// description, headings, paragraphs, absolute links, and the main text
// block found by landmark or text-density analysis.
package extract

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrEmptyDocument is returned for input with no parseable element.
var ErrEmptyDocument = errors.New("extract: empty document")

// Heading is an h1-h3 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor with its href resolved against the page URL.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Document is the structured view of a page.
type Document struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Lang        string    `json:"lang,omitempty"`
	Headings    []Heading `json:"headings"`
	Paragraphs  []string  `json:"paragraphs"`
	Links       []Link    `json:"links"`
	MainText    string    `json:"main_text"`
	// Hash is the SHA-256 of MainText, for change detection across runs.
	Hash string `json:"hash"`
}

// HasContent reports whether the page yielded a title and some body text.
func (d *Document) HasContent() bool {
	return d.Title != "" && (len(d.Headings) > 0 || len(d.Paragraphs) > 0)
}

// Options controls extraction.
type Options struct {
	// Selectors locate the main content ("article", "div.content", "#main").
	// Empty = landmarks, then density.
	Selectors []string
	// MinTextLen is the shortest block accepted as main text. Default: 20.
	MinTextLen int
}

func (o *Options) defaults() {
	if o.MinTextLen <= 0 {
		o.MinTextLen = 20
	}
}

// Page extracts a Document from rawHTML served at baseURL.
func Page(rawHTML, baseURL string) (*Document, error) {
	return PageWith(rawHTML, baseURL, Options{})
}

// PageWith is Page with explicit options.
func PageWith(rawHTML, baseURL string, opts Options) (*Document, error) {
	opts.defaults()

	if strings.TrimSpace(rawHTML) == "" {
		return nil, ErrEmptyDocument
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("extract: parse: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("extract: base url: %w", err)
	}

	d := &Document{URL: baseURL}
	walkDocument(doc, base, d)

	main := ""
	if len(opts.Selectors) > 0 {
		main = selectText(doc, opts.Selectors, opts.MinTextLen)
	}
	if main == "" {
		main = mainText(doc, opts.MinTextLen)
	}
	d.MainText = main
	d.Hash = fmt.Sprintf("%x", sha256.Sum256([]byte(main)))
	return d, nil
}

// walkDocument fills the metadata, headings, paragraphs and links of d.
func walkDocument(n *html.Node, base *url.URL, d *Document) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Html:
			d.Lang = attr(n, "lang")
		case atom.Title:
			if d.Title == "" {
				d.Title = collectText(n)
			}
			return
		case atom.Meta:
			name := strings.ToLower(attr(n, "name"))
			prop := strings.ToLower(attr(n, "property"))
			if d.Description == "" && (name == "description" || prop == "og:description") {
				d.Description = strings.TrimSpace(attr(n, "content"))
			}
		case atom.H1, atom.H2, atom.H3:
			if t := collectText(n); t != "" {
				d.Headings = append(d.Headings, Heading{Level: int(n.Data[1] - '0'), Text: t})
			}
		case atom.P:
			if t := collectText(n); t != "" {
				d.Paragraphs = append(d.Paragraphs, t)
			}
		case atom.A:
			if href := attr(n, "href"); href != "" {
				if abs, ok := resolve(base, href); ok {
					d.Links = append(d.Links, Link{Text: collectText(n), URL: abs})
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkDocument(c, base, d)
	}
}

// resolve makes href absolute. Fragment-only and script links are dropped.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	switch abs.Scheme {
	case "http", "https", "mailto":
		return abs.String(), true
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collectText joins the visible text of a subtree with single spaces.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			for _, w := range strings.Fields(n.Data) {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(w)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
