package browser

import (
	"context"
	"encoding/json"
	"fmt"
)

// Element is one visible interactive element of a page.
type Element struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Role        string `json:"role,omitempty"`
	Text        string `json:"text"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	// Selector is a CSS path that survives a reload of the same document,
	// unlike injected marker attributes.
	Selector string `json:"selector"`
}

// maxObserved caps the enumeration on very large pages.
const maxObserved = 400

const observeScript = `(max) => {
	const interactive = 'a[href], button, input, select, textarea, summary, [role="button"], [role="link"], [role="tab"], [role="menuitem"], [onclick], [contenteditable="true"]';

	function visible(el) {
		const r = el.getBoundingClientRect();
		if (r.width < 1 || r.height < 1) return false;
		const s = window.getComputedStyle(el);
		return s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';
	}

	function cssPath(el) {
		if (el.id && document.querySelectorAll('#' + CSS.escape(el.id)).length === 1) {
			return '#' + CSS.escape(el.id);
		}
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.documentElement) {
			if (node.id && document.querySelectorAll('#' + CSS.escape(node.id)).length === 1) {
				parts.unshift('#' + CSS.escape(node.id));
				break;
			}
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(' > ');
	}

	const items = [];
	for (const el of document.querySelectorAll(interactive)) {
		if (items.length >= max) break;
		if (!visible(el)) continue;
		const text = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('title') || '')
			.replace(/\s+/g, ' ').trim().substring(0, 120);
		items.push({
			index: items.length,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || '',
			text: text,
			href: el.href || '',
			placeholder: el.getAttribute('placeholder') || '',
			selector: cssPath(el),
		});
	}
	return JSON.stringify(items);
}`

// Observe enumerates the visible interactive elements of p in document order.
func Observe(ctx context.Context, p *Page) ([]Element, error) {
	res, err := p.p.Context(ctx).Eval(observeScript, maxObserved)
	if err != nil {
		return nil, fmt.Errorf("browser: observe: %w", err)
	}
	return parseElements(res.Value.Str())
}

func parseElements(raw string) ([]Element, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var els []Element
	if err := json.Unmarshal([]byte(raw), &els); err != nil {
		return nil, fmt.Errorf("browser: observe: decode: %w", err)
	}
	return els, nil
}
