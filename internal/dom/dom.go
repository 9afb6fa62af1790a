// Package dom wraps an x/net/html tree behind a small mutable document
// API: lookup by selector, element mutation, fragment parsing, and
// serialization back to markup. It is the document-construction
// collaborator of the renderer and knows nothing about script execution.
package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is one parsed page. Wrappers around nodes are cached so that
// repeated lookups of the same node return the same *Element — callers
// key bindings on wrapper identity.
//
// A Document is not safe for concurrent use; each render run owns one.
type Document struct {
	root     *html.Node
	url      string
	wrappers map[*html.Node]*Element
}

// Parse builds a Document from markup. The parser is error-tolerant the
// way browsers are; an error here means the input could not be consumed
// at all.
func Parse(markup, url string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}
	return &Document{
		root:     root,
		url:      url,
		wrappers: make(map[*html.Node]*Element),
	}, nil
}

// URL returns the document's recorded URL.
func (d *Document) URL() string { return d.url }

// SetURL updates the document's recorded URL (navigation shim writes).
func (d *Document) SetURL(u string) { d.url = u }

// Serialize renders the current tree back to markup text.
func (d *Document) Serialize() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return "", fmt.Errorf("serializing document: %w", err)
	}
	return sb.String(), nil
}

// wrap returns the cached Element for n, creating it on first use.
func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	if el, ok := d.wrappers[n]; ok {
		return el
	}
	el := &Element{n: n, doc: d}
	d.wrappers[n] = el
	return el
}

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *Element {
	return d.wrap(findFirst(d.root, atom.Html))
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *Element {
	return d.wrap(findFirst(d.root, atom.Head))
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *Element {
	return d.wrap(findFirst(d.root, atom.Body))
}

// Title returns the text of the first <title>, or "".
func (d *Document) Title() string {
	if n := findFirst(d.root, atom.Title); n != nil {
		return textOf(n)
	}
	return ""
}

// SetTitle replaces the document title, creating <title> under <head>
// when missing.
func (d *Document) SetTitle(title string) {
	n := findFirst(d.root, atom.Title)
	if n == nil {
		head := findFirst(d.root, atom.Head)
		if head == nil {
			return
		}
		n = &html.Node{Type: html.ElementNode, DataAtom: atom.Title, Data: "title"}
		head.AppendChild(n)
	}
	setTextOf(n, title)
}

// BaseHref returns the href of the first <base> element, if present.
func (d *Document) BaseHref() (string, bool) {
	for _, n := range matchTag(d.root, atom.Base) {
		for _, a := range n.Attr {
			if a.Key == "href" && a.Val != "" {
				return a.Val, true
			}
		}
	}
	return "", false
}

// SetBaseHref rewrites (or creates) the <base> element's href. The
// renderer uses it to coerce a relative declared base to an absolute one.
func (d *Document) SetBaseHref(href string) {
	for _, n := range matchTag(d.root, atom.Base) {
		for i := range n.Attr {
			if n.Attr[i].Key == "href" {
				n.Attr[i].Val = href
				return
			}
		}
		n.Attr = append(n.Attr, html.Attribute{Key: "href", Val: href})
		return
	}
	head := findFirst(d.root, atom.Head)
	if head == nil {
		return
	}
	base := &html.Node{Type: html.ElementNode, DataAtom: atom.Base, Data: "base"}
	base.Attr = []html.Attribute{{Key: "href", Val: href}}
	if head.FirstChild != nil {
		head.InsertBefore(base, head.FirstChild)
	} else {
		head.AppendChild(base)
	}
}

// QuerySelector returns the first element matching the CSS selector, or
// nil. An invalid selector is an error.
func (d *Document) QuerySelector(sel string) (*Element, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return d.wrap(s.MatchFirst(d.root)), nil
}

// QuerySelectorAll returns every element matching the CSS selector in
// document order.
func (d *Document) QuerySelectorAll(sel string) ([]*Element, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	nodes := s.MatchAll(d.root)
	els := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, d.wrap(n))
	}
	return els, nil
}

// ElementByID returns the element with the given id attribute, or nil.
func (d *Document) ElementByID(id string) *Element {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == id {
					found = n
					return false
				}
			}
		}
		return true
	})
	return d.wrap(found)
}

// ElementsByTag returns every element with the given tag name in
// document order.
func (d *Document) ElementsByTag(tag string) []*Element {
	tag = strings.ToLower(tag)
	var els []*Element
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
			els = append(els, d.wrap(n))
		}
		return true
	})
	return els
}

// CreateElement builds a detached element owned by this document.
func (d *Document) CreateElement(tag string) *Element {
	tag = strings.ToLower(tag)
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
	}
	return d.wrap(n)
}

// CreateTextNode builds a detached text node owned by this document.
func (d *Document) CreateTextNode(text string) *Element {
	return d.wrap(&html.Node{Type: html.TextNode, Data: text})
}

// walk runs fn over n and its descendants, stopping when fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// findFirst returns the first element with the given atom.
func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// matchTag returns every element with the given atom.
func matchTag(root *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		return true
	})
	return out
}

// textOf concatenates all text descendants of n.
func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// setTextOf replaces n's children with a single text node.
func setTextOf(n *html.Node, text string) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
