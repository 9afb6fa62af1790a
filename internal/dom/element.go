package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Element wraps one node of the document tree. Element nodes expose the
// full mutation surface; text nodes answer Text and little else, which
// matches how the script bindings use them.
type Element struct {
	n   *html.Node
	doc *Document
}

// IsText reports whether this wrapper holds a text node.
func (el *Element) IsText() bool { return el.n.Type == html.TextNode }

// TagName returns the lowercase tag name, or "" for non-element nodes.
func (el *Element) TagName() string {
	if el.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(el.n.Data)
}

// ID returns the id attribute.
func (el *Element) ID() string {
	v, _ := el.Attr("id")
	return v
}

// Attr returns the named attribute and whether it is present.
func (el *Element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range el.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute.
func (el *Element) SetAttr(name, value string) {
	name = strings.ToLower(name)
	for i := range el.n.Attr {
		if el.n.Attr[i].Key == name {
			el.n.Attr[i].Val = value
			return
		}
	}
	el.n.Attr = append(el.n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes the named attribute if present.
func (el *Element) RemoveAttr(name string) {
	name = strings.ToLower(name)
	for i := range el.n.Attr {
		if el.n.Attr[i].Key == name {
			el.n.Attr = append(el.n.Attr[:i], el.n.Attr[i+1:]...)
			return
		}
	}
}

// Attrs returns attribute names in document order.
func (el *Element) Attrs() []string {
	names := make([]string, 0, len(el.n.Attr))
	for _, a := range el.n.Attr {
		names = append(names, a.Key)
	}
	return names
}

// Text returns the concatenated text content of the subtree. For a text
// node it is the node's own data.
func (el *Element) Text() string {
	if el.n.Type == html.TextNode {
		return el.n.Data
	}
	return textOf(el.n)
}

// SetText replaces all children with a single text node.
func (el *Element) SetText(text string) {
	if el.n.Type == html.TextNode {
		el.n.Data = text
		return
	}
	setTextOf(el.n, text)
}

// InnerHTML serializes the element's children.
func (el *Element) InnerHTML() (string, error) {
	var sb strings.Builder
	for c := el.n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return "", fmt.Errorf("serializing children: %w", err)
		}
	}
	return sb.String(), nil
}

// SetInnerHTML parses markup as a fragment in this element's context and
// replaces the current children with the result.
func (el *Element) SetInnerHTML(markup string) error {
	context := &html.Node{
		Type:     html.ElementNode,
		DataAtom: el.n.DataAtom,
		Data:     el.n.Data,
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return fmt.Errorf("parsing fragment: %w", err)
	}
	for el.n.FirstChild != nil {
		el.n.RemoveChild(el.n.FirstChild)
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		el.n.AppendChild(n)
	}
	return nil
}

// OuterHTML serializes the element itself.
func (el *Element) OuterHTML() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, el.n); err != nil {
		return "", fmt.Errorf("serializing element: %w", err)
	}
	return sb.String(), nil
}

// AppendChild moves child to the end of this element's children,
// detaching it from any current parent first.
func (el *Element) AppendChild(child *Element) {
	if child == nil || child.n == el.n {
		return
	}
	if child.n.Parent != nil {
		child.n.Parent.RemoveChild(child.n)
	}
	el.n.AppendChild(child.n)
}

// InsertBefore moves child in front of ref among this element's children.
// A nil ref appends.
func (el *Element) InsertBefore(child, ref *Element) {
	if child == nil || child.n == el.n {
		return
	}
	if ref == nil || ref.n.Parent != el.n {
		el.AppendChild(child)
		return
	}
	if child.n.Parent != nil {
		child.n.Parent.RemoveChild(child.n)
	}
	el.n.InsertBefore(child.n, ref.n)
}

// RemoveChild detaches child if it is a direct child of this element.
func (el *Element) RemoveChild(child *Element) {
	if child == nil || child.n.Parent != el.n {
		return
	}
	el.n.RemoveChild(child.n)
}

// Remove detaches this element from its parent.
func (el *Element) Remove() {
	if el.n.Parent != nil {
		el.n.Parent.RemoveChild(el.n)
	}
}

// Parent returns the parent element, or nil at the tree root.
func (el *Element) Parent() *Element {
	p := el.n.Parent
	for p != nil && p.Type != html.ElementNode {
		p = p.Parent
	}
	return el.doc.wrap(p)
}

// Children returns the direct element children.
func (el *Element) Children() []*Element {
	var out []*Element
	for c := el.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, el.doc.wrap(c))
		}
	}
	return out
}

// QuerySelector returns the first descendant matching the selector, or
// nil. The element itself is never a match.
func (el *Element) QuerySelector(sel string) (*Element, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	for c := el.n.FirstChild; c != nil; c = c.NextSibling {
		if m := s.MatchFirst(c); m != nil {
			return el.doc.wrap(m), nil
		}
	}
	return nil, nil
}

// QuerySelectorAll returns every descendant matching the selector.
func (el *Element) QuerySelectorAll(sel string) ([]*Element, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	var out []*Element
	for c := el.n.FirstChild; c != nil; c = c.NextSibling {
		for _, m := range s.MatchAll(c) {
			out = append(out, el.doc.wrap(m))
		}
	}
	return out, nil
}
