// Package document holds one HTML fragment as a mutable parse tree. The tree
// is parsed once, edited through FindAll and ReplaceNode, and rendered back
// to a string once all edits are done.
package document

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrMalformedFragment is returned when a fragment cannot be parsed.
	ErrMalformedFragment = errors.New("document: malformed fragment")

	// ErrDetached is returned when replacing a node that is no longer in the tree.
	ErrDetached = errors.New("document: node not attached")

	// ErrEmptyMarkup is returned when replacement markup parses to no nodes.
	ErrEmptyMarkup = errors.New("document: empty replacement markup")
)

// Document is a parsed HTML fragment. All methods are safe for concurrent use.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// Parse parses fragment in a <body> context.
func Parse(fragment string) (*Document, error) {
	if !utf8.ValidString(fragment) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformedFragment)
	}
	root := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFragment, err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return &Document{root: root}, nil
}

// MayContain reports whether fragment could hold a <tag> element. It is a
// cheap case-insensitive pre-check run before parsing.
func MayContain(fragment, tag string) bool {
	if fragment == "" {
		return false
	}
	return strings.Contains(strings.ToLower(fragment), "<"+strings.ToLower(tag))
}

// FindAll returns the elements named tag, in document order, for which pred
// returns true. A nil pred matches every element.
func (d *Document) FindAll(tag string, pred func(*html.Node) bool) []*html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findAll(d.root, tag, pred)
}

// ReplaceNode parses markup in the context of n's parent and puts the result
// where n was. On error the tree is left unchanged.
func (d *Document) ReplaceNode(n *html.Node, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replace(n, markup)
}

// Edit runs fn with the document locked, so a group of edits is applied
// without interleaving with other goroutines. fn must not call methods on d.
func (d *Document) Edit(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&Tx{d: d})
}

// Render serialises the fragment.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("render fragment: %w", err)
		}
	}
	return b.String(), nil
}

// Tx is the locked view of a Document handed to Edit.
type Tx struct {
	d *Document
}

// FindAll is Document.FindAll without locking.
func (tx *Tx) FindAll(tag string, pred func(*html.Node) bool) []*html.Node {
	return findAll(tx.d.root, tag, pred)
}

// ReplaceNode is Document.ReplaceNode without locking.
func (tx *Tx) ReplaceNode(n *html.Node, markup string) error {
	return tx.d.replace(n, markup)
}

// SetAttr sets attribute key on n, adding it if missing.
func (tx *Tx) SetAttr(n *html.Node, key, val string) {
	setAttr(n, key, val)
}

func (d *Document) replace(n *html.Node, markup string) error {
	parent := n.Parent
	if parent == nil || !d.contains(n) {
		return ErrDetached
	}
	ctx := &html.Node{
		Type:      html.ElementNode,
		Data:      parent.Data,
		DataAtom:  parent.DataAtom,
		Namespace: parent.Namespace,
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return fmt.Errorf("parse replacement: %w", err)
	}
	if len(nodes) == 0 {
		return ErrEmptyMarkup
	}
	for _, c := range nodes {
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
	return nil
}

func (d *Document) contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func findAll(root *html.Node, tag string, pred func(*html.Node) bool) []*html.Node {
	tag = strings.ToLower(tag)
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag && (pred == nil || pred(n)) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries a non-empty attribute key.
func HasAttr(key string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := Attr(n, key)
		return ok && strings.TrimSpace(v) != ""
	}
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
