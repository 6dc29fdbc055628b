// Package h provides a Go-native DSL for HTML composition.
// Every element, attribute, and text node is constructed as a function that returns a [h.H] DOM node.
//
// Example:
//
//	h.Div(
//		h.H1(h.Text("Counter")),
//		h.Button(h.Text("Click me")),
//	)
package h

import (
	"io"

	g "maragu.dev/gomponents"
	gc "maragu.dev/gomponents/components"
)

// H represents a DOM node.
type H interface {
	Render(w io.Writer) error
}

// Text creates a text DOM node that renders the escaped string t.
func Text(t string) H {
	return g.Text(t)
}

// Textf creates a text DOM node that renders the interpolated and escaped string format.
func Textf(format string, a ...any) H {
	return g.Textf(format, a...)
}

// Attr creates an attribute DOM node with a name and optional value.
// If only a name is passed, it's a name-only (boolean) attribute (like "disabled").
// More than one value makes [Attr] panic.
func Attr(name string, value ...string) H {
	return g.Attr(name, value...)
}

// If returns n when condition holds and nil otherwise. Nil nodes render nothing.
func If(condition bool, n H) H {
	if condition {
		return n
	}
	return nil
}

// HTML5Props defines properties for HTML5 pages. Title is always set, Description
// and Language elements only if the strings are non-empty.
type HTML5Props struct {
	Title       string
	Description string
	Language    string
	Head        []H
	Body        []H
	HTMLAttrs   []H
}

// HTML5 document template.
func HTML5(p HTML5Props) H {
	gp := gc.HTML5Props{
		Title:       p.Title,
		Description: p.Description,
		Language:    p.Language,
		Head:        retype(p.Head),
		Body:        retype(p.Body),
		HTMLAttrs:   retype(p.HTMLAttrs),
	}
	return gc.HTML5(gp)
}

func retype(nodes []H) []g.Node {
	if nodes == nil {
		return nil
	}
	out := make([]g.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
