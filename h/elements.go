package h

import g "maragu.dev/gomponents"

func el(name string, children []H) H {
	return g.El(name, retype(children)...)
}

// Element nodes. Children may mix attributes, text and other elements;
// attributes always render in the start tag.

func Div(children ...H) H     { return el("div", children) }
func P(children ...H) H       { return el("p", children) }
func H1(children ...H) H      { return el("h1", children) }
func H2(children ...H) H      { return el("h2", children) }
func Section(children ...H) H { return el("section", children) }
func Strong(children ...H) H  { return el("strong", children) }
func Button(children ...H) H  { return el("button", children) }

// Script and Meta live in the document head.

func Script(children ...H) H { return el("script", children) }
func Meta(children ...H) H   { return el("meta", children) }

// ID sets the element id. Sync patches are matched against it.
func ID(v string) H { return Attr("id", v) }

// Class sets the class attribute.
func Class(v string) H { return Attr("class", v) }

// Type sets the type attribute, e.g. "button" or "module".
func Type(v string) H { return Attr("type", v) }

// Src sets the src attribute.
func Src(v string) H { return Attr("src", v) }

// Name sets the name attribute.
func Name(v string) H { return Attr("name", v) }

// Content sets the content attribute of a meta element.
func Content(v string) H { return Attr("content", v) }

// Data creates a data-* attribute. Datastar directives such as data-on:click
// are built with it.
func Data(name, v string) H { return Attr("data-"+name, v) }
