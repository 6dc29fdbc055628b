package counterbutton

import (
	"github.com/ryanhamamura/counterbutton/h"
)

const defaultLabel = "Click me"

// State is a snapshot of a CounterButton.
type State struct {
	ClickCount int
	Visible    bool
}

// CounterButton holds a click count and a visibility flag and announces every
// new count on its CountChanged emitter.
//
// A CounterButton is not safe for concurrent use. When mounted on a page, the
// page serializes its actions so clicks never overlap.
type CounterButton struct {
	clickCount   int
	visible      bool
	label        string
	countChanged *Emitter[int]
}

// ButtonOption configures a CounterButton.
type ButtonOption func(*CounterButton)

// WithLabel sets the button text. Empty labels are ignored.
func WithLabel(label string) ButtonOption {
	return func(b *CounterButton) {
		if label != "" {
			b.label = label
		}
	}
}

// NewCounterButton returns an initialized CounterButton.
func NewCounterButton(opts ...ButtonOption) *CounterButton {
	b := &CounterButton{
		label:        defaultLabel,
		countChanged: NewEmitter[int](),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Initialize()
	return b
}

// Initialize resets the button to zero clicks and hidden. Listeners stay
// attached.
func (b *CounterButton) Initialize() {
	b.clickCount = 0
	b.visible = false
}

// HandleClick counts one click and publishes the new count.
func (b *CounterButton) HandleClick() {
	b.clickCount++
	b.visible = true
	b.countChanged.Publish(b.clickCount)
}

// State returns the current count and visibility.
func (b *CounterButton) State() State {
	return State{ClickCount: b.clickCount, Visible: b.visible}
}

// CountChanged returns the emitter carrying the count after each click.
func (b *CounterButton) CountChanged() *Emitter[int] {
	return b.countChanged
}

// Mount is a component init func. It binds the button to c: a click action,
// fired by a pointer click or the Enter key, that counts and re-renders, and a
// view that shows the count once the button has been clicked.
//
// Example:
//
//	btn := counterbutton.NewCounterButton()
//	app.Page("/", func(c *counterbutton.Context) {
//		button := c.Component(btn.Mount)
//		c.View(func() h.H { return h.Div(button()) })
//	})
func (b *CounterButton) Mount(c *Context) {
	click := c.Action(func() {
		b.HandleClick()
		c.Sync()
	})

	c.View(func() h.H {
		return h.Div(
			h.Class("counter-button"),
			h.Button(h.Type("button"), click.OnClick(), click.OnKeyDown("Enter"), h.Text(b.label)),
			h.If(b.visible, h.P(h.Textf("Clicked %d times", b.clickCount))),
		)
	})
}
