package counterbutton

import (
	"fmt"

	"github.com/ryanhamamura/counterbutton/h"
)

// ActionTrigger is the browser-side handle of an action registered with
// Context.Action.
type ActionTrigger struct {
	id string
}

// ID returns the action id used in the action URL.
func (a *ActionTrigger) ID() string {
	return a.id
}

func actionURL(id string) string {
	return fmt.Sprintf("@get('/_action/%s')", id)
}

// OnClick returns a DOM attribute that fires the action on click. It can be
// added to element nodes in a view.
func (a *ActionTrigger) OnClick() h.H {
	return h.Data("on:click", actionURL(a.id))
}

// OnKeyDown returns a DOM attribute that fires the action when key is pressed
// on the element. An empty key matches any key.
func (a *ActionTrigger) OnKeyDown(key string) h.H {
	var condition string
	if key != "" {
		condition = fmt.Sprintf("evt.key==='%s' && ", key)
	}
	return h.Data("on:keydown", condition+actionURL(a.id))
}
