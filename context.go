package counterbutton

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryanhamamura/counterbutton/h"
	"golang.org/x/time/rate"
)

// Context is the living bridge between Go and the browser.
//
// A page gets one Context per page load; every component on the page gets its
// own Context that shares the page's event loop, action registry and SSE
// stream.
type Context struct {
	id                string
	route             string
	app               *App
	view              func() h.H
	componentRegistry map[string]*Context
	parentPageCtx     *Context
	patchChan         chan string
	actionRegistry    map[string]actionEntry
	actionLimiter     *rate.Limiter
	loop              *eventLoop
	mu                sync.RWMutex
	subscriptions     []Subscription
	csrfToken         string
	createdAt         time.Time
	sseConnected      atomic.Bool
	ctxDisposedChan   chan struct{}
	disposeOnce       sync.Once
	reqCtx            context.Context
}

// ID returns the context id. It is also the DOM id of the element wrapping the
// context's view.
func (c *Context) ID() string {
	return c.id
}

// View defines the UI rendered by this context. Changes are pushed to the
// browser with Sync.
func (c *Context) View(f func() h.H) {
	if f == nil {
		panic("nil viewfn")
	}
	c.view = func() h.H { return h.Div(h.ID(c.id), f()) }
}

// Component registers a subcontext with its own view and actions and returns
// the component's view fn to place in the parent's view.
//
// Example:
//
//	c.Component(counterbutton.NewCounterButton().Mount)
func (c *Context) Component(initCtx func(c *Context)) func() h.H {
	var id string
	if c.id != "" {
		id = c.id + "/_component/" + genID()
	}
	compCtx := newContext(id, c.route, c.app)
	compCtx.parentPageCtx = c.page()
	// components run on the page's loop and stream
	compCtx.loop = compCtx.parentPageCtx.loop
	initCtx(compCtx)
	if compCtx.view == nil {
		panic(fmt.Sprintf("component %q: init func set no view", id))
	}
	c.mu.Lock()
	c.componentRegistry[id] = compCtx
	c.mu.Unlock()
	return compCtx.view
}

func (c *Context) isComponent() bool {
	return c.parentPageCtx != nil
}

func (c *Context) page() *Context {
	if c.isComponent() {
		return c.parentPageCtx
	}
	return c
}

// Action registers an event handler and returns a trigger that can be added
// to the view. Actions of a page and its components never run concurrently.
//
// Example:
//
//	n := 0
//	increment := c.Action(func() {
//		n++
//		c.Sync()
//	})
//
//	c.View(func() h.H {
//		return h.Button(h.Textf("n = %d", n), increment.OnClick())
//	})
func (c *Context) Action(f func(), options ...ActionOption) *ActionTrigger {
	id := genID()
	if f == nil {
		c.app.logErr(c, "failed to bind action '%s' to context: nil func", id)
		return nil
	}
	entry := actionEntry{fn: f}
	for _, opt := range options {
		opt(&entry)
	}

	p := c.page()
	p.mu.Lock()
	p.actionRegistry[id] = entry
	p.mu.Unlock()
	return &ActionTrigger{id: id}
}

func (c *Context) getAction(id string) (actionEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.actionRegistry[id]; ok {
		return e, nil
	}
	return actionEntry{}, fmt.Errorf("action '%s' not found", id)
}

// sendPatch queues an element patch on the page's SSE stream. If the queue is
// full the patch is dropped rather than blocking the caller.
func (c *Context) sendPatch(elements string) {
	select {
	case c.page().patchChan <- elements:
	default:
		c.app.logDebug(c, "patch dropped: queue full")
	}
}

// Sync re-renders this context's view and pushes it to the browser over the
// live SSE stream. The element is matched by its id and morphed in place.
func (c *Context) Sync() {
	if c.view == nil {
		return
	}
	var b bytes.Buffer
	if err := c.view().Render(&b); err != nil {
		c.app.logErr(c, "sync view failed: %v", err)
		return
	}
	c.sendPatch(b.String())
}

// Session returns the session for this context.
// Session data persists across page views for the same browser.
//
// The session is only reachable during page init, the initial render and
// actions, while a request is in flight. Elsewhere, e.g. in pub/sub handlers,
// the returned Session reads zero values and drops writes.
func (c *Context) Session() *Session {
	return &Session{
		ctx:     c.page().reqCtx,
		manager: c.app.sessionManager,
	}
}

// Publish sends data on subject through the configured PubSub. It is a no-op
// while a page is being registered.
func (c *Context) Publish(subject string, data []byte) error {
	if c.id == "" {
		return nil
	}
	if c.app.pubsub == nil {
		return ErrNoPubSub
	}
	if err := c.app.pubsub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %q: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for messages on subject. The handler runs on the
// page's event loop, never concurrently with the page's actions. The
// subscription ends when the context is disposed, or earlier via Unsubscribe.
//
// While a page is being registered Subscribe does nothing and returns a nil
// Subscription.
func (c *Context) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	if c.id == "" {
		return nil, nil
	}
	if c.app.pubsub == nil {
		return nil, ErrNoPubSub
	}
	p := c.page()
	sub, err := c.app.pubsub.Subscribe(subject, func(data []byte) {
		p.loop.post(func() {
			defer func() {
				if r := recover(); r != nil {
					c.app.logErr(c, "subscriber for %q failed: %v", subject, r)
				}
			}()
			handler(data)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}
	p.mu.Lock()
	p.subscriptions = append(p.subscriptions, sub)
	p.mu.Unlock()
	return sub, nil
}

func (c *Context) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.app.logWarn(c, "unsubscribe failed: %v", err)
		}
	}
}

// dispose releases everything tied to a page context: subscriptions, the
// event loop and the SSE stream.
func (c *Context) dispose() {
	c.disposeOnce.Do(func() {
		c.unsubscribeAll()
		c.loop.close()
		close(c.ctxDisposedChan)
	})
}

func newContext(id string, route string, a *App) *Context {
	if a == nil {
		panic("create context failed: app pointer is nil")
	}

	return &Context{
		id:                id,
		route:             route,
		app:               a,
		componentRegistry: make(map[string]*Context),
		actionRegistry:    make(map[string]actionEntry),
		actionLimiter:     newLimiter(a.actionRateLimit, defaultActionRate, defaultActionBurst),
		loop:              newEventLoop(),
		csrfToken:         genCSRFToken(),
		createdAt:         time.Now(),
		patchChan:         make(chan string, 16),
		ctxDisposedChan:   make(chan struct{}),
	}
}
