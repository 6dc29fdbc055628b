package counterbutton

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ryanhamamura/counterbutton/h"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPage struct {
	ctx    *Context
	button *CounterButton
	last   int
}

// newCounterApp registers a page with one counter button whose parent view
// shows the last count it was told about.
func newCounterApp(t *testing.T, opts Options) (*App, *testPage) {
	t.Helper()
	app := New()
	app.Config(opts)
	tp := &testPage{}
	app.Page("/", func(c *Context) {
		b := NewCounterButton()
		button := c.Component(b.Mount)
		last := 0
		b.CountChanged().Subscribe(func(n int) {
			last = n
			c.Sync()
		})
		c.View(func() h.H {
			return h.Div(button(), h.P(h.Textf("Last count: %d", last)))
		})
		if c.ID() != "" {
			tp.ctx = c
			tp.button = b
		}
	})
	t.Cleanup(app.Shutdown)
	return app, tp
}

func loadPage(t *testing.T, app *App, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func onlyActionID(t *testing.T, c *Context) string {
	t.Helper()
	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Len(t, c.actionRegistry, 1)
	for id := range c.actionRegistry {
		return id
	}
	return ""
}

func fireAction(t *testing.T, app *App, ctxID, csrf, actionID string) *httptest.ResponseRecorder {
	t.Helper()
	sigs, err := json.Marshal(map[string]string{signalCtxID: ctxID, signalCSRF: csrf})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/_action/"+actionID+"?datastar="+url.QueryEscape(string(sigs)), nil)
	app.HTTPHandler().ServeHTTP(w, r)
	return w
}

func TestPageRoute_InitialRender(t *testing.T) {
	app, tp := newCounterApp(t, Options{})

	w := loadPage(t, app, "/")

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<!doctype html>")
	assert.Contains(t, body, ">Click me</button>")
	assert.Contains(t, body, "Last count: 0")
	assert.NotContains(t, body, "Clicked")
	assert.Contains(t, body, `src="`+defaultDatastarPath+`"`)
	require.NotNil(t, tp.ctx)
	assert.Equal(t, State{0, false}, tp.button.State())
}

func TestAction_ClickIncrementsAndNotifiesParent(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")
	actionID := onlyActionID(t, tp.ctx)

	for i := 1; i <= 3; i++ {
		w := fireAction(t, app, tp.ctx.ID(), tp.ctx.csrfToken, actionID)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, State{3, true}, tp.button.State())

	// the parent re-renders from its listener, then the button re-renders itself
	var patches []string
	for len(tp.ctx.patchChan) > 0 {
		patches = append(patches, <-tp.ctx.patchChan)
	}
	require.Len(t, patches, 6)
	assert.Contains(t, patches[4], "Last count: 3")
	assert.Contains(t, patches[4], "Clicked 3 times")
	assert.Contains(t, patches[5], "Clicked 3 times")
	assert.NotContains(t, patches[5], "Last count")
}

func TestAction_RejectsBadCSRF(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")
	actionID := onlyActionID(t, tp.ctx)

	w := fireAction(t, app, tp.ctx.ID(), "forged", actionID)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, State{0, false}, tp.button.State())
}

func TestAction_UnknownContextAndAction(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")

	w := fireAction(t, app, "missing", "", "x")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fireAction(t, app, tp.ctx.ID(), tp.ctx.csrfToken, "nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAction_PageRateLimit(t *testing.T) {
	app, tp := newCounterApp(t, Options{ActionRateLimit: RateLimitConfig{Rate: 0.001, Burst: 1}})
	loadPage(t, app, "/")
	actionID := onlyActionID(t, tp.ctx)

	assert.Equal(t, http.StatusOK, fireAction(t, app, tp.ctx.ID(), tp.ctx.csrfToken, actionID).Code)
	assert.Equal(t, http.StatusTooManyRequests, fireAction(t, app, tp.ctx.ID(), tp.ctx.csrfToken, actionID).Code)
	assert.Equal(t, 1, tp.button.State().ClickCount)
}

func TestAction_PanicIsRecovered(t *testing.T) {
	app := New()
	var page *Context
	var boom *ActionTrigger
	app.Page("/", func(c *Context) {
		boom = c.Action(func() { panic("boom") })
		c.View(func() h.H { return h.Button(boom.OnClick()) })
		page = c
	})
	t.Cleanup(app.Shutdown)
	loadPage(t, app, "/")

	w := fireAction(t, app, page.ID(), page.csrfToken, boom.ID())
	assert.Equal(t, http.StatusOK, w.Code)

	// the loop survives the panic
	ran := false
	assert.True(t, page.loop.do(func() { ran = true }))
	assert.True(t, ran)
}

func TestTwoButtonsOnOnePageAreIndependent(t *testing.T) {
	app := New()
	var page *Context
	var a, b *CounterButton
	app.Page("/", func(c *Context) {
		a, b = NewCounterButton(), NewCounterButton()
		viewA, viewB := c.Component(a.Mount), c.Component(b.Mount)
		c.View(func() h.H { return h.Div(viewA(), viewB()) })
		page = c
	})
	t.Cleanup(app.Shutdown)
	loadPage(t, app, "/")

	var ids []string
	for id := range page.actionRegistry {
		ids = append(ids, id)
	}
	require.Len(t, ids, 2)
	fireAction(t, app, page.ID(), page.csrfToken, ids[0])
	fireAction(t, app, page.ID(), page.csrfToken, ids[0])

	counts := []int{a.State().ClickCount, b.State().ClickCount}
	assert.ElementsMatch(t, []int{0, 2}, counts)
}

func TestSessionClose_DisposesContext(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")
	id := tp.ctx.ID()

	w := httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(w, httptest.NewRequest("POST", "/_session/close", strings.NewReader(id)))

	_, err := app.getCtx(id)
	assert.Error(t, err)
	select {
	case <-tp.ctx.ctxDisposedChan:
	default:
		t.Fatal("context not disposed")
	}
	assert.False(t, tp.ctx.loop.do(func() {}))
}

func TestReapOrphanedContexts(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")

	app.reapOrphanedContexts(0)

	_, err := app.getCtx(tp.ctx.ID())
	assert.Error(t, err)
}

func TestSessionVisits(t *testing.T) {
	app := New()
	app.Page("/", func(c *Context) {
		visits := c.Session().GetInt("visits") + 1
		c.Session().Set("visits", visits)
		c.View(func() h.H { return h.P(h.Textf("Visits: %d", visits)) })
	})
	t.Cleanup(app.Shutdown)

	w := loadPage(t, app, "/")
	assert.Contains(t, w.Body.String(), "Visits: 1")
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(w, r)
	assert.Contains(t, w.Body.String(), "Visits: 2")
}

func TestCustomDatastarContent(t *testing.T) {
	app := New()
	app.Config(Options{DatastarContent: []byte("// custom datastar")})
	app.Page("/", func(c *Context) {
		c.View(func() h.H { return h.Div() })
	})

	w := httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(w, httptest.NewRequest("GET", "/_datastar.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "custom datastar")

	page := loadPage(t, app, "/")
	assert.Contains(t, page.Body.String(), `src="/_datastar.js"`)
}

func TestConfig(t *testing.T) {
	app := New()
	pluginRan := false
	app.Config(Options{
		DocumentTitle: "Test",
		ServerAddress: ":4000",
		LogLevel:      LogLevelError,
		Plugins: []Plugin{nil, func(a *App) {
			pluginRan = true
			a.AppendToHead(nil, h.Meta(h.Name("description"), h.Content("counter")))
		}},
	})
	assert.Equal(t, "Test", app.cfg.DocumentTitle)
	assert.Equal(t, ":4000", app.cfg.ServerAddress)
	assert.True(t, pluginRan)
	assert.Len(t, app.documentHeadIncludes, 1)

	app.Page("/", func(c *Context) { c.View(func() h.H { return h.Div() }) })
	t.Cleanup(app.Shutdown)
	body := loadPage(t, app, "/").Body.String()
	assert.Contains(t, body, "<title>Test</title>")
	assert.Contains(t, body, `<meta name="description" content="counter">`)
}

func TestPage_PanicsOnNoView(t *testing.T) {
	assert.Panics(t, func() {
		app := New()
		app.Page("/", func(c *Context) {})
	})
}

func TestShutdown_DrainsContexts(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")

	app.Shutdown()
	app.Shutdown()

	_, err := app.getCtx(tp.ctx.ID())
	assert.Error(t, err)
}

func TestSSE_StreamsViewAndCleansUpOnDisconnect(t *testing.T) {
	app, tp := newCounterApp(t, Options{})
	loadPage(t, app, "/")

	sigs, err := json.Marshal(map[string]string{signalCtxID: tp.ctx.ID()})
	require.NoError(t, err)
	reqCtx, disconnect := context.WithCancel(context.Background())
	r := httptest.NewRequest("GET", "/_sse?datastar="+url.QueryEscape(string(sigs)), nil).WithContext(reqCtx)
	w := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.handleSSE(w, r)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(w.body(), "Last count: 0")
	}, 2*time.Second, 5*time.Millisecond)
	disconnect()
	<-done

	assert.Contains(t, w.body(), "datastar-patch-elements")
	_, err = app.getCtx(tp.ctx.ID())
	assert.Error(t, err)
}

// syncRecorder is a ResponseRecorder whose body can be read while a handler
// is still streaming into it.
type syncRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (s *syncRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResponseRecorder.Write(b)
}

func (s *syncRecorder) WriteString(str string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResponseRecorder.WriteString(str)
}

func (s *syncRecorder) WriteHeader(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseRecorder.WriteHeader(code)
}

func (s *syncRecorder) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseRecorder.Flush()
}

func (s *syncRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Body.String()
}

func TestSSE_UnknownContext(t *testing.T) {
	app, _ := newCounterApp(t, Options{})
	w := httptest.NewRecorder()
	app.handleSSE(w, httptest.NewRequest("GET", "/_sse", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_ExistsAndDeleteInAction(t *testing.T) {
	app := New()
	var page *Context
	var forget *ActionTrigger
	app.Page("/", func(c *Context) {
		returning := c.Session().Exists("visits")
		visits := c.Session().GetInt("visits") + 1
		c.Session().Set("visits", visits)
		forget = c.Action(func() { c.Session().Delete("visits") })
		c.View(func() h.H {
			return h.P(h.Textf("Visits: %d returning=%t", visits, returning))
		})
		page = c
	})
	t.Cleanup(app.Shutdown)

	w := loadPage(t, app, "/")
	assert.Contains(t, w.Body.String(), "Visits: 1 returning=false")
	cookie := w.Result().Cookies()[0]

	get := func() string {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(cookie)
		w := httptest.NewRecorder()
		app.HTTPHandler().ServeHTTP(w, r)
		return w.Body.String()
	}
	assert.Contains(t, get(), "Visits: 2 returning=true")

	sigs, err := json.Marshal(map[string]string{signalCtxID: page.ID(), signalCSRF: page.csrfToken})
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/_action/"+forget.ID()+"?datastar="+url.QueryEscape(string(sigs)), nil)
	r.AddCookie(cookie)
	aw := httptest.NewRecorder()
	app.HTTPHandler().ServeHTTP(aw, r)
	require.Equal(t, http.StatusOK, aw.Code)

	assert.Contains(t, get(), "Visits: 1 returning=false")
}

func TestSession_DetachedOutsideRequests(t *testing.T) {
	app := New()
	app.Config(Options{PubSub: newMockPubSub()})
	var page *Context
	seen := make(chan bool, 1)
	app.Page("/", func(c *Context) {
		c.Session().Set("visits", 1)
		if _, err := c.Subscribe("ping", func([]byte) {
			c.Session().Set("seen", "yes")
			seen <- c.Session().Exists("visits")
		}); err != nil {
			t.Error(err)
		}
		c.View(func() h.H { return h.Div() })
		page = c
	})
	t.Cleanup(app.Shutdown)
	loadPage(t, app, "/")

	require.NoError(t, page.Publish("ping", nil))
	assert.False(t, waitFor(t, seen), "session must not reach a finished request")
	assert.Equal(t, 0, page.Session().GetInt("visits"))
}
