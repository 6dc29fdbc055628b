// Package counterbutton provides a counter button component and the small
// reactive runtime that hosts it in the browser.
//
// The component itself is a plain state holder: a click count, a visibility
// flag and an emitter that announces every new count. The runtime renders
// components on the server and pushes updates over an SSE stream with
// Datastar, so a click in the browser runs Go code and re-renders live.
package counterbutton

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/ryanhamamura/counterbutton/h"
	"github.com/starfederation/datastar-go/datastar"
)

const (
	defaultDatastarPath = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"
	defaultContextTTL   = 30 * time.Second

	signalCtxID = "cb-ctx"
	signalCSRF  = "cb-csrf"
)

// App is the root application.
// It manages page routing, user sessions, and SSE connections for live updates.
type App struct {
	cfg                  Options
	mux                  *http.ServeMux
	server               *http.Server
	logger               zerolog.Logger
	contextRegistry      map[string]*Context
	contextRegistryMutex sync.RWMutex
	documentHeadIncludes []h.H
	sessionManager       *scs.SessionManager
	pubsub               PubSub
	actionRateLimit      RateLimitConfig
	datastarPath         string
	datastarContent      []byte
	datastarOnce         sync.Once
	reaperStop           chan struct{}
	shutdownOnce         sync.Once
}

func (a *App) logEvent(evt *zerolog.Event, c *Context) *zerolog.Event {
	if c != nil && c.id != "" {
		evt = evt.Str("cb-ctx", c.id)
	}
	return evt
}

func (a *App) logErr(c *Context, format string, v ...any) {
	a.logEvent(a.logger.Error(), c).Msgf(format, v...)
}

func (a *App) logWarn(c *Context, format string, v ...any) {
	a.logEvent(a.logger.Warn(), c).Msgf(format, v...)
}

func (a *App) logInfo(c *Context, format string, v ...any) {
	a.logEvent(a.logger.Info(), c).Msgf(format, v...)
}

func (a *App) logDebug(c *Context, format string, v ...any) {
	a.logEvent(a.logger.Debug(), c).Msgf(format, v...)
}

func newConsoleLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(level)
}

// Config overrides the default configuration with the given options.
func (a *App) Config(cfg Options) {
	if cfg.Logger != nil {
		a.logger = *cfg.Logger
	} else if cfg.LogLevel != nil || cfg.DevMode != a.cfg.DevMode {
		level := zerolog.InfoLevel
		if cfg.LogLevel != nil {
			level = *cfg.LogLevel
		}
		if cfg.DevMode {
			a.logger = newConsoleLogger(level)
		} else {
			a.logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
		}
	}
	if cfg.DocumentTitle != "" {
		a.cfg.DocumentTitle = cfg.DocumentTitle
	}
	a.cfg.DevMode = cfg.DevMode
	if cfg.ServerAddress != "" {
		a.cfg.ServerAddress = cfg.ServerAddress
	}
	if cfg.SessionManager != nil {
		a.sessionManager = cfg.SessionManager
	}
	if cfg.DatastarContent != nil {
		a.datastarContent = cfg.DatastarContent
		if cfg.DatastarPath == "" && a.datastarPath == defaultDatastarPath {
			a.datastarPath = "/_datastar.js"
		}
	}
	if cfg.DatastarPath != "" {
		a.datastarPath = cfg.DatastarPath
	}
	if cfg.PubSub != nil {
		a.pubsub = cfg.PubSub
	}
	if cfg.ContextTTL != 0 {
		a.cfg.ContextTTL = cfg.ContextTTL
	}
	if cfg.ActionRateLimit.Rate != 0 || cfg.ActionRateLimit.Burst != 0 {
		a.actionRateLimit = cfg.ActionRateLimit
	}
	for _, plugin := range cfg.Plugins {
		if plugin != nil {
			plugin(a)
		}
	}
}

// AppendToHead appends the given h.H nodes to the head of every page.
func (a *App) AppendToHead(elements ...h.H) {
	for _, el := range elements {
		if el != nil {
			a.documentHeadIncludes = append(a.documentHeadIncludes, el)
		}
	}
}

// Page registers a route and its page init func. The init func receives a
// fresh *Context per page load and defines components, actions and the view.
//
// The init func is run once at registration with a throwaway context; Page
// panics if it panics or sets no view.
//
// Example:
//
//	app.Page("/", func(c *counterbutton.Context) {
//		button := c.Component(counterbutton.NewCounterButton().Mount)
//		c.View(func() h.H {
//			return h.Div(h.H1(h.Text("Counter")), button())
//		})
//	})
func (a *App) Page(route string, initContextFn func(c *Context)) {
	a.ensureDatastarHandler()
	func() {
		defer func() {
			if err := recover(); err != nil {
				a.logger.WithLevel(zerolog.FatalLevel).Msgf("failed to register page %q with init func that panics: %v", route, err)
				panic(err)
			}
		}()
		c := newContext("", route, a)
		initContextFn(c)
		if c.view == nil {
			panic(fmt.Sprintf("page %q: init func set no view", route))
		}
		c.view()
	}()

	a.mux.HandleFunc("GET "+route, func(w http.ResponseWriter, r *http.Request) {
		a.logDebug(nil, "GET %s", r.URL.String())
		if strings.Contains(r.URL.Path, "favicon") || strings.Contains(r.URL.Path, ".well-known") {
			return
		}
		c := newContext(route+"_/"+genID(), route, a)
		c.reqCtx = r.Context()
		initContextFn(c)

		headElements := []h.H{h.Script(h.Type("module"), h.Src(a.datastarPath))}
		headElements = append(headElements, a.documentHeadIncludes...)
		headElements = append(headElements,
			h.Meta(h.Data("signals", fmt.Sprintf("{'%s':'%s','%s':'%s'}", signalCtxID, c.id, signalCSRF, c.csrfToken))),
			h.Meta(h.Data("init", "@get('/_sse')")),
			h.Meta(h.Data("init", fmt.Sprintf(`window.addEventListener('beforeunload', () => {
			navigator.sendBeacon('/_session/close', '%s');});`, c.id))),
		)

		view := h.HTML5(h.HTML5Props{
			Title: a.cfg.DocumentTitle,
			Head:  headElements,
			Body:  []h.H{c.view()},
		})
		var page bytes.Buffer
		err := view.Render(&page)
		// the session is only reachable while the request is in flight
		c.reqCtx = nil
		if err != nil {
			a.logErr(c, "render page failed: %v", err)
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		a.registerCtx(c)
		_, _ = w.Write(page.Bytes())
	})
}

func (a *App) registerCtx(c *Context) {
	a.contextRegistryMutex.Lock()
	defer a.contextRegistryMutex.Unlock()
	a.contextRegistry[c.id] = c
	a.logDebug(c, "new context added to registry")
	a.logDebug(nil, "number of contexts in registry: %d", len(a.contextRegistry))
}

func (a *App) cleanupCtx(c *Context) {
	c.dispose()
	a.unregisterCtx(c)
}

func (a *App) unregisterCtx(c *Context) {
	if c.id == "" {
		a.logErr(c, "unregister ctx failed: ctx contains empty id")
		return
	}
	a.contextRegistryMutex.Lock()
	defer a.contextRegistryMutex.Unlock()
	delete(a.contextRegistry, c.id)
	a.logDebug(c, "ctx removed from registry")
}

func (a *App) getCtx(id string) (*Context, error) {
	a.contextRegistryMutex.RLock()
	defer a.contextRegistryMutex.RUnlock()
	if c, ok := a.contextRegistry[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("ctx '%s' not found", id)
}

func (a *App) startReaper() {
	ttl := a.cfg.ContextTTL
	if ttl < 0 {
		return
	}
	if ttl == 0 {
		ttl = defaultContextTTL
	}
	interval := max(ttl/3, 5*time.Second)
	a.reaperStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.reaperStop:
				return
			case <-ticker.C:
				a.reapOrphanedContexts(ttl)
			}
		}
	}()
}

func (a *App) reapOrphanedContexts(ttl time.Duration) {
	now := time.Now()
	a.contextRegistryMutex.RLock()
	var orphans []*Context
	for _, c := range a.contextRegistry {
		if !c.sseConnected.Load() && now.Sub(c.createdAt) > ttl {
			orphans = append(orphans, c)
		}
	}
	a.contextRegistryMutex.RUnlock()

	for _, c := range orphans {
		a.logInfo(c, "reaping orphaned context (no SSE connection after %s)", ttl)
		a.cleanupCtx(c)
	}
}

// HTTPHandler returns the application's handler, wrapped in the session
// middleware. Start serves it; tests can drive it with httptest.
func (a *App) HTTPHandler() http.Handler {
	return a.sessionManager.LoadAndSave(a.mux)
}

// Start starts the HTTP server and blocks until a SIGINT or SIGTERM
// signal is received, then performs a graceful shutdown.
func (a *App) Start() {
	a.server = &http.Server{
		Addr:    a.cfg.ServerAddress,
		Handler: a.HTTPHandler(),
	}

	a.startReaper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	a.logInfo(nil, "counterbutton started at [%s]", a.cfg.ServerAddress)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logInfo(nil, "received signal %v, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			a.logger.Fatal().Err(err).Msg("http server failed")
		}
		return
	}

	a.Shutdown()
}

// Shutdown gracefully shuts down the server and all contexts.
// Safe for programmatic or test use, and safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	if a.reaperStop != nil {
		close(a.reaperStop)
	}
	a.logInfo(nil, "draining all contexts")
	a.drainAllContexts()

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logErr(nil, "http server shutdown error: %v", err)
		}
	}

	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logErr(nil, "pubsub close error: %v", err)
		}
	}

	a.logInfo(nil, "shutdown complete")
}

func (a *App) drainAllContexts() {
	a.contextRegistryMutex.Lock()
	contexts := make([]*Context, 0, len(a.contextRegistry))
	for _, c := range a.contextRegistry {
		contexts = append(contexts, c)
	}
	a.contextRegistry = make(map[string]*Context)
	a.contextRegistryMutex.Unlock()

	for _, c := range contexts {
		c.dispose()
	}
	a.logInfo(nil, "drained %d context(s)", len(contexts))
}

func (a *App) ensureDatastarHandler() {
	if !strings.HasPrefix(a.datastarPath, "/") || a.datastarContent == nil {
		return
	}
	a.datastarOnce.Do(func() {
		a.mux.HandleFunc("GET "+a.datastarPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write(a.datastarContent)
		})
	})
}

func (a *App) handleSSE(w http.ResponseWriter, r *http.Request) {
	var sigs map[string]any
	_ = datastar.ReadSignals(r, &sigs)
	cID, _ := sigs[signalCtxID].(string)

	c, err := a.getCtx(cID)
	if err != nil {
		a.logErr(nil, "sse stream failed to start: %v", err)
		http.Error(w, "unknown context", http.StatusNotFound)
		return
	}

	sse := datastar.NewSSE(w, r, datastar.WithCompression(datastar.WithBrotli(datastar.WithBrotliLevel(5))))
	c.sseConnected.Store(true)
	a.logDebug(c, "SSE connection established")

	c.loop.post(c.Sync)

	for {
		select {
		case <-sse.Context().Done():
			a.logDebug(c, "SSE connection ended")
			a.cleanupCtx(c)
			return
		case <-c.ctxDisposedChan:
			a.logDebug(c, "context disposed, closing SSE")
			return
		case elements := <-c.patchChan:
			if err := sse.PatchElements(elements); err != nil {
				// a closed connection is not worth logging
				if sse.Context().Err() == nil {
					a.logErr(c, "PatchElements failed: %v", err)
				}
			}
		}
	}
}

func (a *App) handleAction(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("id")
	var sigs map[string]any
	_ = datastar.ReadSignals(r, &sigs)
	cID, _ := sigs[signalCtxID].(string)
	c, err := a.getCtx(cID)
	if err != nil {
		a.logErr(nil, "action '%s' failed: %v", actionID, err)
		http.Error(w, "unknown context", http.StatusNotFound)
		return
	}
	csrfToken, _ := sigs[signalCSRF].(string)
	if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(c.csrfToken)) != 1 {
		a.logWarn(c, "action '%s' rejected: invalid CSRF token", actionID)
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	if c.actionLimiter != nil && !c.actionLimiter.Allow() {
		a.logWarn(c, "action '%s' rate limited", actionID)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	entry, err := c.getAction(actionID)
	if err != nil {
		a.logDebug(c, "action '%s' failed: %v", actionID, err)
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if entry.limiter != nil && !entry.limiter.Allow() {
		a.logWarn(c, "action '%s' rate limited (per-action)", actionID)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if !c.loop.do(func() {
		c.reqCtx = r.Context()
		defer func() {
			c.reqCtx = nil
			if rec := recover(); rec != nil {
				a.logErr(c, "action '%s' failed: %v", actionID, rec)
			}
		}()
		entry.fn()
	}) {
		a.logDebug(c, "action '%s' dropped: context disposed", actionID)
	}
}

func (a *App) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.logErr(nil, "error reading body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c, err := a.getCtx(string(body))
	if err != nil {
		a.logDebug(nil, "failed to handle session close: %v", err)
		return
	}
	a.logDebug(c, "session close event triggered")
	a.cleanupCtx(c)
}

// New creates a new *App with default configuration.
func New() *App {
	a := &App{
		mux:             http.NewServeMux(),
		logger:          newConsoleLogger(zerolog.InfoLevel),
		contextRegistry: make(map[string]*Context),
		sessionManager:  scs.New(),
		datastarPath:    defaultDatastarPath,
		cfg: Options{
			ServerAddress: ":3000",
			DocumentTitle: "Counter Button",
		},
	}

	a.mux.HandleFunc("GET /_sse", a.handleSSE)
	a.mux.HandleFunc("GET /_action/{id}", a.handleAction)
	a.mux.HandleFunc("POST /_session/close", a.handleSessionClose)
	return a
}

func genID() string {
	return xid.New().String()
}

func genCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
