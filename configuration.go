package counterbutton

import (
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
)

func ptr(l zerolog.Level) *zerolog.Level { return &l }

var (
	LogLevelDebug = ptr(zerolog.DebugLevel)
	LogLevelInfo  = ptr(zerolog.InfoLevel)
	LogLevelWarn  = ptr(zerolog.WarnLevel)
	LogLevelError = ptr(zerolog.ErrorLevel)
)

// Plugin is a func that can mutate the given *App runtime, e.g. to append
// stylesheets or scripts to every page.
type Plugin func(a *App)

// Options defines configuration options for the application. Zero values keep
// the current setting.
type Options struct {
	// DevMode switches logging to a human readable console writer.
	DevMode bool

	// The http server address. e.g. ':3000'
	ServerAddress string

	// LogLevel sets the minimum log level. nil keeps the default (Info).
	LogLevel *zerolog.Level

	// Logger overrides the default logger entirely. When set, LogLevel and
	// DevMode have no effect on logging.
	Logger *zerolog.Logger

	// The title of the HTML document.
	DocumentTitle string

	// Plugins run once, in order, when Config is called.
	Plugins []Plugin

	// SessionManager replaces the default in-memory scs session manager.
	// Configure lifetime, cookie settings and store before passing it.
	SessionManager *scs.SessionManager

	// DatastarContent is served at DatastarPath when set. Without it pages
	// load Datastar from DatastarPath as is, which defaults to the CDN bundle.
	DatastarContent []byte

	// DatastarPath is the script URL (or local path when DatastarContent is set).
	DatastarPath string

	// PubSub enables publish/subscribe messaging between contexts. Use
	// cbnats.New() for an embedded NATS backend.
	PubSub PubSub

	// ContextTTL is how long a rendered page may wait for its SSE connection
	// before it is reaped. Defaults to 30s; negative disables reaping.
	ContextTTL time.Duration

	// ActionRateLimit is the per-page token bucket for actions.
	ActionRateLimit RateLimitConfig
}
