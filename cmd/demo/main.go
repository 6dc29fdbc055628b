// Command demo serves a page with two counter buttons and a parent view that
// listens to both.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	cb "github.com/ryanhamamura/counterbutton"
	"github.com/ryanhamamura/counterbutton/cbnats"
)

func main() {
	addr := flag.String("addr", ":3000", "http listen address")
	dev := flag.Bool("dev", false, "console logging")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	natsDir := flag.String("nats", "", "data dir for an embedded NATS server; enables the scoreboard")
	sessionsDB := flag.String("sessions", "", "sqlite file for persistent sessions; in-memory when empty")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if *dev {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.With().Timestamp().Logger().Level(level)

	opts := cb.Options{
		DevMode:       *dev,
		ServerAddress: *addr,
		Logger:        &logger,
		DocumentTitle: "Counter Button Demo",
		Plugins:       []cb.Plugin{viewport},
	}

	if *sessionsDB != "" {
		db, err := sql.Open("sqlite3", *sessionsDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("open sessions db")
		}
		defer db.Close()
		sm, err := cb.NewSQLiteSessionManager(db)
		if err != nil {
			logger.Fatal().Err(err).Msg("create session manager")
		}
		opts.SessionManager = sm
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *natsDir != "" {
		ps, err := cbnats.New(ctx, *natsDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("start nats")
		}
		opts.PubSub = ps
	}

	app := cb.New()
	app.Config(opts)
	app.Page("/", counterPage(logger, opts.PubSub != nil))
	app.Start()
}
