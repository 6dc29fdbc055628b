package main

import (
	"github.com/rs/zerolog"
	cb "github.com/ryanhamamura/counterbutton"
	"github.com/ryanhamamura/counterbutton/h"
)

const countSubject = "counter.changed"

// counterPage builds the demo page: two independent buttons, a parent view
// showing the last count from each, and optionally a scoreboard fed through
// pub/sub from every open page.
func counterPage(logger zerolog.Logger, scoreboard bool) func(c *cb.Context) {
	return func(c *cb.Context) {
		returning := c.Session().Exists("visits")
		visits := c.Session().GetInt("visits") + 1
		c.Session().Set("visits", visits)
		forget := c.Action(func() {
			c.Session().Delete("visits")
			visits, returning = 0, false
			c.Sync()
		})

		a := cb.NewCounterButton(cb.WithLabel("Counter A"))
		b := cb.NewCounterButton(cb.WithLabel("Counter B"))
		lastA, lastB := 0, 0
		a.CountChanged().Subscribe(func(n int) {
			lastA = n
			c.Sync()
		})
		b.CountChanged().Subscribe(func(n int) {
			lastB = n
			c.Sync()
		})
		viewA := c.Component(a.Mount)
		viewB := c.Component(b.Mount)

		var board func() h.H
		if scoreboard {
			for _, btn := range []*cb.CounterButton{a, b} {
				if _, err := cb.Forward(c, countSubject, btn); err != nil {
					logger.Error().Err(err).Str("page", c.ID()).Msg("forward counts")
				}
			}
			board = c.Component(scoreboardComp(logger))
		}

		c.View(func() h.H {
			return h.Div(
				h.H1(h.Text("Counter buttons")),
				h.If(returning, h.P(h.Text("Welcome back."))),
				h.P(h.Textf("Visit #%d ", visits), h.Button(h.Type("button"), forget.OnClick(), h.Text("Forget me"))),
				viewA(),
				viewB(),
				h.Section(
					h.H2(h.Text("Parent view")),
					h.P(h.Textf("Last count from A: %d", lastA)),
					h.P(h.Textf("Last count from B: %d", lastB)),
				),
				renderBoard(board),
			)
		})
	}
}

// viewport is a Plugin that makes the page usable on small screens.
func viewport(a *cb.App) {
	a.AppendToHead(h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")))
}

func renderBoard(board func() h.H) h.H {
	if board == nil {
		return nil
	}
	return board()
}

func scoreboardComp(logger zerolog.Logger) func(c *cb.Context) {
	return func(c *cb.Context) {
		total := 0
		var last cb.CountChanged
		if _, err := cb.Relay(c, countSubject, func(evt cb.CountChanged) {
			total++
			last = evt
			c.Sync()
		}); err != nil {
			logger.Error().Err(err).Str("page", c.ID()).Msg("relay counts")
		}

		c.View(func() h.H {
			return h.Section(
				h.H2(h.Text("Scoreboard")),
				h.P(h.Textf("Clicks across all pages: %d", total)),
				h.If(total > 0, h.P(h.Strong(h.Textf("Latest: %d", last.Count)))),
			)
		})
	}
}
