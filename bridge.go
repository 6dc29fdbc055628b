package counterbutton

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CountChanged is the pub/sub form of a count-changed notification.
type CountChanged struct {
	Source string `msgpack:"source"`
	Count  int    `msgpack:"count"`
}

// Forward publishes every count b announces on subject as a msgpack encoded
// CountChanged whose Source is the id of c. Publish failures are logged; the
// button itself never fails. Unsubscribe the returned listener to stop.
func Forward(c *Context, subject string, b *CounterButton) (*Listener[int], error) {
	if c.id != "" && c.app.pubsub == nil {
		return nil, ErrNoPubSub
	}
	return b.CountChanged().Subscribe(func(n int) {
		data, err := msgpack.Marshal(CountChanged{Source: c.id, Count: n})
		if err != nil {
			c.app.logErr(c, "encode count for %q: %v", subject, err)
			return
		}
		if err := c.Publish(subject, data); err != nil {
			c.app.logErr(c, "forward count: %v", err)
		}
	}), nil
}

// Relay subscribes to subject and hands every decoded CountChanged to fn on
// the page's event loop.
func Relay(c *Context, subject string, fn func(CountChanged)) (Subscription, error) {
	sub, err := c.Subscribe(subject, func(data []byte) {
		var evt CountChanged
		if err := msgpack.Unmarshal(data, &evt); err != nil {
			c.app.logWarn(c, "skipping undecodable count on %q: %v", subject, err)
			return
		}
		fn(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	return sub, nil
}
