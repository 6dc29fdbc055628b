// Package cbnats provides an embedded NATS server as a pub/sub backend for
// counterbutton applications, so count-changed notifications can fan out
// across pages.
package cbnats

import (
	"context"
	"fmt"

	"github.com/delaneyj/toolbelt/embeddednats"
	"github.com/nats-io/nats.go"
	"github.com/ryanhamamura/counterbutton"
)

// NATS implements counterbutton.PubSub using an embedded NATS server.
type NATS struct {
	server *embeddednats.Server
	nc     *nats.Conn
}

// New starts an embedded NATS server storing its data in dataDir and returns
// a connected NATS instance. The server shuts down when ctx is cancelled or
// Close is called.
func New(ctx context.Context, dataDir string) (*NATS, error) {
	ns, err := embeddednats.New(ctx, embeddednats.WithDirectory(dataDir))
	if err != nil {
		return nil, fmt.Errorf("cbnats: start server: %w", err)
	}
	ns.WaitForServer()

	nc, err := ns.Client()
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("cbnats: connect client: %w", err)
	}

	return &NATS{server: ns, nc: nc}, nil
}

// Publish sends data to the given subject.
func (n *NATS) Publish(subject string, data []byte) error {
	return n.nc.Publish(subject, data)
}

// Subscribe creates a core NATS subscription for real-time fan-out delivery.
func (n *NATS) Subscribe(subject string, handler func(data []byte)) (counterbutton.Subscription, error) {
	sub, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("cbnats: subscribe %q: %w", subject, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
func (n *NATS) Flush() error {
	return n.nc.Flush()
}

// Close shuts down the client connection and embedded server.
func (n *NATS) Close() error {
	n.nc.Close()
	return n.server.Close()
}
