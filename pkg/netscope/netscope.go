// File: pkg/netscope/netscope.go
// Brief: Network resources for scope stacks.

// Package netscope provides network resources for scope stacks: listeners,
// dialed connections, gRPC client conns, and websockets whose close
// handshake reflects how the scope exited.
package netscope

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Listener starts listening on enter and closes the listener on exit.
type Listener struct {
	// Network defaults to "tcp".
	Network string
	Address string

	ln net.Listener
}

func (l *Listener) Enter(ctx context.Context) (any, error) {
	network := l.Network
	if network == "" {
		network = "tcp"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, l.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, l.Address, err)
	}
	l.ln = ln
	return ln, nil
}

func (l *Listener) Exit(_ context.Context, _ error) error {
	if l.ln == nil {
		return nil
	}
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Dial connects on enter and closes the conn on exit.
type Dial struct {
	// Network defaults to "tcp".
	Network string
	Address string
	Timeout time.Duration

	conn net.Conn
}

func (d *Dial) Enter(ctx context.Context) (any, error) {
	network := d.Network
	if network == "" {
		network = "tcp"
	}
	dialer := &net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, network, d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, d.Address, err)
	}
	d.conn = conn
	return conn, nil
}

func (d *Dial) Exit(_ context.Context, _ error) error {
	if d.conn == nil {
		return nil
	}
	if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close conn: %w", err)
	}
	return nil
}
