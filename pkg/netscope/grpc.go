// File: pkg/netscope/grpc.go
// Brief: gRPC client conn resource.

package netscope

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// GRPC dials a gRPC client conn on enter, blocks until it is Ready (or the
// context expires), and closes it on exit.
type GRPC struct {
	Target string
	Opts   []grpc.DialOption

	conn *grpc.ClientConn
}

func (g *GRPC) Enter(ctx context.Context) (any, error) {
	target := strings.TrimSpace(g.Target)
	if target != "" && !strings.Contains(target, "://") {
		// Preserve grpc.DialContext's default "passthrough" resolver behavior.
		target = "passthrough:///" + target
	}

	conn, err := grpc.NewClient(target, g.Opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			g.conn = conn
			return conn, nil
		}
		if state == connectivity.Shutdown {
			_ = conn.Close()
			return nil, errors.New("grpc connection shutdown")
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, ctx.Err()
		}
	}
}

func (g *GRPC) Exit(_ context.Context, _ error) error {
	if g.conn == nil {
		return nil
	}
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("close grpc conn: %w", err)
	}
	return nil
}
