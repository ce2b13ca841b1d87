// Package dialer implements the upstream connector: given an Application's
// target list, it establishes a connection to exactly one target within a
// bounded number of attempts (§4.3).
package dialer

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"tcplb/lib/core"
	"tcplb/lib/pump"
	"tcplb/lib/slog"
	"time"
)

// ErrNoTargets is returned immediately if an Application has no targets
// configured; Configuration.Validate should make this unreachable in
// practice, but Connect does not trust that it was called.
var ErrNoTargets = errors.New("no candidate targets")

// ErrUnsupportedConnType is returned if the net.Dialer produces a
// connection type that does not implement CloseWrite.
var ErrUnsupportedConnType = errors.New("dialed connection type does not support CloseWrite")

// NetDialer is the subset of net.Dialer Connector needs, so tests can
// substitute a fake without opening real sockets.
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connector selects and dials an upstream target for one inbound
// connection, per §4.3: a fresh per-connection shuffle of the target list,
// round-robin over the shuffled order, bounded total attempts, and a
// per-dial connect timeout.
//
// A Connector is reused across many inbound connections; Connect itself is
// safe for concurrent use, since all mutable selection state (the shuffled
// order, the attempt counter) is local to one call.
type Connector struct {
	Dialer         NetDialer
	ConnectTimeout time.Duration
	Retries        int // total attempts = 1 + Retries
	Logger         slog.Logger

	// IntN, if set, overrides the source of randomness used to shuffle
	// targets per connection. Defaults to rand.Intn. Tests inject a
	// deterministic function here.
	IntN func(n int) int
}

func (c *Connector) intn() func(int) int {
	if c.IntN != nil {
		return c.IntN
	}
	return rand.Intn
}

// Connect dials one of app's targets, returning the target chosen and an
// established DuplexConn. It shuffles app.Targets into a fresh per-call
// order, then dials starting at that order's head, wrapping around it for
// up to 1+c.Retries attempts, each bounded by c.ConnectTimeout. It returns
// the first successful connection, or the last dial failure once attempts
// are exhausted.
func (c *Connector) Connect(ctx context.Context, app *core.Application) (core.Upstream, pump.DuplexConn, error) {
	n := len(app.Targets)
	if n == 0 {
		return core.Upstream{}, nil, ErrNoTargets
	}

	shuffled := core.Shuffle(app.Targets, c.intn())
	attempts := 1 + c.Retries

	var lastErr error
	for i := 0; i < attempts; i++ {
		target := shuffled[i%n]

		dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
		conn, err := c.Dialer.DialContext(dialCtx, target.Network, target.Address)
		cancel()

		if err != nil {
			c.Logger.Warn(&slog.LogRecord{Msg: "dial failed", Error: err, Upstream: &target})
			lastErr = err
			continue
		}

		duplexConn, err := pump.AsDuplexConn(conn)
		if err != nil {
			_ = conn.Close()
			c.Logger.Warn(&slog.LogRecord{Msg: "dial produced unsupported conn type", Error: err, Upstream: &target})
			lastErr = ErrUnsupportedConnType
			continue
		}

		c.Logger.Info(&slog.LogRecord{Msg: "dial succeeded", Upstream: &target})
		return target, duplexConn, nil
	}

	return core.Upstream{}, nil, lastErr
}

// StandardNetDialer adapts *net.Dialer to the NetDialer interface used by
// Connector in production; tests use a fake instead.
type StandardNetDialer struct {
	net.Dialer
}

var _ NetDialer = StandardNetDialer{}
