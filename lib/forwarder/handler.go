// Package forwarder implements the port handler: the per-accepted-
// connection lifecycle that dials an upstream, pumps bytes in both
// directions, and reconnects to a new upstream on target-side failure
// while leaving the source connection untouched (§4.4).
package forwarder

import (
	"context"
	"tcplb/lib/core"
	"tcplb/lib/limiter"
	"tcplb/lib/pump"
	"tcplb/lib/slog"
	"time"
)

type applicationContextKeyType struct{}

var applicationContextKey = applicationContextKeyType{}

// NewContextWithApplication returns a child context carrying app, for the
// terminal handler in the chain to retrieve.
func NewContextWithApplication(parent context.Context, app *core.Application) context.Context {
	return context.WithValue(parent, applicationContextKey, app)
}

// ApplicationFromContext retrieves the Application stored by
// NewContextWithApplication, if any.
func ApplicationFromContext(ctx context.Context) (*core.Application, bool) {
	app, ok := ctx.Value(applicationContextKey).(*core.Application)
	return app, ok
}

// Handler handles one accepted source connection for the lifetime of that
// connection.
type Handler interface {
	Handle(ctx context.Context, conn pump.DuplexConn)
}

// ConnCloserHandler closes the source connection after Inner returns. It
// should be the outermost handler in the stack.
type ConnCloserHandler struct {
	Inner Handler
}

func (h *ConnCloserHandler) Handle(ctx context.Context, conn pump.DuplexConn) {
	defer func() {
		// Close errors here are almost always attributable to a peer that
		// already hung up; there's nothing actionable to do with them.
		_ = conn.Close()
	}()
	h.Inner.Handle(ctx, conn)
}

var _ Handler = (*ConnCloserHandler)(nil)

// RecovererHandler recovers a panic raised by Inner, logs it, and returns.
// A single misbehaving connection handler must never take down the
// acceptor goroutine serving every other connection on the same listener.
type RecovererHandler struct {
	Logger slog.Logger
	Inner  Handler
}

func (h *RecovererHandler) Handle(ctx context.Context, conn pump.DuplexConn) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error(&slog.LogRecord{Msg: "RecovererHandler: Unexpected panic!", Details: r})
		}
	}()
	h.Inner.Handle(ctx, conn)
}

var _ Handler = (*RecovererHandler)(nil)

// ApplicationContextHandler stores app in the context passed to Inner,
// so downstream handlers (the connection cap, the port handler) can look
// it up without threading it through every call signature.
type ApplicationContextHandler struct {
	Application *core.Application
	Inner       Handler
}

func (h *ApplicationContextHandler) Handle(ctx context.Context, conn pump.DuplexConn) {
	h.Inner.Handle(NewContextWithApplication(ctx, h.Application), conn)
}

var _ Handler = (*ApplicationContextHandler)(nil)

// ConnectionCapHandler only allows Inner to handle the connection if a
// reservation can be obtained for the Application found in the context
// (the supplemented per-application connection cap; see DESIGN.md).
type ConnectionCapHandler struct {
	Logger   slog.Logger
	Reserver *limiter.AppConnReserver
	Inner    Handler
}

func (h *ConnectionCapHandler) Handle(ctx context.Context, conn pump.DuplexConn) {
	app, ok := ApplicationFromContext(ctx)
	if !ok {
		h.Logger.Error(&slog.LogRecord{Msg: "ConnectionCapHandler: failed to get Application from context"})
		return
	}

	if err := h.Reserver.TryReserve(app.Name); err != nil {
		h.Logger.Warn(&slog.LogRecord{Msg: "ConnectionCapHandler: connection cap reached", Details: app.Name, Error: err})
		return
	}
	defer func() {
		if err := h.Reserver.Release(app.Name); err != nil {
			h.Logger.Error(&slog.LogRecord{Msg: "ConnectionCapHandler: release error", Details: app.Name, Error: err})
		}
	}()

	h.Inner.Handle(ctx, conn)
}

var _ Handler = (*ConnectionCapHandler)(nil)

// UpstreamConnector establishes a connection to one of an Application's
// targets. lib/dialer.Connector implements this.
type UpstreamConnector interface {
	Connect(ctx context.Context, app *core.Application) (core.Upstream, pump.DuplexConn, error)
}

// PortHandler is the terminal handler: it runs the "sticky source, hunted
// target" reconnect loop of §4.4 for one accepted source connection.
type PortHandler struct {
	Logger            slog.Logger
	Connector         UpstreamConnector
	InactivityTimeout time.Duration
	BufSize           int
}

func (h *PortHandler) Handle(ctx context.Context, src pump.DuplexConn) {
	app, ok := ApplicationFromContext(ctx)
	if !ok {
		h.Logger.Error(&slog.LogRecord{Msg: "PortHandler: failed to get Application from context"})
		return
	}

	for {
		target, dst, err := h.Connector.Connect(ctx, app)
		if err != nil {
			h.Logger.Error(&slog.LogRecord{Msg: "PortHandler: failed to connect to any target", Error: err})
			return
		}

		outcome := pump.Pump(src, dst, h.InactivityTimeout, h.BufSize)
		_ = dst.Close()

		switch outcome.Kind {
		case pump.SourceErr:
			h.Logger.Warn(&slog.LogRecord{Msg: "PortHandler: source failed, aborting connection", Upstream: &target, Error: outcome.Err})
			return
		case pump.SourceEOF:
			h.Logger.Info(&slog.LogRecord{Msg: "PortHandler: source closed, ending connection", Upstream: &target})
			return
		case pump.TargetErr:
			h.Logger.Warn(&slog.LogRecord{Msg: "PortHandler: target failed, reconnecting", Upstream: &target, Error: outcome.Err})
		case pump.TargetEOF:
			h.Logger.Info(&slog.LogRecord{Msg: "PortHandler: target closed, reconnecting", Upstream: &target})
		}
	}
}

var _ Handler = (*PortHandler)(nil)
