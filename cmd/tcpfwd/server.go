package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"tcplb/lib/core"
	"tcplb/lib/dialer"
	liberrors "tcplb/lib/errors"
	"tcplb/lib/forwarder"
	"tcplb/lib/limiter"
	"tcplb/lib/pump"
	"tcplb/lib/slog"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// desiredNoFileRlimit is a best-effort target for RLIMIT_NOFILE: each
// forwarded connection holds two file descriptors open (source and target)
// for its lifetime, so the default per-process limit on many systems is
// comfortably exhausted well before any other resource.
const desiredNoFileRlimit = 1 << 20

// tuneRlimit attempts to raise RLIMIT_NOFILE to desiredNoFileRlimit. Failure
// is logged and otherwise ignored: the server still runs, just with
// whatever ceiling the operator or init system already set.
func tuneRlimit(logger slog.Logger) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warn(&slog.LogRecord{Msg: "failed to read RLIMIT_NOFILE", Error: err})
		return
	}

	target := rlimit.Max
	if target > desiredNoFileRlimit {
		target = desiredNoFileRlimit
	}
	if rlimit.Cur >= target {
		return
	}

	rlimit.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warn(&slog.LogRecord{Msg: "failed to raise RLIMIT_NOFILE", Error: err})
		return
	}
	logger.Info(&slog.LogRecord{Msg: fmt.Sprintf("raised RLIMIT_NOFILE to %d", target)})
}

// Server owns the acceptor fan-out: one listener per (application, port),
// each feeding accepted connections into a shared handler chain (§4.5).
type Server struct {
	Logger      slog.Logger
	Settings    *Settings
	Reserver    *limiter.AppConnReserver
	PortHandler *forwarder.PortHandler
}

// NewServer wires together the connector, the per-application connection
// cap, and the port handler from settings. It does not bind any listeners;
// that happens in Serve.
func NewServer(logger slog.Logger, settings *Settings) (*Server, error) {
	tuneRlimit(logger)

	connector := &dialer.Connector{
		Dialer:         dialer.StandardNetDialer{},
		ConnectTimeout: time.Duration(settings.TargetConnectTimeout) * time.Millisecond,
		Retries:        settings.Retries,
		Logger:         logger,
	}

	portHandler := &forwarder.PortHandler{
		Logger:            logger,
		Connector:         connector,
		InactivityTimeout: time.Duration(settings.InactivityTimeout) * time.Millisecond,
		BufSize:           settings.BufSize,
	}

	return &Server{
		Logger:      logger,
		Settings:    settings,
		Reserver:    limiter.NewAppConnReserver(settings.MaxConnectionsPerApp),
		PortHandler: portHandler,
	}, nil
}

// handlerForApp composes the decorator chain for one application, from
// outermost to innermost: close the connection on exit, recover handler
// panics, inject the application into the context, enforce the
// per-application connection cap, then pump bytes.
func (s *Server) handlerForApp(app *core.Application) forwarder.Handler {
	return &forwarder.ConnCloserHandler{
		Inner: &forwarder.RecovererHandler{
			Logger: s.Logger,
			Inner: &forwarder.ApplicationContextHandler{
				Application: app,
				Inner: &forwarder.ConnectionCapHandler{
					Logger:   s.Logger,
					Reserver: s.Reserver,
					Inner:    s.PortHandler,
				},
			},
		},
	}
}

type boundListener struct {
	listener net.Listener
	app      *core.Application
}

// Serve binds one listener per configured (application, port) pair and
// serves them concurrently until one of them exits with a fatal error, at
// which point every other listener is torn down and the error is returned.
// An empty configuration is a valid no-op: Serve returns nil immediately.
func (s *Server) Serve() error {
	apps := s.Settings.Configuration.Apps
	if len(apps) == 0 {
		s.Logger.Info(&slog.LogRecord{Msg: "no applications configured, nothing to serve"})
		return nil
	}

	var bound []boundListener
	closeAll := func() {
		closeErrs := make([]error, len(bound))
		for i, b := range bound {
			closeErrs[i] = b.listener.Close()
		}
		if err := liberrors.AggregateErrors(closeErrs...); err != nil {
			s.Logger.Warn(&slog.LogRecord{Msg: "error closing one or more listeners during shutdown", Error: err})
		}
	}

	for i := range apps {
		app := &apps[i]
		for _, port := range app.Ports {
			address := fmt.Sprintf("0.0.0.0:%d", port)
			listener, err := net.Listen("tcp", address)
			if err != nil {
				closeAll()
				return pkgerrors.Wrapf(err, "failed to listen for application %q on %s", app.Name, address)
			}
			bound = append(bound, boundListener{listener: listener, app: app})
			s.Logger.Info(&slog.LogRecord{Msg: fmt.Sprintf("application %q listening on %s", app.Name, address)})
		}
	}

	group, ctx := errgroup.WithContext(context.Background())
	for _, b := range bound {
		b := b
		handler := s.handlerForApp(b.app)
		group.Go(func() error {
			return s.acceptLoop(ctx, b.listener, handler)
		})
	}

	// The first accept loop to fail cancels ctx; closing every listener then
	// unblocks the other loops' Accept calls so that Wait can return.
	group.Go(func() error {
		<-ctx.Done()
		closeAll()
		return nil
	})

	return group.Wait()
}

// acceptLoop accepts connections on listener until ctx is cancelled or a
// non-temporary accept error occurs. Temporary accept errors (a common
// occurrence under fd exhaustion) are logged and do not end the loop.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, handler forwarder.Handler) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() { //nolint:staticcheck // Temporary is deprecated but still the right signal here
				s.Logger.Warn(&slog.LogRecord{Msg: "temporary accept error, continuing", Error: err})
				continue
			}
			return pkgerrors.Wrap(err, "listener accept failed")
		}

		duplexConn, err := pump.AsDuplexConn(conn)
		if err != nil {
			s.Logger.Warn(&slog.LogRecord{Msg: "rejecting accepted connection of unsupported type", Error: err})
			_ = conn.Close()
			continue
		}

		go handler.Handle(context.Background(), duplexConn)
	}
}
