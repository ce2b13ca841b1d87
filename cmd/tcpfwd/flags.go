package main

import (
	"tcplb/lib/core"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	commandName                       = "tcpfwd"
	defaultUpstreamNetwork            = "tcp"
	defaultTargetConnectTimeoutMillis = 3000
	defaultInactivityTimeoutMillis    = 60000
	defaultRetries                    = 3
	defaultBufSize                    = 8192
	defaultMaxConnectionsPerApp       = 0 // unbounded
)

// Settings holds every value the server needs to start, gathered from CLI
// flags and the config file they point at.
type Settings struct {
	Configuration        *core.Configuration
	TargetConnectTimeout int // milliseconds
	InactivityTimeout    int // milliseconds
	Retries              int
	BufSize              int
	MaxConnectionsPerApp int64
	LogLevel             zerolog.Level
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "config-path",
			Aliases:  []string{"c"},
			Usage:    "path to a JSON file describing the applications to serve, or that JSON given inline",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "target-connect-timeout-ms",
			Usage: "per-attempt timeout for dialing a target, in milliseconds",
			Value: defaultTargetConnectTimeoutMillis,
		},
		&cli.IntFlag{
			Name:  "inactivity-timeout-ms",
			Usage: "how long a connection may go without progress in either direction before it is dropped, in milliseconds",
			Value: defaultInactivityTimeoutMillis,
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "number of additional targets to try, per connection, after the first one fails",
			Value: defaultRetries,
		},
		&cli.IntFlag{
			Name:  "buf-size",
			Usage: "size in bytes of the buffer used to pump each direction of a connection",
			Value: defaultBufSize,
		},
		&cli.Int64Flag{
			Name:  "max-conns-per-app",
			Usage: "maximum concurrent connections per application. if not positive, unbounded.",
			Value: defaultMaxConnectionsPerApp,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase log verbosity (repeatable)",
			Count:   new(int),
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "decrease log verbosity (repeatable)",
			Count:   new(int),
		},
	}
}

func logLevelFromVerbosity(verbose, quiet int) zerolog.Level {
	level := int(zerolog.InfoLevel) - verbose + quiet
	if level < int(zerolog.TraceLevel) {
		level = int(zerolog.TraceLevel)
	}
	if level > int(zerolog.Disabled) {
		level = int(zerolog.Disabled)
	}
	return zerolog.Level(level)
}

func settingsFromContext(c *cli.Context) (*Settings, error) {
	cfg, err := LoadConfiguration(c.String("config-path"))
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Configuration:        cfg,
		TargetConnectTimeout: c.Int("target-connect-timeout-ms"),
		InactivityTimeout:    c.Int("inactivity-timeout-ms"),
		Retries:              c.Int("retries"),
		BufSize:              c.Int("buf-size"),
		MaxConnectionsPerApp: c.Int64("max-conns-per-app"),
		LogLevel:             logLevelFromVerbosity(c.Count("verbose"), c.Count("quiet")),
	}
	return s, nil
}
