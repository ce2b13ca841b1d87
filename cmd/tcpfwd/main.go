package main

import (
	"os"
	"tcplb/lib/slog"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func run(c *cli.Context) error {
	settings, err := settingsFromContext(c)
	if err != nil {
		return err
	}

	logger := slog.NewLogger(settings.LogLevel)

	if err := settings.Configuration.Validate(); err != nil {
		logger.Error(&slog.LogRecord{Msg: "configuration is invalid", Error: err})
		return err
	}

	server, err := NewServer(logger, settings)
	if err != nil {
		logger.Error(&slog.LogRecord{Msg: "failed to create server", Error: err})
		return err
	}

	if err := server.Serve(); err != nil {
		logger.Error(&slog.LogRecord{Msg: "server terminated abnormally", Error: err})
		return err
	}
	logger.Info(&slog.LogRecord{Msg: "server terminated normally"})
	return nil
}

func main() {
	app := &cli.App{
		Name:  commandName,
		Usage: "a TCP reverse proxy and load balancer",
		Flags: flags(),
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Error().Err(err).Msg("fatal error")
		os.Exit(1)
	}
}
