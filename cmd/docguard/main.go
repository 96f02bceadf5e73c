package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/amoebalabs/docguard/cmd/docguard/commands"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// The first interrupt cancels the running command; watch drains and exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	code := commands.ExitRejected
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		err = exitErr.Err
	}
	// A rejected document has already been reported on stdout.
	if err != nil {
		log.Error().Err(err).Msg("docguard failed")
	}
	cancel()
	os.Exit(code)
}

// setupLogging points the global logger at stderr. DOCGUARD_LOG_LEVEL, or
// LOG_LEVEL, sets the level; --verbose raises it to debug later.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := os.Getenv("DOCGUARD_LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
}
