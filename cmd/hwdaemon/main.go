// Command hwdaemon is the hardware supervision daemon for the multi-bay
// NAS appliance: it drives the chassis MCU over its UART, governs the fan
// from the sensor fleet, reacts to power/drive/button alerts, and serves
// the local control socket.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/michaelroland/wdnas-hwdaemon/internal/config"
	"github.com/michaelroland/wdnas-hwdaemon/internal/controlsocket"
	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/oscmd"
	"github.com/michaelroland/wdnas-hwdaemon/internal/supervisor"
)

// Distinct exit codes for the two fatal startup classes.
const (
	exitConfigError     = 10
	exitPermissionError = 11
)

// The log file is rotated at 50 MiB with 3 numbered backups.
const (
	logRotateSizeMB  = 50
	logRotateBackups = 3
)

const defaultConfigFile = "/etc/wdhwd.conf"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigFile, "configuration file path")
	debug := flag.Bool("debug", false, "enable debug mode (suppresses system shutdown, allows raw MCU passthrough)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("config", *configPath).Msg("configuration error")
		return exitConfigError
	}

	if cfg.LogFile != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logRotateSizeMB,
			MaxBackups: logRotateBackups,
		}
		defer sink.Close()
		log = zerolog.New(io.MultiWriter(sink, zerolog.ConsoleWriter{Out: os.Stderr})).With().Timestamp().Logger()
	}
	if *debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	gid, err := controlsocket.ResolveGroupID(cfg.SocketGroup)
	if err != nil {
		log.Error().Err(err).Str("group", cfg.SocketGroup).Msg("socket group resolution failed")
		return exitConfigError
	}
	if err := createSocketDir(cfg.SocketPath, gid); err != nil {
		log.Error().Err(err).Str("path", cfg.SocketPath).Msg("socket directory creation failed")
		return exitPermissionError
	}

	runner := oscmd.New(log, *debug)
	sup := supervisor.New(cfg, runner, log)

	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		log.Error().Err(err).Msg("hardware core startup failed")
		return 1
	}

	server, err := controlsocket.Listen(sup, cfg.SocketPath, gid, cfg.SocketMaxClients, *debug, log)
	if err != nil {
		sup.Stop()
		if errs.Is(err, errs.PermissionDenied) {
			log.Error().Err(err).Msg("control socket permission error")
			return exitPermissionError
		}
		log.Error().Err(err).Msg("control socket startup failed")
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Info().Stringer("signal", sig).Msg("signal received, shutting down")
	case <-sup.ShutdownRequested():
		log.Info().Msg("internal shutdown request, shutting down")
	}

	server.Close()
	sup.Stop()
	return 0
}

// createSocketDir makes the control socket's parent directory and, when a
// socket group is configured, hands it to that group so clients can
// traverse it. Failures here are the permission-denied startup class.
func createSocketDir(socketPath string, gid int) error {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.PermissionDenied, "createSocketDir", err)
	}
	if gid >= 0 {
		if err := os.Chown(dir, -1, gid); err != nil {
			return errs.Wrap(errs.PermissionDenied, "createSocketDir", err)
		}
	}
	return nil
}
