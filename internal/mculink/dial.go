package mculink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/serialport"
)

// candidatePorts returns the ports to try, in order: the single
// configured port if given, otherwise every auto-discovered 16550-class
// candidate.
var candidatePorts = func(configured string) ([]string, error) {
	if configured != "" {
		return []string{configured}, nil
	}
	return serialport.Discover()
}

// openPort is overridable in tests to avoid touching real device nodes.
var openPort = serialport.Open

// Dial opens the configured port, or auto-detects one, and performs the
// double version-query startup probe: the first VER query
// resyncs a possibly mid-frame MCU and its result is discarded; the second
// must succeed for the candidate to be accepted. Candidates that fail
// either open or the probe are disconnected and the next is tried.
func Dial(ctx context.Context, configuredPort string, conn *bus.Connection, log zerolog.Logger) (*Link, error) {
	candidates, err := candidatePorts(configuredPort)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errs.New(errs.Transport, "mculink.Dial", "no candidate serial ports found")
	}

	for _, name := range candidates {
		port, err := openPort(name)
		if err != nil {
			log.Debug().Str("port", name).Err(err).Msg("open failed, trying next candidate")
			continue
		}
		l := New(port, conn, log)

		_, _ = l.Send(ctx, "VER", "") // resync probe, result discarded

		if _, err := l.Send(ctx, "VER", ""); err != nil {
			log.Debug().Str("port", name).Err(err).Msg("version probe failed, trying next candidate")
			_ = l.Close()
			continue
		}
		log.Info().Str("port", name).Msg("MCU link established")
		return l, nil
	}
	return nil, errs.New(errs.Transport, "mculink.Dial", "no candidate responded to version probe")
}
