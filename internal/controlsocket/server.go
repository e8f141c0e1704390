// Package controlsocket serves the daemon's local RPC surface: a UNIX
// stream socket carrying length-prefixed command/response packets that
// expose the supervisor façade's queries and commands to CLI clients.
// The listener is group-guarded: the socket file is chowned
// to the configured group and mode 0660, and a client slot semaphore
// bounds concurrency at socket_max_clients.
package controlsocket

import (
	"context"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
	"github.com/michaelroland/wdnas-hwdaemon/internal/supervisor"
)

// ProtocolVersion is returned by the version query.
const ProtocolVersion = "WDHWD v1.0"

const requestTimeout = 15 * time.Second

// Facade is the slice of the supervisor's query/command surface the
// socket exposes; *supervisor.Supervisor implements it.
type Facade interface {
	RequestDaemonShutdown()
	PMCVersion() string
	BayCount() int
	PowerSupplyState() (socket1, socket2 bool)
	PowerSupplyBootState() (socket1, socket2 bool)
	DrivePresent(bay int) bool
	LEDGet(ctx context.Context) (supervisor.LEDState, error)
	LEDSet(ctx context.Context, st supervisor.LEDState) error
	LCDBacklight(ctx context.Context) (int, error)
	SetLCDBacklight(ctx context.Context, pct int) error
	SetLCDText(ctx context.Context, line int, text string) error
	MCUConfig(ctx context.Context) (byte, error)
	SetMCUConfig(ctx context.Context, v byte) error
	ChassisTemperature(ctx context.Context) (int, error)
	FanRPM(ctx context.Context) (int, error)
	FanSpeed(ctx context.Context) (int, error)
	SetFanSpeed(ctx context.Context, pct int) error
	BayEnableMask(ctx context.Context) (byte, error)
	SetBayEnabled(ctx context.Context, bay int, enabled bool) error
	SetBayAlertLED(ctx context.Context, bay int, on bool) error
	DriveAlertBlinkMask(ctx context.Context) (byte, error)
	SetDriveAlertBlinkMask(ctx context.Context, mask byte) error
	MonitorData() []supervisor.MonitorStatus
	Raw(ctx context.Context, code, value string) (mculink.Outcome, error)
}

// Server owns the listening socket and its client goroutines.
type Server struct {
	sup   Facade
	debug bool
	log   zerolog.Logger

	listener net.Listener
	slots    chan struct{}
	wg       sync.WaitGroup
	closed   chan struct{}
}

// ResolveGroupID resolves a group name or numeric id to a gid; empty
// input resolves to -1 (no group enforcement).
func ResolveGroupID(group string) (int, error) {
	if group == "" {
		return -1, nil
	}
	if gid, err := strconv.Atoi(group); err == nil {
		return gid, nil
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return -1, errs.Wrap(errs.ConfigInvalid, "controlsocket.ResolveGroupID", err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return -1, errs.Wrap(errs.ConfigInvalid, "controlsocket.ResolveGroupID", err)
	}
	return gid, nil
}

// Listen binds the socket at path, applies group ownership and starts the
// accept loop. A stale socket file from a previous run is removed first.
// With debug set, the raw MCU passthrough command is allowed.
func Listen(sup Facade, path string, gid, maxClients int, debug bool, log zerolog.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.Transport, "controlsocket.Listen", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "controlsocket.Listen", err)
	}
	if gid >= 0 {
		if err := os.Chown(path, -1, gid); err != nil {
			_ = listener.Close()
			return nil, errs.Wrap(errs.PermissionDenied, "controlsocket.Listen", err)
		}
		if err := os.Chmod(path, 0o660); err != nil {
			_ = listener.Close()
			return nil, errs.Wrap(errs.PermissionDenied, "controlsocket.Listen", err)
		}
	}

	s := &Server{
		sup:      sup,
		debug:    debug,
		log:      log.With().Str("component", "control-socket").Logger(),
		listener: listener,
		slots:    make(chan struct{}, maxClients),
		closed:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Info().Str("path", path).Int("max_clients", maxClients).Msg("control socket listening")
	return s, nil
}

// Close stops accepting, disconnects clients and waits for the goroutines
// to drain.
func (s *Server) Close() {
	close(s.closed)
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		select {
		case s.slots <- struct{}{}:
		default:
			// All client slots busy; shed the connection.
			s.log.Warn().Msg("client limit reached, rejecting connection")
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.slots }()
	defer conn.Close()

	// Unblock the read loop when the server shuts down.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.closed:
			_ = conn.Close()
		case <-stop:
		}
	}()

	var r reader
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				s.log.Debug().Err(err).Msg("client read ended")
			}
			return
		}
		r.feed(buf[:n])
		for {
			req, ok, err := r.next()
			if err != nil {
				s.log.Warn().Err(err).Msg("client framing error, dropping connection")
				return
			}
			if !ok {
				break
			}
			resp := s.dispatch(req)
			if !s.writePacket(conn, resp) {
				return
			}
			if !req.keepAlive() {
				return
			}
		}
	}
}

func (s *Server) writePacket(conn net.Conn, p packet) bool {
	out, err := p.serialize(responseMagic)
	if err != nil {
		s.log.Error().Err(err).Msg("response serialization failed")
		return false
	}
	if _, err := conn.Write(out); err != nil {
		s.log.Debug().Err(err).Msg("client write failed")
		return false
	}
	return true
}

func (s *Server) dispatch(req packet) packet {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := s.handle(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Uint16("command", req.identifier).Msg("command failed")
		return req.errorResponse(errExecutionFailed, nil)
	}
	return resp
}
