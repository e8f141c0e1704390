// Package mculink implements the framed ASCII command/response link to the
// chassis MCU: a single reader goroutine correlates responses against at
// most one pending command, a send mutex serializes callers, and
// unsolicited ALERT frames are routed to the event dispatcher without
// touching the pending-command slot. Framing comes from
// internal/frame, transport from internal/serialport.
package mculink

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/frame"
	"github.com/michaelroland/wdnas-hwdaemon/internal/serialport"
)

// ResponseTimeout bounds how long a sender waits for a correlated response
// before giving up.
const ResponseTimeout = 5 * time.Second

// Outcome is the successful result of Send: either an ACK (setters) or a
// mirrored code carrying a value (getters).
type Outcome struct {
	Ack   bool
	Value string
}

type pendingCommand struct {
	code     string
	resultCh chan frame.Frame
	resolved sync.Once
}

func (p *pendingCommand) resolve(f frame.Frame) {
	p.resolved.Do(func() { p.resultCh <- f })
}

// Link owns the framer and the pending-command slot exclusively; it is the
// only place in the daemon that may touch the transport directly.
type Link struct {
	port   serialport.Port
	conn   *bus.Connection
	log    zerolog.Logger
	asm    frame.Assembler
	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   *pendingCommand

	readerDone chan struct{}
	closeOnce  sync.Once
}

// New wraps an already-open transport. The caller is expected to have
// performed the startup probe (see Dial) before handing the port here, or
// to do so immediately after via Send.
func New(port serialport.Port, conn *bus.Connection, log zerolog.Logger) *Link {
	l := &Link{port: port, conn: conn, log: log.With().Str("component", "mcu-link").Logger(), readerDone: make(chan struct{})}
	go l.readLoop()
	return l
}

// Close unblocks the reader goroutine by closing the underlying transport
// and waits for it to exit.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.port.Close()
		<-l.readerDone
	})
	return err
}

// Send transmits "code" or "code=value" and waits up to ResponseTimeout for
// a correlated response. At most one command is ever pending on this link
// at a time; Send blocks concurrent callers until the prior exchange
// resolves or times out.
func (l *Link) Send(ctx context.Context, code, value string) (Outcome, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	pc := &pendingCommand{code: code, resultCh: make(chan frame.Frame, 1)}
	l.pendingMu.Lock()
	l.pending = pc
	l.pendingMu.Unlock()

	wire := frame.Encode(code, value)
	if _, err := l.port.Write(wire); err != nil {
		l.clearPending(pc)
		return Outcome{}, errs.Wrap(errs.Transport, "mculink.Send", err)
	}

	timeout := time.NewTimer(ResponseTimeout)
	defer timeout.Stop()

	select {
	case f := <-pc.resultCh:
		return outcomeFor(code, f)
	case <-timeout.C:
		l.clearPending(pc)
		return Outcome{}, errs.New(errs.Timeout, "mculink.Send", code)
	case <-ctx.Done():
		l.clearPending(pc)
		return Outcome{}, errs.Wrap(errs.Timeout, "mculink.Send", ctx.Err())
	}
}

func outcomeFor(code string, f frame.Frame) (Outcome, error) {
	switch f.Code {
	case "ACK":
		return Outcome{Ack: true}, nil
	case "ERR":
		return Outcome{}, errs.New(errs.Rejected, "mculink.Send", code)
	case code:
		return Outcome{Value: f.Value}, nil
	default:
		return Outcome{}, errs.New(errs.Unexpected, "mculink.Send", f.Code)
	}
}

// clearPending drops pc from the pending slot iff it is still the current
// occupant, so a late reader delivery after a client-observed timeout
// cannot be mistaken for a fresh command's response.
func (l *Link) clearPending(pc *pendingCommand) {
	l.pendingMu.Lock()
	if l.pending == pc {
		l.pending = nil
	}
	l.pendingMu.Unlock()
}

func (l *Link) takePending() *pendingCommand {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	pc := l.pending
	l.pending = nil
	return pc
}

func (l *Link) readLoop() {
	defer close(l.readerDone)
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			l.log.Debug().Err(err).Msg("transport closed, reader exiting")
			return
		}
		if n <= 0 {
			continue
		}
		for _, raw := range l.asm.Feed(buf[:n]) {
			l.handleFrame(raw)
		}
	}
}

func (l *Link) handleFrame(raw string) {
	f := frame.Parse(raw)
	switch {
	case f.Code == "ALERT":
		l.conn.Publish(l.conn.NewMessage(bus.TopicMCUAlert, nil, false))
	default:
		if pc := l.takePending(); pc != nil {
			pc.resolve(f)
			return
		}
		l.log.Warn().Str("frame", raw).Msg("out-of-order frame, no pending command")
		l.conn.Publish(l.conn.NewMessage(bus.TopicMCUUnexpectedFrame, raw, false))
	}
}
