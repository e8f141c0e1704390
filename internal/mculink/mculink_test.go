package mculink

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/frame"
)

// duplexPort is an in-memory transport built from a pair of pipes, used to
// simulate the MCU side of the wire in tests without touching real serial
// devices.
type duplexPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *duplexPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *duplexPort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *duplexPort) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// newLinkedPorts returns (daemon side, MCU side) connected transports.
func newLinkedPorts() (*duplexPort, *duplexPort) {
	hostToMCUR, hostToMCUW := io.Pipe()
	mcuToHostR, mcuToHostW := io.Pipe()
	daemon := &duplexPort{r: mcuToHostR, w: hostToMCUW}
	mcu := &duplexPort{r: hostToMCUR, w: mcuToHostW}
	return daemon, mcu
}

// fakeMCU answers each request frame according to responder, until the
// transport closes.
func fakeMCU(t *testing.T, port *duplexPort, responder func(req frame.Frame) (frame.Frame, bool)) {
	t.Helper()
	go func() {
		var asm frame.Assembler
		buf := make([]byte, 64)
		for {
			n, err := port.Read(buf)
			if err != nil {
				return
			}
			for _, raw := range asm.Feed(buf[:n]) {
				req := frame.Parse(raw)
				resp, ok := responder(req)
				if !ok {
					continue
				}
				_, _ = port.Write(frame.Encode(resp.Code, resp.Value))
			}
		}
	}()
}

func newTestLink(t *testing.T, responder func(req frame.Frame) (frame.Frame, bool)) (*Link, *bus.Connection) {
	l, conn, _ := newTestLinkWithMCU(t, responder)
	return l, conn
}

func newTestLinkWithMCU(t *testing.T, responder func(req frame.Frame) (frame.Frame, bool)) (*Link, *bus.Connection, *duplexPort) {
	t.Helper()
	daemon, mcu := newLinkedPorts()
	fakeMCU(t, mcu, responder)
	b := bus.NewBus(8)
	conn := b.NewConnection("test")
	l := New(daemon, conn, zerolog.Nop())
	t.Cleanup(func() { _ = l.Close() })
	return l, conn, mcu
}

func TestSendGetterReturnsValue(t *testing.T) {
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		if req.Code == "STA" {
			return frame.Frame{Code: "STA", Value: "6C", HasValue: true}, true
		}
		return frame.Frame{}, false
	})
	out, err := l.Send(context.Background(), "STA", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != "6C" {
		t.Fatalf("got value %q, want 6C", out.Value)
	}
}

func TestSendSetterReturnsAck(t *testing.T) {
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{Code: "ACK"}, true
	})
	out, err := l.Send(context.Background(), "FAN", "1E")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Ack {
		t.Fatal("expected Ack outcome")
	}
}

func TestSendRejected(t *testing.T) {
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{Code: "ERR"}, true
	})
	_, err := l.Send(context.Background(), "FAN", "FF")
	if errs.Of(err) != errs.Rejected {
		t.Fatalf("got %v, want Rejected", err)
	}
}

func TestSendUnexpectedCode(t *testing.T) {
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{Code: "TAC", Value: "0001", HasValue: true}, true
	})
	_, err := l.Send(context.Background(), "RPM", "")
	if errs.Of(err) != errs.Unexpected {
		t.Fatalf("got %v, want Unexpected", err)
	}
}

func TestSendTimeout(t *testing.T) {
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{}, false // never respond
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := l.Send(ctx, "RPM", "")
	if errs.Of(err) != errs.Timeout {
		t.Fatalf("got %v, want Timeout", err)
	}
}

func TestUnsolicitedAlertRoutedToBus(t *testing.T) {
	_, conn, mcu := newTestLinkWithMCU(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{}, false
	})
	sub := conn.Subscribe(bus.TopicMCUAlert)

	if _, err := mcu.Write(frame.Encode("ALERT", "")); err != nil {
		t.Fatalf("mcu write failed: %v", err)
	}

	select {
	case <-sub.Channel():
	case <-time.After(time.Second):
		t.Fatal("expected an alert message on the bus")
	}
}

func TestUnexpectedFrameWithNoPendingIsPublished(t *testing.T) {
	_, conn, mcu := newTestLinkWithMCU(t, func(req frame.Frame) (frame.Frame, bool) {
		return frame.Frame{}, false
	})
	sub := conn.Subscribe(bus.TopicMCUUnexpectedFrame)

	if _, err := mcu.Write(frame.Encode("TAC", "0001")); err != nil {
		t.Fatalf("mcu write failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload.(string) != "TAC=0001" {
			t.Fatalf("got payload %v, want TAC=0001", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an unexpected-frame message on the bus")
	}
}

func TestSerializesOneCommandAtATime(t *testing.T) {
	release := make(chan struct{})
	first := make(chan struct{})
	l, _ := newTestLink(t, func(req frame.Frame) (frame.Frame, bool) {
		if req.Code == "SLOW" {
			close(first)
			<-release
		}
		return frame.Frame{Code: "ACK"}, true
	})

	go func() { _, _ = l.Send(context.Background(), "SLOW", "") }()
	<-first

	done := make(chan struct{})
	go func() {
		_, _ = l.Send(context.Background(), "FAN", "10")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Send completed before first was released")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Send never completed after release")
	}
}
