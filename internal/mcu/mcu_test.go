package mcu

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/frame"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
)

// loopbackPort pairs a pipe-backed transport with a goroutine that answers
// requests according to responder, mirroring the harness in
// internal/mculink's tests.
type loopbackPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *loopbackPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *loopbackPort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *loopbackPort) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newClient(t *testing.T, responder func(req frame.Frame) (code, value string, ok bool)) *Client {
	t.Helper()
	hostR, hostW := io.Pipe()
	mcuR, mcuW := io.Pipe()
	daemon := &loopbackPort{r: mcuR, w: hostW}
	mcuSide := &loopbackPort{r: hostR, w: mcuW}

	go func() {
		var asm frame.Assembler
		buf := make([]byte, 64)
		for {
			n, err := mcuSide.Read(buf)
			if err != nil {
				return
			}
			for _, raw := range asm.Feed(buf[:n]) {
				req := frame.Parse(raw)
				code, value, ok := responder(req)
				if !ok {
					continue
				}
				_, _ = mcuSide.Write(frame.Encode(code, value))
			}
		}
	}()

	b := bus.NewBus(4)
	link := mculink.New(daemon, b.NewConnection("test"), zerolog.Nop())
	t.Cleanup(func() { _ = link.Close() })
	return New(link)
}

func ackResponder(req frame.Frame) (string, string, bool) { return "ACK", "", true }

func TestVersionReturnsBanner(t *testing.T) {
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "VER" {
			return "VER", "WD PMC v17", true
		}
		return "", "", false
	})
	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "WD PMC v17" {
		t.Fatalf("got %q, want %q", v, "WD PMC v17")
	}
}

func TestSetFanSpeedClampsAboveRangeAndTransmitsHex(t *testing.T) {
	var sent string
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "FAN" {
			sent = req.Value
			return "ACK", "", true
		}
		return "", "", false
	})
	if err := c.SetFanSpeed(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	if sent != "63" {
		t.Fatalf("got FAN=%s, want FAN=63", sent)
	}
}

func TestSetBacklightClampsAboveRangeAndTransmitsHex(t *testing.T) {
	var sent string
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "BKL" {
			sent = req.Value
			return "ACK", "", true
		}
		return "", "", false
	})
	if err := c.SetBacklight(context.Background(), 120); err != nil {
		t.Fatal(err)
	}
	if sent != "64" {
		t.Fatalf("got BKL=%s, want BKL=64", sent)
	}
}

func TestFanSpeedRoundTrip(t *testing.T) {
	var stored byte
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		switch req.Code {
		case "FAN":
			if req.HasValue {
				v, err := parseHexByte("FAN", req.Value)
				if err != nil {
					return "ERR", "", true
				}
				stored = v
				return "ACK", "", true
			}
			return "FAN", hexByte(stored), true
		}
		return "", "", false
	})
	ctx := context.Background()
	if err := c.SetFanSpeed(ctx, 30); err != nil {
		t.Fatal(err)
	}
	got, err := c.FanSpeed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 30 {
		t.Fatalf("got %d, want 30", got)
	}
}

func TestLEDBlinkMaskRoundTrip(t *testing.T) {
	var stored byte
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code != "BLK" {
			return "", "", false
		}
		if req.HasValue {
			v, err := parseHexByte("BLK", req.Value)
			if err != nil {
				return "ERR", "", true
			}
			stored = v
			return "ACK", "", true
		}
		return "BLK", hexByte(stored), true
	})
	ctx := context.Background()
	for mask := byte(0); mask <= 31; mask++ {
		if err := c.SetBlinkMask(ctx, mask); err != nil {
			t.Fatal(err)
		}
		got, err := c.BlinkMask(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != mask {
			t.Fatalf("mask %d: got %d", mask, got)
		}
	}
}

func TestSetLine1TruncatesTo16Chars(t *testing.T) {
	var sent string
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "LN1" {
			sent = req.Value
			return "ACK", "", true
		}
		return "", "", false
	})
	if err := c.SetLine1(context.Background(), "OVERHEAT ALERT / Shutting down"); err != nil {
		t.Fatal(err)
	}
	if len(sent) != MaxLineLen {
		t.Fatalf("got %d chars, want %d", len(sent), MaxLineLen)
	}
	if sent != "OVERHEAT ALERT /" {
		t.Fatalf("got %q", sent)
	}
}

func TestSetLine2PassesShortTextUnchanged(t *testing.T) {
	var sent string
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "LN2" {
			sent = req.Value
			return "ACK", "", true
		}
		return "", "", false
	})
	if err := c.SetLine2(context.Background(), "Ready"); err != nil {
		t.Fatal(err)
	}
	if sent != "Ready" {
		t.Fatalf("got %q, want %q", sent, "Ready")
	}
}

func TestBayCountFromDP0(t *testing.T) {
	if got := BayCount(0x8C); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := BayCount(0x1C); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}

func TestStatusDecodesByte(t *testing.T) {
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "STA" {
			return "STA", "6C", true
		}
		return "", "", false
	})
	v, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x6C {
		t.Fatalf("got %02X, want 6C", v)
	}
}

func TestFanRPMDecodesTwoByteHex(t *testing.T) {
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		if req.Code == "RPM" {
			return "RPM", "0028", true
		}
		return "", "", false
	})
	v, err := c.FanRPM(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 40 {
		t.Fatalf("got %d, want 40", v)
	}
}

func TestRawPassesCodeUppercasedAndValueVerbatim(t *testing.T) {
	var gotCode, gotValue string
	c := newClient(t, func(req frame.Frame) (string, string, bool) {
		gotCode = req.Code
		gotValue = req.Value
		return "ACK", "", true
	})
	if _, err := c.Raw(context.Background(), "fan", "1E"); err != nil {
		t.Fatal(err)
	}
	if gotCode != "FAN" || gotValue != "1E" {
		t.Fatalf("got %s=%s", gotCode, gotValue)
	}
}
