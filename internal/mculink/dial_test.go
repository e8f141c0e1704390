package mculink

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
	"github.com/michaelroland/wdnas-hwdaemon/internal/frame"
	"github.com/michaelroland/wdnas-hwdaemon/internal/serialport"
)

func withStubbedDiscovery(t *testing.T, names []string, openers map[string]func() (serialport.Port, error)) {
	t.Helper()
	origCandidates, origOpen := candidatePorts, openPort
	candidatePorts = func(string) ([]string, error) { return names, nil }
	openPort = func(name string) (serialport.Port, error) { return openers[name]() }
	t.Cleanup(func() { candidatePorts, openPort = origCandidates, origOpen })
}

func versionResponder(t *testing.T) func(frame.Frame) (frame.Frame, bool) {
	return func(req frame.Frame) (frame.Frame, bool) {
		if req.Code == "VER" {
			return frame.Frame{Code: "VER", Value: "WDPMCv17", HasValue: true}, true
		}
		return frame.Frame{}, false
	}
}

func TestDialAcceptsFirstRespondingCandidate(t *testing.T) {
	daemon, mcu := newLinkedPorts()
	fakeMCU(t, mcu, versionResponder(t))

	withStubbedDiscovery(t, []string{"/dev/ttyS0"}, map[string]func() (serialport.Port, error){
		"/dev/ttyS0": func() (serialport.Port, error) { return daemon, nil },
	})

	b := bus.NewBus(4)
	l, err := Dial(context.Background(), "", b.NewConnection("test"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()
}

func TestDialSkipsNonRespondingCandidate(t *testing.T) {
	badDaemon, badMCU := newLinkedPorts()
	fakeMCU(t, badMCU, func(frame.Frame) (frame.Frame, bool) { return frame.Frame{}, false })

	goodDaemon, goodMCU := newLinkedPorts()
	fakeMCU(t, goodMCU, versionResponder(t))

	withStubbedDiscovery(t, []string{"/dev/ttyS0", "/dev/ttyS1"}, map[string]func() (serialport.Port, error){
		"/dev/ttyS0": func() (serialport.Port, error) { return badDaemon, nil },
		"/dev/ttyS1": func() (serialport.Port, error) { return goodDaemon, nil },
	})

	b := bus.NewBus(4)
	l, err := Dial(context.Background(), "", b.NewConnection("test"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()
}

func TestDialFailsWhenNoCandidateResponds(t *testing.T) {
	daemon, mcu := newLinkedPorts()
	fakeMCU(t, mcu, func(frame.Frame) (frame.Frame, bool) { return frame.Frame{}, false })

	withStubbedDiscovery(t, []string{"/dev/ttyS0"}, map[string]func() (serialport.Port, error){
		"/dev/ttyS0": func() (serialport.Port, error) { return daemon, nil },
	})

	b := bus.NewBus(4)
	_, err := Dial(context.Background(), "", b.NewConnection("test"), zerolog.Nop())
	if errs.Of(err) != errs.Transport {
		t.Fatalf("got %v, want Transport", err)
	}
}
