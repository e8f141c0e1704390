package sensormon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/sensorsource"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

func TestMonitorSamplesImmediately(t *testing.T) {
	var reads atomic.Int32
	src := sensorsource.Func(func(ctx context.Context) (float64, bool) {
		reads.Add(1)
		return 45, true
	})
	sensor := thermal.NewSensor("chassis", thermal.KindChassis)
	m := New(sensor, src, time.Hour, 5, nil, zerolog.Nop())
	m.Start()
	defer m.Join()

	deadline := time.Now().Add(time.Second)
	for reads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if reads.Load() == 0 {
		t.Fatal("source was never read")
	}

	snap := sensor.Snapshot()
	if !snap.Present {
		t.Fatal("sensor has no reading after first sample")
	}
	if snap.Level != thermal.Warm {
		t.Fatalf("level = %v, want %v for 45 degrees", snap.Level, thermal.Warm)
	}
	if snap.Temperature != 45 {
		t.Fatalf("temperature = %v, want 45", snap.Temperature)
	}
}

func TestMonitorAbsentReadingKeepsSafeLevel(t *testing.T) {
	src := sensorsource.Func(func(ctx context.Context) (float64, bool) {
		return 0, false
	})
	sensor := thermal.NewSensor("hdd-sda", thermal.KindHDD)
	m := New(sensor, src, time.Hour, 5, nil, zerolog.Nop())
	m.Start()
	defer m.Join()

	deadline := time.Now().Add(time.Second)
	for !sensor.Snapshot().Present && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// HDD table ends in an unconditional Under, so a missing reading
	// resolves to the safe default rather than Critical.
	if got := sensor.Snapshot().Level; got != thermal.Under {
		t.Fatalf("level = %v, want %v for absent reading", got, thermal.Under)
	}
}

func TestMonitorPublishesRetainedLevelMirror(t *testing.T) {
	src := sensorsource.Func(func(ctx context.Context) (float64, bool) {
		return 45, true
	})
	b := bus.NewBus(4)
	sensor := thermal.NewSensor("chassis", thermal.KindChassis)
	m := New(sensor, src, time.Hour, 5, b.NewConnection("sensor-chassis"), zerolog.Nop())
	m.Start()
	defer m.Join()

	sub := b.NewConnection("watcher").Subscribe(bus.SensorLevelPattern())
	select {
	case msg := <-sub.Channel():
		if msg.Topic.String() != "sensor/chassis/level" {
			t.Fatalf("topic = %v", msg.Topic)
		}
		if msg.Payload.(string) != thermal.Warm.String() {
			t.Fatalf("payload = %v, want %v", msg.Payload, thermal.Warm)
		}
	case <-time.After(time.Second):
		t.Fatal("no retained level message")
	}
}

func TestMonitorJoinStopsSampling(t *testing.T) {
	var reads atomic.Int32
	src := sensorsource.Func(func(ctx context.Context) (float64, bool) {
		reads.Add(1)
		return 40, true
	})
	m := New(thermal.NewSensor("chassis", thermal.KindChassis), src, time.Millisecond, 5, nil, zerolog.Nop())
	m.Start()
	deadline := time.Now().Add(time.Second)
	for reads.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Join()
	after := reads.Load()
	time.Sleep(20 * time.Millisecond)
	if reads.Load() != after {
		t.Fatal("monitor kept sampling after Join")
	}
}
