// Package governor runs the thermal control loop: every cycle it
// aggregates the sensor fleet's alert levels by maximum, steers the fan
// toward the aggregate, and escalates shutdown requests when the fleet
// crosses the Shutdown/Critical levels. Status callbacks are
// delivered on a dedicated worker goroutine so a slow consumer (LED
// writes, OS shutdown invocation) never stalls the control loop.
package governor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// Control-loop constants.
const (
	Interval   = 10 * time.Second
	FanDefault = 30
	FanMin     = 20
	FanMax     = 99
	FanStep    = 10
	MinRPM     = 50
)

// Callbacks is the capability set the governor reports through. All
// methods are invoked from the governor's single callback worker
// goroutine, in emission order.
type Callbacks interface {
	ControllerStarted()
	ControllerStopped()
	FanError()
	ShutdownRequestImmediate()
	ShutdownRequestDelayed()
	ShutdownCancelPending()
	LevelChanged(newLevel, oldLevel thermal.AlertLevel)
}

// Fan is the slice of the MCU command surface the governor actuates.
type Fan interface {
	FanSpeed(ctx context.Context) (int, error)
	FanRPM(ctx context.Context) (int, error)
	SetFanSpeed(ctx context.Context, pct int) error
}

// Governor owns the fan control loop. It remembers only the last aggregate
// level and whether a shutdown is pending; everything else is recomputed
// per cycle.
type Governor struct {
	fan     Fan
	sensors []*thermal.Sensor
	cb      Callbacks
	log     zerolog.Logger

	interval time.Duration

	stop       chan struct{}
	done       chan struct{}
	events     chan func()
	workerDone chan struct{}
}

// New builds a governor over the given sensor fleet. Sensors are read via
// Snapshot only; their monitors keep sampling independently.
func New(fan Fan, sensors []*thermal.Sensor, cb Callbacks, log zerolog.Logger) *Governor {
	return &Governor{
		fan:      fan,
		sensors:  sensors,
		cb:       cb,
		log:      log.With().Str("component", "governor").Logger(),
		interval: Interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		events:     make(chan func(), 16),
		workerDone: make(chan struct{}),
	}
}

// Start launches the callback worker and the control loop. The first cycle
// runs immediately; ControllerStarted is emitted before it.
func (g *Governor) Start() {
	go g.callbackWorker()
	go g.run()
}

// Join stops the control loop, waits for it to exit, and drains the
// callback worker. ControllerStopped is the final callback delivered.
func (g *Governor) Join() {
	close(g.stop)
	<-g.done
}

func (g *Governor) emit(f func()) { g.events <- f }

func (g *Governor) callbackWorker() {
	defer close(g.workerDone)
	for f := range g.events {
		f()
	}
}

func (g *Governor) run() {
	lastLevel := thermal.Under
	pendingShutdown := false

	g.emit(func() { g.cb.ControllerStarted() })

	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-g.stop:
			break loop
		case <-timer.C:
		}
		lastLevel, pendingShutdown = g.cycle(lastLevel, pendingShutdown)
		timer.Reset(g.interval)
	}

	g.emit(func() { g.cb.ControllerStopped() })
	close(g.events)
	// The worker drains the queue, ControllerStopped included, before Join
	// returns.
	<-g.workerDone
	close(g.done)
}

// aggregate computes the fleet-wide level: the maximum over all sensors
// that have a reading, defaulting to Under.
func (g *Governor) aggregate() thermal.AlertLevel {
	level := thermal.Under
	for _, s := range g.sensors {
		snap := s.Snapshot()
		if !snap.Present {
			continue
		}
		level = thermal.Max(level, snap.Level)
	}
	return level
}

func (g *Governor) cycle(lastLevel thermal.AlertLevel, pendingShutdown bool) (thermal.AlertLevel, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), g.interval)
	defer cancel()

	level := g.aggregate()

	speed, rpm, fanOK := g.readFan(ctx)
	change := false
	if !fanOK || rpm < MinRPM {
		if fanOK {
			g.log.Error().Int("rpm", rpm).Msg("fan below minimum RPM")
		}
		speed = FanMax
		change = true
		g.emit(func() { g.cb.FanError() })
	} else {
		switch {
		case level >= thermal.Hot:
			if speed < FanMax {
				speed = FanMax
				change = true
			}
		case level > thermal.Normal:
			if speed < FanMax {
				speed += FanStep
				change = true
			}
		case level < thermal.Normal:
			if speed > FanMin {
				speed -= FanStep
				change = true
			}
		default: // level == Normal: converge stepwise to the default speed
			if speed != FanDefault {
				speed = stepToward(speed, FanDefault, FanStep)
				change = true
			}
		}
	}

	if change {
		if speed > FanMax {
			speed = FanMax
		} else if speed < FanMin {
			speed = FanMin
		}
		g.log.Info().Int("fan_speed", speed).Msg("setting fan speed")
		if err := g.fan.SetFanSpeed(ctx, speed); err != nil {
			g.log.Error().Err(err).Msg("fan speed write failed")
			g.emit(func() { g.cb.FanError() })
		}
	}

	if level != lastLevel {
		g.log.Info().
			Stringer("level", level).
			Stringer("previous_level", lastLevel).
			Msg("aggregate alert level changed")
		switch {
		case level >= thermal.Critical:
			pendingShutdown = true
			g.emit(func() { g.cb.ShutdownRequestImmediate() })
		case level >= thermal.Shutdown:
			pendingShutdown = true
			g.emit(func() { g.cb.ShutdownRequestDelayed() })
		case pendingShutdown:
			pendingShutdown = false
			g.emit(func() { g.cb.ShutdownCancelPending() })
		}
		newLevel, oldLevel := level, lastLevel
		g.emit(func() { g.cb.LevelChanged(newLevel, oldLevel) })
	}

	return level, pendingShutdown
}

// readFan reads the fan's current target and measured RPM. Either read
// failing is a fan error: the MCU not answering is indistinguishable from
// a dead fan controller from up here.
func (g *Governor) readFan(ctx context.Context) (speed, rpm int, ok bool) {
	speed, err := g.fan.FanSpeed(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("fan speed read failed")
		return 0, 0, false
	}
	rpm, err = g.fan.FanRPM(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("fan RPM read failed")
		return 0, 0, false
	}
	return speed, rpm, true
}

func stepToward(v, target, step int) int {
	if v > target {
		if v-step < target {
			return target
		}
		return v - step
	}
	if v+step > target {
		return target
	}
	return v + step
}
