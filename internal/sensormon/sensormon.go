// Package sensormon runs one sampling goroutine per sensor: each iteration
// reads the sensor's source, pushes the value through the hysteretic
// condition table, and logs only on meaningful change. The loop samples first, so
// state is populated before the first interval elapses, then waits out
// the period with a stop-channel select.
package sensormon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/sensorsource"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// DefaultLogVariance is the minimum temperature delta between two samples
// that alone produces a log line.
const DefaultLogVariance = 5.0

// Monitor owns one sensor's sampling loop. The sensor's (level,
// temperature) pair is mutated only here; the governor and the control
// socket read it through Sensor.Snapshot.
type Monitor struct {
	sensor      *thermal.Sensor
	source      sensorsource.Source
	interval    time.Duration
	logVariance float64
	conn        *bus.Connection
	log         zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a monitor for sensor fed by source. conn, when non-nil, is
// the monitor's bus handle for the retained level mirror; callers normally
// pass the sensor kind's SampleIntervalSeconds as the interval.
func New(sensor *thermal.Sensor, source sensorsource.Source, interval time.Duration, logVariance float64, conn *bus.Connection, log zerolog.Logger) *Monitor {
	if logVariance <= 0 {
		logVariance = DefaultLogVariance
	}
	return &Monitor{
		sensor:      sensor,
		source:      source,
		interval:    interval,
		logVariance: logVariance,
		conn:        conn,
		log:         log.With().Str("component", "sensor-monitor").Str("sensor", sensor.Name).Logger(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Sensor returns the monitored sensor, for aggregation and queries.
func (m *Monitor) Sensor() *thermal.Sensor { return m.sensor }

// Start launches the sampling goroutine. The first sample is taken
// immediately so the governor's first aggregation pass sees real levels.
func (m *Monitor) Start() {
	go m.run()
}

// Join stops the sampling goroutine and waits for it to exit. Safe to call
// once per Start.
func (m *Monitor) Join() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-timer.C:
		}
		m.sample()
		timer.Reset(m.interval)
	}
}

func (m *Monitor) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	v, present := m.source.Read(ctx)
	r := m.sensor.Update(v, present)

	if m.conn != nil && (r.FirstReading || r.LevelChanged) {
		m.conn.Publish(m.conn.NewMessage(bus.SensorLevelTopic(m.sensor.Name), r.Level.String(), true))
	}

	switch {
	case !present:
		m.log.Warn().Stringer("level", r.Level).Msg("no temperature reading available")
	case r.FirstReading:
		m.log.Info().Float64("temperature", r.Temperature).Stringer("level", r.Level).Msg("first reading")
	case r.LevelChanged:
		m.log.Info().
			Float64("temperature", r.Temperature).
			Stringer("level", r.Level).
			Stringer("previous_level", r.PreviousLevel).
			Msg("level changed")
	case abs(r.Temperature-r.PreviousTemperature) >= m.logVariance:
		m.log.Info().
			Float64("temperature", r.Temperature).
			Float64("previous_temperature", r.PreviousTemperature).
			Stringer("level", r.Level).
			Msg("temperature changed")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
