package supervisor

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/michaelroland/wdnas-hwdaemon/internal/sensormon"
	"github.com/michaelroland/wdnas-hwdaemon/internal/sensorsource"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// i2cDevicePath is the SMBus controller the SPD temperature sensors sit
// on; overridable in tests.
var i2cDevicePath = "/dev/i2c-0"

// maxDIMMSlots bounds the SPD probe: the appliances carry at most two
// DIMM slots, but the probe is cheap so scan the full SPD address range.
const maxDIMMSlots = 4

// buildMonitors assembles the sensor fleet: chassis thermistor through
// the MCU, CPU junction sensors via hwmon, SPD DIMM sensors via SMBus,
// and one monitor per discovered SATA drive. DIMM sources
// that don't answer the startup probe are skipped rather than producing a
// monitor that warns forever on an absent device; the other sources are
// not probed.
func (s *Supervisor) buildMonitors(ctx context.Context) []*sensormon.Monitor {
	type candidate struct {
		name   string
		kind   thermal.Kind
		source sensorsource.Source
		probe  bool
	}

	candidates := []candidate{
		{"chassis", thermal.KindChassis, sensorsource.ChassisSource{Client: s.client}, false},
		{"cpu-max", thermal.KindCPUMax, sensorsource.CPUMaxAllSource{}, false},
		{"cpu-delta", thermal.KindCPUDelta, sensorsource.CPUDeltaMinSource{}, false},
	}

	if i2c, err := sensorsource.OpenI2C(i2cDevicePath); err == nil {
		for dimm := 0; dimm < maxDIMMSlots; dimm++ {
			candidates = append(candidates, candidate{
				name:   "dimm" + strconv.Itoa(dimm),
				kind:   thermal.KindDIMM,
				source: sensorsource.DIMMSource{Bus: i2c, DIMMIndex: dimm},
				probe:  true,
			})
		}
	} else {
		s.log.Debug().Err(err).Msg("no SMBus controller, skipping DIMM sensors")
	}

	for _, dev := range sensorsource.DiscoverHDDs(ctx) {
		candidates = append(candidates, candidate{
			name:   "hdd-" + filepath.Base(dev),
			kind:   thermal.KindHDD,
			source: &sensorsource.HDDSource{Device: dev},
			probe:  false,
		})
	}

	var monitors []*sensormon.Monitor
	for _, c := range candidates {
		if c.probe {
			if _, ok := c.source.Read(ctx); !ok {
				s.log.Debug().Str("sensor", c.name).Msg("sensor absent, skipping monitor")
				continue
			}
		}
		interval := time.Duration(c.kind.SampleIntervalSeconds()) * time.Second
		sensor := thermal.NewSensor(c.name, c.kind)
		monitors = append(monitors, sensormon.New(sensor, c.source, interval, sensormon.DefaultLogVariance, s.bus.NewConnection("sensor-"+c.name), s.logFor(c.name)))
		s.log.Info().Str("sensor", c.name).Stringer("kind", c.kind).Msg("sensor monitor registered")
	}
	return monitors
}
