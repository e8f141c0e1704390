// Package sensorsource implements the per-kind temperature readers that
// feed internal/thermal.Sensor instances: MCU chassis temperature, CPU
// junction temperature (hwmon coretemp), DIMM SPD temperature (I2C/SMBus),
// and HDD temperature (hddtemp, falling back to SMART attribute 194).
// Each sensor instance gets its own independent Source; the
// one-goroutine-per-sensor monitor model fits a value-returning
// interface better than a shared reader object.
package sensorsource

import "context"

// Source yields one sensor's current reading. present is false when the
// value could not be read (sensor missing, I/O error, parse failure); a
// Source never returns an error the caller must branch on beyond that:
// a failed read is simply "no reading", and the monitor logs it.
type Source interface {
	Read(ctx context.Context) (value float64, present bool)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context) (float64, bool)

func (f Func) Read(ctx context.Context) (float64, bool) { return f(ctx) }
