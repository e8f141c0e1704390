package supervisor

import (
	"context"

	"github.com/michaelroland/wdnas-hwdaemon/internal/mcu"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// This file is the query/command surface the control socket calls into.
// Every MCU access goes through the typed command API; the mirror reads
// come from the façade's own state.

// PMCVersion returns the firmware banner captured at connect.
func (s *Supervisor) PMCVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// BayCount returns the chassis bay count derived from the most recent
// DP0 reading.
func (s *Supervisor) BayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bayCount
}

// PowerSupplyState returns the mirrored present/absent state of the two
// redundant power inputs.
func (s *Supervisor) PowerSupplyState() (socket1, socket2 bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStatus&mcu.ISRPower1Changed != 0, s.currentStatus&mcu.ISRPower2Changed != 0
}

// PowerSupplyBootState returns the power-input state captured at connect.
func (s *Supervisor) PowerSupplyBootState() (socket1, socket2 bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialStatus&mcu.ISRPower1Changed != 0, s.initialStatus&mcu.ISRPower2Changed != 0
}

// DrivePresent reports whether bay currently holds a drive, from the
// mirrored DP0 (a set bit means absent).
func (s *Supervisor) DrivePresent(bay int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenceMask&(1<<bay) == 0
}

// LEDState is the composed front-panel LED indication.
type LEDState struct {
	Steady byte
	Blink  byte
	Pulse  bool
}

// LEDGet reads the three LED registers in one call.
func (s *Supervisor) LEDGet(ctx context.Context) (LEDState, error) {
	steady, err := s.client.LEDMask(ctx)
	if err != nil {
		return LEDState{}, err
	}
	blink, err := s.client.BlinkMask(ctx)
	if err != nil {
		return LEDState{}, err
	}
	pulse, err := s.client.PowerPulse(ctx)
	if err != nil {
		return LEDState{}, err
	}
	return LEDState{Steady: steady, Blink: blink, Pulse: pulse}, nil
}

// LEDSet writes the three LED registers.
func (s *Supervisor) LEDSet(ctx context.Context, st LEDState) error {
	if err := s.client.SetPowerPulse(ctx, st.Pulse); err != nil {
		return err
	}
	if err := s.client.SetBlinkMask(ctx, st.Blink); err != nil {
		return err
	}
	return s.client.SetLEDMask(ctx, st.Steady)
}

// LCDBacklight reads the current backlight intensity.
func (s *Supervisor) LCDBacklight(ctx context.Context) (int, error) {
	return s.client.Backlight(ctx)
}

// SetLCDBacklight writes the backlight intensity directly, without
// touching the dim timer.
func (s *Supervisor) SetLCDBacklight(ctx context.Context, pct int) error {
	return s.client.SetBacklight(ctx, pct)
}

// SetLCDText writes one panel line (1 or 2).
func (s *Supervisor) SetLCDText(ctx context.Context, line int, text string) error {
	if line == 1 {
		return s.client.SetLine1(ctx, text)
	}
	return s.client.SetLine2(ctx, text)
}

// MCUConfig reads the MCU's configuration register.
func (s *Supervisor) MCUConfig(ctx context.Context) (byte, error) {
	return s.client.Config(ctx)
}

// SetMCUConfig writes the MCU's configuration register.
func (s *Supervisor) SetMCUConfig(ctx context.Context, v byte) error {
	return s.client.SetConfig(ctx, v)
}

// ChassisTemperature reads the chassis thermistor.
func (s *Supervisor) ChassisTemperature(ctx context.Context) (int, error) {
	return s.client.ChassisTemperature(ctx)
}

// FanRPM reads the measured fan speed.
func (s *Supervisor) FanRPM(ctx context.Context) (int, error) {
	return s.client.FanRPM(ctx)
}

// FanSpeed reads the fan target percentage.
func (s *Supervisor) FanSpeed(ctx context.Context) (int, error) {
	return s.client.FanSpeed(ctx)
}

// SetFanSpeed writes the fan target percentage. The governor's next
// cycle may steer it again.
func (s *Supervisor) SetFanSpeed(ctx context.Context, pct int) error {
	return s.client.SetFanSpeed(ctx, pct)
}

// BayEnableMask reads the drive-bay enable register.
func (s *Supervisor) BayEnableMask(ctx context.Context) (byte, error) {
	return s.client.BayEnableMask(ctx)
}

// SetBayEnabled powers one bay up or down.
func (s *Supervisor) SetBayEnabled(ctx context.Context, bay int, enabled bool) error {
	bit := byte(1) << bay
	if enabled {
		return s.client.SetBayEnable(ctx, bit, 0)
	}
	return s.client.ClearBayEnable(ctx, bit, 0)
}

// SetBayAlertLED drives one bay's alert LED. The DLS/DLC alert nibble is
// inverted relative to power: asserting via DLC turns the LED on.
func (s *Supervisor) SetBayAlertLED(ctx context.Context, bay int, on bool) error {
	bit := byte(1) << bay
	if on {
		return s.client.ClearBayEnable(ctx, 0, bit)
	}
	return s.client.SetBayEnable(ctx, 0, bit)
}

// DriveAlertBlinkMask reads which bays blink their alert LED.
func (s *Supervisor) DriveAlertBlinkMask(ctx context.Context) (byte, error) {
	return s.client.DriveAlertBlinkMask(ctx)
}

// SetDriveAlertBlinkMask writes the alert-LED blink mask.
func (s *Supervisor) SetDriveAlertBlinkMask(ctx context.Context, mask byte) error {
	return s.client.SetDriveAlertBlinkMask(ctx, mask)
}

// MonitorStatus is one sensor's row in the monitor-data query.
type MonitorStatus struct {
	Name        string
	Level       thermal.AlertLevel
	Temperature float64
	Present     bool
}

// MonitorData snapshots every sensor's (level, temperature) pair.
func (s *Supervisor) MonitorData() []MonitorStatus {
	out := make([]MonitorStatus, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		snap := sensor.Snapshot()
		out = append(out, MonitorStatus{
			Name:        sensor.Name,
			Level:       snap.Level,
			Temperature: snap.Temperature,
			Present:     snap.Present,
		})
	}
	return out
}

// Raw passes an arbitrary code/value pair through to the MCU; debug-only
// surface.
func (s *Supervisor) Raw(ctx context.Context, code, value string) (mculink.Outcome, error) {
	return s.client.Raw(ctx, code, value)
}
