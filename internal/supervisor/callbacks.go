package supervisor

import (
	"context"
	"strconv"
	"strings"

	"github.com/michaelroland/wdnas-hwdaemon/internal/mcu"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
	"github.com/michaelroland/wdnas-hwdaemon/internal/oscmd"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// This file implements the two capability sets the supervisor hands out:
// governor.Callbacks (thermal escalation) and dispatch.Sink (alert
// decoding against the MCU state mirror).

func (s *Supervisor) cbCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*mculink.ResponseTimeout)
}

// ControllerStarted transitions the panel from boot to normal indication
// and clears the boot banner.
func (s *Supervisor) ControllerStarted() {
	s.log.Debug().Msg("fan controller started")
	ctx, cancel := s.cbCtx()
	defer cancel()
	s.setLEDNormal(ctx)
	s.setLCD(ctx, "", "")
}

// ControllerStopped pins the fan at a safe speed, shows the warning
// palette and asks the daemon to exit unless it already is.
func (s *Supervisor) ControllerStopped() {
	s.log.Debug().Msg("fan controller stopped")
	ctx, cancel := s.cbCtx()
	defer cancel()
	if err := s.client.SetFanSpeed(ctx, FanSafeSpeed); err != nil {
		s.log.Error().Err(err).Msg("safe fan speed write failed")
	}
	s.setLEDWarning(ctx)
	s.setLCD(ctx, bannerStopped, bannerShuttingDown)
	if !s.shuttingDown() {
		s.RequestDaemonShutdown()
	}
}

// FanError escalates a jammed or unresponsive fan to an immediate system
// shutdown.
func (s *Supervisor) FanError() {
	s.log.Error().Msg("fan error detected")
	s.runner.ShutdownImmediate()
	ctx, cancel := s.cbCtx()
	defer cancel()
	s.setLEDError(ctx)
	s.setLCD(ctx, bannerFanError, bannerShuttingDown)
}

// ShutdownRequestImmediate handles an aggregate Critical level.
func (s *Supervisor) ShutdownRequestImmediate() {
	s.log.Error().Msg("overheat condition requires immediate shutdown")
	s.runner.ShutdownImmediate()
	ctx, cancel := s.cbCtx()
	defer cancel()
	s.setLEDError(ctx)
	s.setLCD(ctx, bannerOverheat, bannerShuttingDown)
}

// ShutdownRequestDelayed handles an aggregate Shutdown level: power-off
// after the grace period unless the fleet cools down first.
func (s *Supervisor) ShutdownRequestDelayed() {
	s.log.Error().Msg("overheat condition requires shutdown with grace period")
	s.runner.ShutdownDelayed(oscmd.ShutdownGraceMinutes)
	ctx, cancel := s.cbCtx()
	defer cancel()
	s.setLEDError(ctx)
	s.setLCD(ctx, bannerOverheat, bannerShuttingDown)
}

// ShutdownCancelPending revokes a scheduled shutdown after the fleet
// dropped back below the Shutdown level.
func (s *Supervisor) ShutdownCancelPending() {
	s.runner.ShutdownCancel()
	ctx, cancel := s.cbCtx()
	defer cancel()
	s.setLEDNormal(ctx)
	s.setLCD(ctx, "", "")
}

// LevelChanged reports an aggregate level transition to the configured
// hook with the {new_level}, {old_level} and {monitor_data} placeholders.
func (s *Supervisor) LevelChanged(newLevel, oldLevel thermal.AlertLevel) {
	s.log.Info().Stringer("level", newLevel).Stringer("previous_level", oldLevel).Msg("temperature level changed")
	s.runner.RunHook(s.cfg.TemperatureChangedCommand, map[string]string{
		"new_level":    strconv.Itoa(int(newLevel)),
		"old_level":    strconv.Itoa(int(oldLevel)),
		"monitor_data": s.monitorDataString(),
	})
}

func (s *Supervisor) monitorDataString() string {
	var b strings.Builder
	for i, st := range s.MonitorData() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(st.Name)
		b.WriteByte(':')
		b.WriteString(st.Level.String())
		b.WriteByte(':')
		if st.Present {
			b.WriteString(strconv.FormatFloat(st.Temperature, 'f', 1, 64))
		}
	}
	return b.String()
}

// ApplyAlertStatus folds an ISR delta into the mirrored status register.
// The first alert after connect mirrors the full status, so an ISR equal
// to the mirror is left as-is rather than XORed to zero. That check is a
// heuristic, good only for first-interrupt bootstrapping.
func (s *Supervisor) ApplyAlertStatus(isr byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isr != s.currentStatus {
		s.currentStatus ^= isr
	}
	return s.currentStatus
}

// SwapPresenceMask stores a fresh DP0 reading and re-derives the bay
// count from its 4-bay indicator bit, so bay count always reflects the
// most recent DP0 reading.
func (s *Supervisor) SwapPresenceMask(mask byte) (byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.presenceMask
	s.presenceMask = mask
	s.bayCount = mcu.BayCount(mask)
	return old, s.bayCount
}

// PowerSupplyChanged runs the configured power hook with {socket} and
// {state}.
func (s *Supervisor) PowerSupplyChanged(socket int, present bool) {
	s.log.Info().Int("socket", socket).Bool("present", present).Msg("power supply changed")
	s.runner.RunHook(s.cfg.PowerSupplyChangedCommand, map[string]string{
		"socket": strconv.Itoa(socket),
		"state":  boolState(present),
	})
}

// DrivePresenceChanged runs the configured drive hook with {drive_bay}
// and {state}.
func (s *Supervisor) DrivePresenceChanged(bay int, present bool) {
	s.log.Info().Int("bay", bay).Bool("present", present).Msg("drive presence changed")
	s.runner.RunHook(s.cfg.DrivePresenceChangedCommand, map[string]string{
		"drive_bay": strconv.Itoa(bay),
		"state":     boolState(present),
	})
}

// BacklightActivity restores the normal backlight intensity and re-arms
// the dim timer; invoked on every button press-down.
func (s *Supervisor) BacklightActivity() {
	ctx, cancel := s.cbCtx()
	defer cancel()
	if err := s.client.SetBacklight(ctx, s.cfg.LCDIntensityNormal); err != nil {
		s.log.Warn().Err(err).Msg("backlight wake failed")
	}
	if s.backlight != nil {
		s.backlight.Arm(s.dimTimeout())
	}
}

func boolState(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
