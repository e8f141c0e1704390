// Package supervisor is the hardware core's façade: it owns the MCU link,
// the thermal governor, the event dispatcher, the sensor fleet and the
// backlight dim timer, runs the bring-up/teardown lifecycle, and exposes
// the query and command surface the control socket calls into. It is
// also the exclusive owner of the MCU state mirror and the backlight
// state; the dispatcher and governor reach back in through the
// narrow Sink/Callbacks capability sets rather than owning references of
// their own.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/config"
	"github.com/michaelroland/wdnas-hwdaemon/internal/dispatch"
	"github.com/michaelroland/wdnas-hwdaemon/internal/governor"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mcu"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
	"github.com/michaelroland/wdnas-hwdaemon/internal/oscmd"
	"github.com/michaelroland/wdnas-hwdaemon/internal/rearmtimer"
	"github.com/michaelroland/wdnas-hwdaemon/internal/sensormon"
	"github.com/michaelroland/wdnas-hwdaemon/internal/thermal"
)

// FanSafeSpeed is written when the governor stops so a dead control loop
// never leaves the fan idle.
const FanSafeSpeed = 80

// LCD banners.
const (
	bannerBoot         = "WD NAS HW daemon"
	bannerShuttingDown = "Shutting down..."
	bannerOverheat     = "OVERHEAT ALERT"
	bannerFanError     = "FAN ERROR"
	bannerStopped      = "HW daemon halted"
)

// ledPowerBits selects the power LED's color bits within the LED masks.
const ledPowerBits = mcu.LEDPowerBlue | mcu.LEDPowerRed | mcu.LEDPowerGreen

// Commands is the slice of the typed MCU surface the façade drives;
// *mcu.Client implements it. Tests substitute a fake.
type Commands interface {
	Version(ctx context.Context) (string, error)
	Config(ctx context.Context) (byte, error)
	SetConfig(ctx context.Context, v byte) error
	Status(ctx context.Context) (byte, error)
	LEDMask(ctx context.Context) (byte, error)
	SetLEDMask(ctx context.Context, mask byte) error
	BlinkMask(ctx context.Context) (byte, error)
	SetBlinkMask(ctx context.Context, mask byte) error
	PowerPulse(ctx context.Context) (bool, error)
	SetPowerPulse(ctx context.Context, on bool) error
	Backlight(ctx context.Context) (int, error)
	SetBacklight(ctx context.Context, pct int) error
	SetLine1(ctx context.Context, text string) error
	SetLine2(ctx context.Context, text string) error
	ChassisTemperature(ctx context.Context) (int, error)
	FanRPM(ctx context.Context) (int, error)
	FanTach(ctx context.Context) (int, error)
	FanSpeed(ctx context.Context) (int, error)
	SetFanSpeed(ctx context.Context, pct int) error
	BayEnableMask(ctx context.Context) (byte, error)
	DrivePresenceMask(ctx context.Context) (byte, error)
	SetBayEnable(ctx context.Context, powerMask, alertMask byte) error
	ClearBayEnable(ctx context.Context, powerMask, alertMask byte) error
	DriveAlertBlinkMask(ctx context.Context) (byte, error)
	SetDriveAlertBlinkMask(ctx context.Context, mask byte) error
	SetInterruptMask(ctx context.Context, mask byte) error
	InterruptStatus(ctx context.Context) (byte, error)
	Raw(ctx context.Context, code, value string) (mculink.Outcome, error)
}

// Supervisor composes the hardware core. Construct with New, bring up with
// Start, tear down with Stop.
type Supervisor struct {
	cfg          *config.Config
	runner       *oscmd.Runner
	baseLog      zerolog.Logger
	logOverrides map[string]zerolog.Level
	log          zerolog.Logger

	bus       *bus.Bus
	link      *mculink.Link
	client    Commands
	gov       *governor.Governor
	disp      *dispatch.Dispatcher
	monitors  []*sensormon.Monitor
	sensors   []*thermal.Sensor
	backlight *rearmtimer.Timer

	mu            sync.Mutex
	version       string
	initialStatus byte
	currentStatus byte
	presenceMask  byte
	bayCount      int

	stopReq  chan struct{}
	stopOnce sync.Once
}

// New builds an idle supervisor. Nothing touches the hardware until Start.
func New(cfg *config.Config, runner *oscmd.Runner, log zerolog.Logger) *Supervisor {
	overrides, _ := config.ParseLogSpec(cfg.Logging) // validated by config.Load
	return &Supervisor{
		cfg:          cfg,
		runner:       runner,
		baseLog:      log,
		logOverrides: overrides,
		log:          componentLog(log, overrides, "supervisor").With().Str("component", "supervisor").Logger(),
		bus:          bus.NewBus(8),
		stopReq:      make(chan struct{}),
	}
}

// componentLog derives a component's logger, honoring the per-component
// level overrides from the "logging" config option.
func componentLog(base zerolog.Logger, overrides map[string]zerolog.Level, component string) zerolog.Logger {
	return base.Level(config.LevelFor(overrides, component, base.GetLevel()))
}

func (s *Supervisor) logFor(component string) zerolog.Logger {
	return componentLog(s.baseLog, s.logOverrides, component)
}

// ShutdownRequested is closed when any component asks the daemon itself to
// exit (controller stop, control-socket shutdown command). The main
// goroutine selects on it alongside OS signals.
func (s *Supervisor) ShutdownRequested() <-chan struct{} { return s.stopReq }

// RequestDaemonShutdown asks the daemon to exit; idempotent.
func (s *Supervisor) RequestDaemonShutdown() {
	s.stopOnce.Do(func() { close(s.stopReq) })
}

func (s *Supervisor) shuttingDown() bool {
	select {
	case <-s.stopReq:
		return true
	default:
		return false
	}
}

// Start brings the hardware core up: link probe, state
// mirror bootstrap, boot indication, interrupt unmask, sensors, governor,
// dispatcher, backlight timer, system-up hook.
func (s *Supervisor) Start(ctx context.Context) error {
	link, err := mculink.Dial(ctx, s.cfg.PMCPort, s.bus.NewConnection("mcu-link"), s.logFor("mcu-link"))
	if err != nil {
		return err
	}
	s.link = link
	s.client = mcu.New(link)

	version, err := s.client.Version(ctx)
	if err != nil {
		_ = link.Close()
		return err
	}
	s.log.Info().Str("version", version).Msg("MCU firmware detected")

	status, err := s.client.Status(ctx)
	if err != nil {
		_ = link.Close()
		return err
	}
	presence, err := s.client.DrivePresenceMask(ctx)
	if err != nil {
		_ = link.Close()
		return err
	}

	s.mu.Lock()
	s.version = version
	s.initialStatus = status
	s.currentStatus = status
	s.presenceMask = presence
	s.bayCount = mcu.BayCount(presence)
	s.mu.Unlock()
	s.log.Info().Int("bays", mcu.BayCount(presence)).Msg("chassis identified")

	s.setLEDBoot(ctx)
	s.setLCD(ctx, bannerBoot, version)
	if err := s.client.SetBacklight(ctx, s.cfg.LCDIntensityNormal); err != nil {
		s.log.Warn().Err(err).Msg("backlight init failed")
	}

	if err := s.client.SetInterruptMask(ctx, 0xFF); err != nil {
		_ = link.Close()
		return err
	}

	s.monitors = s.buildMonitors(ctx)
	s.sensors = make([]*thermal.Sensor, len(s.monitors))
	for i, m := range s.monitors {
		s.sensors[i] = m.Sensor()
	}
	for _, m := range s.monitors {
		m.Start()
	}

	s.gov = governor.New(s.client, s.sensors, s, s.logFor("governor"))
	s.gov.Start()

	s.disp = dispatch.New(s.bus.NewConnection("dispatcher"), s.client, s, dispatch.Buttons{
		USBCopy: dispatch.Actions{Short: s.cfg.USBCopyButtonCommand, Long: s.cfg.USBCopyButtonLongCommand},
		LCDUp:   dispatch.Actions{Short: s.cfg.LCDUpButtonCommand, Long: s.cfg.LCDUpButtonLongCommand},
		LCDDown: dispatch.Actions{Short: s.cfg.LCDDownButtonCommand, Long: s.cfg.LCDDownButtonLongCommand},
	}, func(cmd string) { s.runner.RunHook(cmd, nil) }, s.logFor("dispatcher"))
	s.disp.Start()

	s.backlight = rearmtimer.New(s.dimBacklight)
	s.backlight.Arm(s.dimTimeout())

	s.runner.RunHook(s.cfg.SystemUpCommand, nil)
	return nil
}

// Stop tears the core down in reverse start order: dispatcher, sensor
// monitors, governor, then the link.
func (s *Supervisor) Stop() {
	s.runner.RunHook(s.cfg.SystemDownCommand, nil)
	if s.disp != nil {
		s.disp.Join()
	}
	for _, m := range s.monitors {
		m.Join()
	}
	if s.gov != nil {
		s.gov.Join()
	}
	if s.backlight != nil {
		s.backlight.Join()
	}
	if s.link != nil {
		_ = s.link.Close()
	}
	s.log.Info().Msg("hardware core stopped")
}

func (s *Supervisor) dimTimeout() time.Duration {
	return time.Duration(s.cfg.LCDDimTimeout) * time.Second
}

// dimBacklight is the backlight timer's fire callback: after dim_timeout
// of no panel activity the backlight drops to the dimmed intensity.
func (s *Supervisor) dimBacklight() {
	ctx, cancel := context.WithTimeout(context.Background(), mculink.ResponseTimeout)
	defer cancel()
	if err := s.client.SetBacklight(ctx, s.cfg.LCDIntensityDimmed); err != nil {
		s.log.Warn().Err(err).Msg("backlight dim failed")
	}
}

// setLCD writes both panel lines, truncating to the panel width.
func (s *Supervisor) setLCD(ctx context.Context, line1, line2 string) {
	if err := s.client.SetLine1(ctx, line1); err != nil {
		s.log.Warn().Err(err).Msg("LCD line 1 write failed")
		return
	}
	if err := s.client.SetLine2(ctx, line2); err != nil {
		s.log.Warn().Err(err).Msg("LCD line 2 write failed")
	}
}

// setLEDBoot puts the panel into boot indication: steady mask cleared
// entirely (USB LED included), power LED blinking blue, no pulse.
func (s *Supervisor) setLEDBoot(ctx context.Context) {
	s.ledWrite(ctx, func(steady, blink byte) (byte, byte, bool) {
		return 0, mcu.LEDPowerBlue, false
	})
}

func (s *Supervisor) setLEDNormal(ctx context.Context) {
	s.ledWrite(ctx, func(steady, blink byte) (byte, byte, bool) {
		return (steady &^ ledPowerBits) | mcu.LEDPowerBlue, blink &^ ledPowerBits, false
	})
}

func (s *Supervisor) setLEDWarning(ctx context.Context) {
	s.ledWrite(ctx, func(steady, blink byte) (byte, byte, bool) {
		return (steady &^ ledPowerBits) | mcu.LEDPowerRed, blink &^ ledPowerBits, false
	})
}

func (s *Supervisor) setLEDError(ctx context.Context) {
	s.ledWrite(ctx, func(steady, blink byte) (byte, byte, bool) {
		return steady &^ ledPowerBits, (blink &^ ledPowerBits) | mcu.LEDPowerRed, false
	})
}

// ledWrite reads the current masks, lets compose rewrite the power LED
// bits (USB LED bits pass through untouched), and
// writes back. MCU errors here are never fatal; they are logged and the
// panel simply keeps its previous indication.
func (s *Supervisor) ledWrite(ctx context.Context, compose func(steady, blink byte) (byte, byte, bool)) {
	steady, err := s.client.LEDMask(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("LED mask read failed")
		return
	}
	blink, err := s.client.BlinkMask(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("LED blink mask read failed")
		return
	}
	newSteady, newBlink, pulse := compose(steady, blink)
	if err := s.client.SetPowerPulse(ctx, pulse); err != nil {
		s.log.Warn().Err(err).Msg("power pulse write failed")
	}
	if err := s.client.SetBlinkMask(ctx, newBlink); err != nil {
		s.log.Warn().Err(err).Msg("LED blink mask write failed")
	}
	if err := s.client.SetLEDMask(ctx, newSteady); err != nil {
		s.log.Warn().Err(err).Msg("LED mask write failed")
	}
}
