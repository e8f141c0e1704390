// Package dispatch turns the MCU's payload-free alert notifications into
// domain events: on every alert it reads the interrupt status register,
// updates the supervisor's status mirror, and decodes power-input changes,
// drive-presence deltas and front-panel button edges, including the
// short/long press discrimination. The worker is a single
// goroutine consuming the link's alert subscription, so callbacks that
// issue further MCU commands queue behind prior dispatcher work and
// per-event ordering is preserved.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelroland/wdnas-hwdaemon/internal/bus"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mcu"
	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
)

// LongPress is the press duration above which a button release selects the
// configured long-press command.
const LongPress = 2 * time.Second

// Button identifies a front-panel button.
type Button int

const (
	ButtonUSBCopy Button = iota
	ButtonLCDUp
	ButtonLCDDown
)

func (b Button) String() string {
	switch b {
	case ButtonUSBCopy:
		return "usb-copy"
	case ButtonLCDUp:
		return "lcd-up"
	case ButtonLCDDown:
		return "lcd-down"
	default:
		return "unknown"
	}
}

func (b Button) isrBit() byte {
	switch b {
	case ButtonUSBCopy:
		return mcu.ISRUSBCopyButton
	case ButtonLCDUp:
		return mcu.ISRLCDUpButton
	default:
		return mcu.ISRLCDDownButton
	}
}

// Actions is a button's configured short/long external commands; either
// may be empty. A long press falls back to the short command when no long
// command is configured.
type Actions struct {
	Short string
	Long  string
}

// Buttons carries the per-button action configuration.
type Buttons struct {
	USBCopy Actions
	LCDUp   Actions
	LCDDown Actions
}

func (b Buttons) actions(btn Button) Actions {
	switch btn {
	case ButtonUSBCopy:
		return b.USBCopy
	case ButtonLCDUp:
		return b.LCDUp
	default:
		return b.LCDDown
	}
}

// Sink is the dispatcher's non-owning handle onto the supervisor façade:
// the mirror mutations go through it (the façade owns the MCU state
// mirror) and the decoded domain events land on it.
type Sink interface {
	// ApplyAlertStatus folds an ISR delta into the mirrored status and
	// returns the updated mirror (XOR unless isr equals the mirror, the
	// initial-alert heuristic).
	ApplyAlertStatus(isr byte) byte
	// SwapPresenceMask stores a fresh DP0 reading and returns the prior
	// mask plus the (re-derived) bay count.
	SwapPresenceMask(mask byte) (old byte, bayCount int)

	PowerSupplyChanged(socket int, present bool)
	DrivePresenceChanged(bay int, present bool)
	// BacklightActivity re-arms the panel backlight to its normal
	// intensity; invoked on every button press-down.
	BacklightActivity()
}

// Registers is the slice of the MCU command surface the dispatcher reads
// on each alert.
type Registers interface {
	InterruptStatus(ctx context.Context) (byte, error)
	DrivePresenceMask(ctx context.Context) (byte, error)
}

// Dispatcher consumes the link's alert feed. Button press timestamps are
// owned here exclusively.
type Dispatcher struct {
	regs    Registers
	sink    Sink
	buttons Buttons
	runHook func(command string)
	log     zerolog.Logger

	alerts     *bus.Subscription
	unexpected *bus.Subscription
	stop       chan struct{}
	done       chan struct{}

	pressedAt map[Button]time.Time
	now       func() time.Time
}

// New subscribes to the link's alert and out-of-order frame topics on conn
// and prepares the worker; Start launches it. runHook executes a
// configured button command (typically oscmd.Runner.RunHook with no
// substitutions).
func New(conn *bus.Connection, regs Registers, sink Sink, buttons Buttons, runHook func(command string), log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		regs:       regs,
		sink:       sink,
		buttons:    buttons,
		runHook:    runHook,
		log:        log.With().Str("component", "dispatcher").Logger(),
		alerts:     conn.Subscribe(bus.TopicMCUAlert),
		unexpected: conn.Subscribe(bus.TopicMCUUnexpectedFrame),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		pressedAt:  make(map[Button]time.Time),
		now:        time.Now,
	}
}

// Start launches the dispatcher worker goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Join stops the worker and waits for it to exit.
func (d *Dispatcher) Join() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.alerts.Channel():
			d.handleAlert()
		case m := <-d.unexpected.Channel():
			if m != nil {
				// Already logged at warn by the link; ignored here.
				d.log.Debug().Interface("frame", m.Payload).Msg("out-of-order frame ignored")
			}
		}
	}
}

func (d *Dispatcher) handleAlert() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*mculink.ResponseTimeout)
	defer cancel()

	isr, err := d.regs.InterruptStatus(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("interrupt status read failed")
		return
	}
	d.log.Info().Uint8("isr", isr).Msg("alert received")

	current := d.sink.ApplyAlertStatus(isr)

	if isr&mcu.ISRDrivePresence != 0 {
		d.handlePresenceChange(ctx)
	}
	if isr&mcu.ISRPower1Changed != 0 {
		d.sink.PowerSupplyChanged(1, current&mcu.ISRPower1Changed != 0)
	}
	if isr&mcu.ISRPower2Changed != 0 {
		d.sink.PowerSupplyChanged(2, current&mcu.ISRPower2Changed != 0)
	}
	for _, btn := range []Button{ButtonUSBCopy, ButtonLCDUp, ButtonLCDDown} {
		if isr&btn.isrBit() != 0 {
			d.handleButtonEdge(btn, current&btn.isrBit() != 0)
		}
	}
}

// handlePresenceChange re-reads DP0, diffs against the mirrored mask and
// reports every changed bay. DP0's low nibble is a bay-absent bitmask: a
// set bit means the bay is empty.
func (d *Dispatcher) handlePresenceChange(ctx context.Context) {
	mask, err := d.regs.DrivePresenceMask(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("drive presence read failed")
		return
	}
	old, bayCount := d.sink.SwapPresenceMask(mask)
	delta := old ^ mask
	for bay := 0; bay < bayCount; bay++ {
		bit := byte(1) << bay
		if delta&bit == 0 {
			continue
		}
		d.sink.DrivePresenceChanged(bay, mask&bit == 0)
	}
}

// handleButtonEdge processes one button transition. pressed reflects the
// mirrored state after the ISR delta was applied: set means the button is
// now down. Press-down records the timestamp and wakes the backlight;
// release computes the hold duration and invokes the short or long
// command.
func (d *Dispatcher) handleButtonEdge(btn Button, pressed bool) {
	if pressed {
		d.pressedAt[btn] = d.now()
		d.sink.BacklightActivity()
		d.log.Debug().Stringer("button", btn).Msg("button pressed")
		return
	}

	downAt, ok := d.pressedAt[btn]
	if !ok {
		// Release without a recorded press (e.g. pressed before connect);
		// treat as a short press.
		downAt = d.now()
	}
	delete(d.pressedAt, btn)
	held := d.now().Sub(downAt)

	acts := d.buttons.actions(btn)
	command := acts.Short
	long := held > LongPress && acts.Long != ""
	if long {
		command = acts.Long
	}
	d.log.Info().
		Stringer("button", btn).
		Dur("held", held).
		Bool("long", long).
		Msg("button released")
	if command != "" {
		d.runHook(command)
	}
}
