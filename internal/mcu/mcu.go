// Package mcu is the typed command surface over the framed link: every
// method here corresponds to exactly one wire code from the protocol's
// command table, doing the hex/ASCII marshaling and clamping the link
// itself knows nothing about.
package mcu

import (
	"context"
	"strings"

	"github.com/michaelroland/wdnas-hwdaemon/internal/mculink"
)

// LED mask bit positions.
const (
	LEDPowerBlue  byte = 1 << 0
	LEDPowerRed   byte = 1 << 1
	LEDPowerGreen byte = 1 << 2
	LEDUSBRed     byte = 1 << 3
	LEDUSBBlue    byte = 1 << 4
)

// ISR/IMR bit positions.
const (
	ISRPower2Changed byte = 1 << 1
	ISRPower1Changed byte = 1 << 2
	ISRUSBCopyButton byte = 1 << 3
	ISRDrivePresence byte = 1 << 4
	ISRLCDUpButton   byte = 1 << 5
	ISRLCDDownButton byte = 1 << 6
	ISREchoReply     byte = 1 << 7
)

// DP0's high-nibble indicator bit distinguishing a 4-bay chassis from a
// 2-bay one.
const dp0FourBayBit byte = 1 << 4

// MaxLineLen is the LCD line character limit; longer text is truncated.
const MaxLineLen = 16

// Client is the typed command surface. It holds no state of its own beyond
// the underlying link; the MCU state mirror lives in the supervisor, which
// is the only component allowed to treat these calls as more than one-shot
// RPCs.
type Client struct {
	link *mculink.Link
}

// New wraps an established link.
func New(link *mculink.Link) *Client { return &Client{link: link} }

func (c *Client) getByte(ctx context.Context, code string) (byte, error) {
	out, err := c.link.Send(ctx, code, "")
	if err != nil {
		return 0, err
	}
	return parseHexByte(code, out.Value)
}

func (c *Client) setByte(ctx context.Context, code string, v byte) error {
	_, err := c.link.Send(ctx, code, hexByte(v))
	return err
}

func (c *Client) getWord(ctx context.Context, code string) (uint16, error) {
	out, err := c.link.Send(ctx, code, "")
	if err != nil {
		return 0, err
	}
	return parseHexWord(code, out.Value)
}

// Version returns the MCU's free-form firmware banner ("VER").
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.link.Send(ctx, "VER", "")
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

// Config gets/sets the 1-byte configuration register ("CFG").
func (c *Client) Config(ctx context.Context) (byte, error)    { return c.getByte(ctx, "CFG") }
func (c *Client) SetConfig(ctx context.Context, v byte) error { return c.setByte(ctx, "CFG", v) }

// Status returns the power-status register ("STA"): bit1 socket-2 present,
// bit2 socket-1 present.
func (c *Client) Status(ctx context.Context) (byte, error) { return c.getByte(ctx, "STA") }

// LEDMask gets/sets the steady LED mask ("LED").
func (c *Client) LEDMask(ctx context.Context) (byte, error)       { return c.getByte(ctx, "LED") }
func (c *Client) SetLEDMask(ctx context.Context, mask byte) error { return c.setByte(ctx, "LED", mask) }

// BlinkMask gets/sets the blink LED mask ("BLK").
func (c *Client) BlinkMask(ctx context.Context) (byte, error)       { return c.getByte(ctx, "BLK") }
func (c *Client) SetBlinkMask(ctx context.Context, mask byte) error { return c.setByte(ctx, "BLK", mask) }

// PowerPulse gets/sets whether the power LED pulses ("PLS"): 0 or 1.
func (c *Client) PowerPulse(ctx context.Context) (bool, error) {
	v, err := c.getByte(ctx, "PLS")
	return v != 0, err
}

func (c *Client) SetPowerPulse(ctx context.Context, on bool) error {
	var v byte
	if on {
		v = 1
	}
	return c.setByte(ctx, "PLS", v)
}

// Backlight gets/sets the LCD backlight intensity, 0..100. SetBacklight
// clamps out-of-range input rather than erroring: 120 goes out as
// BKL=64.
func (c *Client) Backlight(ctx context.Context) (int, error) {
	v, err := c.getByte(ctx, "BKL")
	return int(v), err
}

func (c *Client) SetBacklight(ctx context.Context, pct int) error {
	return c.setByte(ctx, "BKL", byte(clamp(pct, 0, 100)))
}

// SetLine1/SetLine2 write LCD text, truncated to MaxLineLen characters
// ("LN1"/"LN2").
func (c *Client) SetLine1(ctx context.Context, text string) error { return c.setLine(ctx, "LN1", text) }
func (c *Client) SetLine2(ctx context.Context, text string) error { return c.setLine(ctx, "LN2", text) }

func (c *Client) setLine(ctx context.Context, code, text string) error {
	_, err := c.link.Send(ctx, code, TruncateLine(text))
	return err
}

// TruncateLine shortens text to the LCD's per-line character limit,
// exported so the supervisor's banner formatting can size text before
// sending it.
func TruncateLine(text string) string {
	r := []rune(text)
	if len(r) <= MaxLineLen {
		return text
	}
	return string(r[:MaxLineLen])
}

// ChassisTemperature returns the chassis temperature sensor reading in
// whole degrees Celsius ("TMP").
func (c *Client) ChassisTemperature(ctx context.Context) (int, error) {
	v, err := c.getByte(ctx, "TMP")
	return int(v), err
}

// FanRPM returns the measured fan speed in RPM ("RPM").
func (c *Client) FanRPM(ctx context.Context) (int, error) {
	v, err := c.getWord(ctx, "RPM")
	return int(v), err
}

// FanTach returns the raw tachometer pulse rate ("TAC").
func (c *Client) FanTach(ctx context.Context) (int, error) {
	v, err := c.getWord(ctx, "TAC")
	return int(v), err
}

// FanSpeed gets/sets the fan speed target as a percentage, 0..99.
// SetFanSpeed clamps rather than erroring: 100 goes out as FAN=63.
func (c *Client) FanSpeed(ctx context.Context) (int, error) {
	v, err := c.getByte(ctx, "FAN")
	return int(v), err
}

func (c *Client) SetFanSpeed(ctx context.Context, pct int) error {
	return c.setByte(ctx, "FAN", byte(clamp(pct, 0, 99)))
}

// BayEnableMask returns the drive-bay enable register ("DE0"): low nibble
// power-up mask, high nibble alert-LED mask (0 = on).
func (c *Client) BayEnableMask(ctx context.Context) (byte, error) { return c.getByte(ctx, "DE0") }

// DrivePresenceMask returns the raw DP0 register: low nibble bay-absent
// bitmask, bit4 the 4-bay-chassis indicator.
func (c *Client) DrivePresenceMask(ctx context.Context) (byte, error) { return c.getByte(ctx, "DP0") }

// BayCount infers chassis bay count from a DP0 reading.
func BayCount(dp0 byte) int {
	if dp0&dp0FourBayBit != 0 {
		return 4
	}
	return 2
}

func bayByte(powerMask, alertMask byte) byte {
	return (alertMask&0x0F)<<4 | (powerMask & 0x0F)
}

// SetBayEnable asserts bay power and alert-LED bits via "DLS". Per the
// wire protocol the alert-LED nibble is inverted between DLS and DLC: a
// set bit here turns the corresponding bay's alert LED OFF.
func (c *Client) SetBayEnable(ctx context.Context, powerMask, alertMask byte) error {
	return c.setByte(ctx, "DLS", bayByte(powerMask, alertMask))
}

// ClearBayEnable deasserts bay power and asserts alert-LED bits via "DLC";
// a set alert bit here turns the LED ON (the DLS/DLC inversion).
func (c *Client) ClearBayEnable(ctx context.Context, powerMask, alertMask byte) error {
	return c.setByte(ctx, "DLC", bayByte(powerMask, alertMask))
}

// DriveAlertBlinkMask gets/sets which bays blink their alert LED, encoded
// in the upper nibble of a single byte ("DLB").
func (c *Client) DriveAlertBlinkMask(ctx context.Context) (byte, error) {
	v, err := c.getByte(ctx, "DLB")
	return v >> 4, err
}

func (c *Client) SetDriveAlertBlinkMask(ctx context.Context, mask byte) error {
	return c.setByte(ctx, "DLB", (mask&0x0F)<<4)
}

// SetInterruptMask enables the given interrupt bits ("IMR").
func (c *Client) SetInterruptMask(ctx context.Context, mask byte) error {
	return c.setByte(ctx, "IMR", mask)
}

// InterruptStatus reads and (by protocol convention) acknowledges pending
// interrupt bits ("ISR").
func (c *Client) InterruptStatus(ctx context.Context) (byte, error) { return c.getByte(ctx, "ISR") }

// Raw sends an arbitrary code/value pair, for the control socket's debug
// passthrough surface and for protocol codes this client does
// not otherwise expose.
func (c *Client) Raw(ctx context.Context, code, value string) (mculink.Outcome, error) {
	return c.link.Send(ctx, strings.ToUpper(code), value)
}
