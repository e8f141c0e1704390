package controlsocket

import (
	"encoding/binary"
	"fmt"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
)

// Wire format: one magic byte, one flags byte, a big-endian 16-bit command
// identifier, a one-byte parameter length, then the parameter. Commands
// and responses use distinct magic bytes so a desynchronized client is
// detected on the first byte.
const (
	commandMagic  byte = 0xA5
	responseMagic byte = 0x5A

	headerLen    = 5
	maxParameter = 0xFF
)

// Packet flags.
const (
	flagError     byte = 0b10000000
	flagKeepAlive byte = 0b01000000
)

// Command identifiers.
const (
	cmdVersionGet uint16 = 0x0001

	cmdDaemonShutdown uint16 = 0xFF01

	cmdPMCVersionGet     uint16 = 0x0101
	cmdPMCStatusGet      uint16 = 0x0103
	cmdPMCConfigSet      uint16 = 0x0104
	cmdPMCConfigGet      uint16 = 0x0105
	cmdPMCDLBGet         uint16 = 0x010B
	cmdPMCBLKGet         uint16 = 0x010D
	cmdPowerLEDSet       uint16 = 0x0110
	cmdPowerLEDGet       uint16 = 0x0111
	cmdUSBLEDSet         uint16 = 0x0112
	cmdUSBLEDGet         uint16 = 0x0113
	cmdLCDBacklightSet   uint16 = 0x0114
	cmdLCDBacklightGet   uint16 = 0x0115
	cmdLCDTextSet        uint16 = 0x0116
	cmdPMCTemperatureGet uint16 = 0x0121
	cmdFanRPMGet         uint16 = 0x0123
	cmdFanSpeedSet       uint16 = 0x0124
	cmdFanSpeedGet       uint16 = 0x0125
	cmdDrivePresentGet   uint16 = 0x0131
	cmdDriveEnabledSet   uint16 = 0x0132
	cmdDriveEnabledGet   uint16 = 0x0133
	cmdDriveAlertSet     uint16 = 0x0134
	cmdMonitorDataGet    uint16 = 0x0141
	cmdPMCRaw            uint16 = 0x01FF
)

// Response error codes.
const (
	errNoError           byte = 0x00
	errNoSuchCommand     byte = 0x0C
	errParameterLength   byte = 0x7E
	errCommandNotAllowed byte = 0xC0
	errExecutionFailed   byte = 0xEF
)

// packet is one framed request or response.
type packet struct {
	flags      byte
	identifier uint16
	parameter  []byte
}

func (p packet) keepAlive() bool { return p.flags&flagKeepAlive != 0 }

func (p packet) serialize(magic byte) ([]byte, error) {
	if len(p.parameter) > maxParameter {
		return nil, errs.New(errs.FrameParse, "controlsocket.serialize", "parameter too long")
	}
	out := make([]byte, headerLen+len(p.parameter))
	out[0] = magic
	out[1] = p.flags
	binary.BigEndian.PutUint16(out[2:4], p.identifier)
	out[4] = byte(len(p.parameter))
	copy(out[headerLen:], p.parameter)
	return out, nil
}

// response builds a success reply mirroring the request's keep-alive flag.
func (p packet) response(parameter []byte) packet {
	return packet{flags: p.flags & flagKeepAlive, identifier: p.identifier, parameter: parameter}
}

// errorResponse prefixes the error code to the parameter and sets the
// error flag.
func (p packet) errorResponse(code byte, parameter []byte) packet {
	return packet{
		flags:      (p.flags & flagKeepAlive) | flagError,
		identifier: p.identifier,
		parameter:  append([]byte{code}, parameter...),
	}
}

// reader incrementally parses command packets from a byte stream.
type reader struct {
	buf []byte
}

func (r *reader) feed(chunk []byte) { r.buf = append(r.buf, chunk...) }

// next pops one complete command packet, or returns ok=false when more
// bytes are needed. A wrong magic byte is a framing error: the connection
// is not recoverable and must be dropped.
func (r *reader) next() (packet, bool, error) {
	if len(r.buf) == 0 {
		return packet{}, false, nil
	}
	if r.buf[0] != commandMagic {
		return packet{}, false, errs.New(errs.FrameParse, "controlsocket.read",
			fmt.Sprintf("bad magic byte %#x", r.buf[0]))
	}
	if len(r.buf) < headerLen {
		return packet{}, false, nil
	}
	paramLen := int(r.buf[4])
	total := headerLen + paramLen
	if len(r.buf) < total {
		return packet{}, false, nil
	}
	p := packet{
		flags:      r.buf[1],
		identifier: binary.BigEndian.Uint16(r.buf[2:4]),
		parameter:  append([]byte(nil), r.buf[headerLen:total]...),
	}
	r.buf = r.buf[total:]
	return p, true, nil
}
