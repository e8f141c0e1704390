package controlsocket

import (
	"context"
	"strconv"
	"strings"

	"github.com/michaelroland/wdnas-hwdaemon/internal/supervisor"
)

// handle executes one command against the façade and builds the reply.
// Unknown identifiers and malformed parameters are reported in-band; only
// transport-level failures surface as errors.
func (s *Server) handle(ctx context.Context, req packet) (packet, error) {
	switch req.identifier {
	case cmdVersionGet:
		return req.response([]byte(ProtocolVersion)), nil

	case cmdDaemonShutdown:
		s.sup.RequestDaemonShutdown()
		return req.response(nil), nil

	case cmdPMCVersionGet:
		return req.response([]byte(s.sup.PMCVersion())), nil

	case cmdPMCStatusGet:
		// Two bytes: current then bootup power-supply state, one bit per
		// socket.
		c1, c2 := s.sup.PowerSupplyState()
		b1, b2 := s.sup.PowerSupplyBootState()
		return req.response([]byte{packBools(c1, c2), packBools(b1, b2)}), nil

	case cmdPMCConfigGet:
		v, err := s.sup.MCUConfig(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{v}), nil

	case cmdPMCConfigSet:
		if len(req.parameter) != 1 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetMCUConfig(ctx, req.parameter[0]); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdPMCDLBGet:
		v, err := s.sup.DriveAlertBlinkMask(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{v}), nil

	case cmdPMCBLKGet:
		st, err := s.sup.LEDGet(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{st.Blink}), nil

	case cmdPowerLEDGet, cmdUSBLEDGet:
		st, err := s.sup.LEDGet(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{st.Steady, st.Blink, packBools(st.Pulse)}), nil

	case cmdPowerLEDSet, cmdUSBLEDSet:
		if len(req.parameter) != 3 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		st := supervisor.LEDState{
			Steady: req.parameter[0],
			Blink:  req.parameter[1],
			Pulse:  req.parameter[2] != 0,
		}
		if err := s.sup.LEDSet(ctx, st); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdLCDBacklightGet:
		v, err := s.sup.LCDBacklight(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{byte(v)}), nil

	case cmdLCDBacklightSet:
		if len(req.parameter) != 1 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetLCDBacklight(ctx, int(req.parameter[0])); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdLCDTextSet:
		// First byte selects the line; the rest is the text.
		if len(req.parameter) < 1 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		line := int(req.parameter[0])
		if line != 1 && line != 2 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetLCDText(ctx, line, string(req.parameter[1:])); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdPMCTemperatureGet:
		v, err := s.sup.ChassisTemperature(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{byte(v)}), nil

	case cmdFanRPMGet:
		v, err := s.sup.FanRPM(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{byte(v >> 8), byte(v)}), nil

	case cmdFanSpeedGet:
		v, err := s.sup.FanSpeed(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{byte(v)}), nil

	case cmdFanSpeedSet:
		if len(req.parameter) != 1 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetFanSpeed(ctx, int(req.parameter[0])); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdDrivePresentGet:
		bays := s.sup.BayCount()
		out := make([]byte, bays+1)
		out[0] = byte(bays)
		for bay := 0; bay < bays; bay++ {
			out[bay+1] = packBools(s.sup.DrivePresent(bay))
		}
		return req.response(out), nil

	case cmdDriveEnabledGet:
		v, err := s.sup.BayEnableMask(ctx)
		if err != nil {
			return packet{}, err
		}
		return req.response([]byte{v}), nil

	case cmdDriveEnabledSet:
		if len(req.parameter) != 2 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetBayEnabled(ctx, int(req.parameter[0]), req.parameter[1] != 0); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdDriveAlertSet:
		if len(req.parameter) != 2 {
			return req.errorResponse(errParameterLength, nil), nil
		}
		if err := s.sup.SetBayAlertLED(ctx, int(req.parameter[0]), req.parameter[1] != 0); err != nil {
			return packet{}, err
		}
		return req.response(nil), nil

	case cmdMonitorDataGet:
		return req.response([]byte(monitorDataText(s.sup))), nil

	case cmdPMCRaw:
		if !s.debug {
			return req.errorResponse(errCommandNotAllowed, nil), nil
		}
		code, value, _ := strings.Cut(string(req.parameter), "=")
		out, err := s.sup.Raw(ctx, code, value)
		if err != nil {
			return packet{}, err
		}
		if out.Ack {
			return req.response([]byte("ACK")), nil
		}
		return req.response([]byte(out.Value)), nil

	default:
		return req.errorResponse(errNoSuchCommand, nil), nil
	}
}

// monitorDataText renders the sensor fleet as "name:level:temp" lines,
// one per sensor; sensors without a reading have an empty temperature
// field.
func monitorDataText(sup Facade) string {
	var b strings.Builder
	for _, st := range sup.MonitorData() {
		b.WriteString(st.Name)
		b.WriteByte(':')
		b.WriteString(st.Level.String())
		b.WriteByte(':')
		if st.Present {
			b.WriteString(formatTemp(st.Temperature))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func packBools(bits ...bool) byte {
	var out byte
	for i, b := range bits {
		if b {
			out |= 1 << i
		}
	}
	return out
}
