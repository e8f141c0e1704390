package sensorsource

import (
	"context"

	"tinygo.org/x/drivers"
)

// spdTempBaseAddr is the first DIMM's I2C temperature-sensor address;
// successive DIMMs sit at consecutive addresses.
const spdTempBaseAddr = 0x18

const spdTempRegister = 5

// DIMMSource reads a memory module's SPD-colocated temperature sensor
// over I2C, through the tinygo.org/x/drivers transaction interface: a
// 16-bit word read at register 5, the two bytes combined big-endian and
// scaled by 1/16 degree.
type DIMMSource struct {
	Bus       drivers.I2C
	DIMMIndex int
}

func (s DIMMSource) Read(ctx context.Context) (float64, bool) {
	if s.Bus == nil {
		return 0, false
	}
	addr := uint16(spdTempBaseAddr + s.DIMMIndex)
	out := []byte{spdTempRegister}
	in := make([]byte, 2)
	if err := s.Bus.Tx(addr, out, in); err != nil {
		return 0, false
	}
	raw := uint16(in[0])<<8 | uint16(in[1])
	return float64(raw) / 16.0, true
}
