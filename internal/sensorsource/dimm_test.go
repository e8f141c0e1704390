package sensorsource

import (
	"context"
	"errors"
	"testing"
)

type fakeI2C struct {
	wantAddr uint16
	reply    []byte
	err      error
	gotAddr  uint16
	gotOut   []byte
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.gotAddr = addr
	f.gotOut = append([]byte(nil), w...)
	if f.err != nil {
		return f.err
	}
	copy(r, f.reply)
	return nil
}

func TestDIMMSourceDecodesBigEndianWordScaledBy16(t *testing.T) {
	bus := &fakeI2C{reply: []byte{0x01, 0x90}} // 0x0190 = 400 -> 25.0C
	s := DIMMSource{Bus: bus, DIMMIndex: 2}

	v, ok := s.Read(context.Background())
	if !ok {
		t.Fatal("expected a reading")
	}
	if v != 25.0 {
		t.Fatalf("got %v, want 25.0", v)
	}
	if bus.gotAddr != spdTempBaseAddr+2 {
		t.Fatalf("got addr %#x, want %#x", bus.gotAddr, spdTempBaseAddr+2)
	}
	if len(bus.gotOut) != 1 || bus.gotOut[0] != spdTempRegister {
		t.Fatalf("got register write %v, want [%d]", bus.gotOut, spdTempRegister)
	}
}

func TestDIMMSourceAbsentOnTransactionError(t *testing.T) {
	bus := &fakeI2C{err: errors.New("nack")}
	s := DIMMSource{Bus: bus, DIMMIndex: 0}
	_, ok := s.Read(context.Background())
	if ok {
		t.Fatal("expected no reading on I2C error")
	}
}

func TestDIMMSourceAbsentWithNilBus(t *testing.T) {
	s := DIMMSource{DIMMIndex: 0}
	_, ok := s.Read(context.Background())
	if ok {
		t.Fatal("expected no reading with nil bus")
	}
}
