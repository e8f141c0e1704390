package mcu

import (
	"strconv"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
)

func hexByte(b byte) string { return byteToHex(b) }

func byteToHex(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

func hexWord(w uint16) string {
	return byteToHex(byte(w >> 8)) + byteToHex(byte(w))
}

func parseHexByte(op, s string) (byte, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, errs.Wrap(errs.FrameParse, op, err)
	}
	return byte(v), nil
}

func parseHexWord(op, s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errs.Wrap(errs.FrameParse, op, err)
	}
	return uint16(v), nil
}
