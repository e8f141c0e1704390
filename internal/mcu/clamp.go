package mcu

import "golang.org/x/exp/constraints"

// clamp bounds v to [lo, hi]; used for the fan-speed and backlight
// setters, whose wire encoding requires an in-range byte.
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
