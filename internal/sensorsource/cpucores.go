package sensorsource

import "context"

// NumCPUCores counts the per-core temperature inputs the coretemp hwmon
// device exposes (temp2_input upward; temp1_* is the package sensor).
func NumCPUCores() int {
	device := findCoreTempDevice()
	n := 0
	for {
		if _, ok := readCoreTempValue(device, n, "input"); !ok {
			return n
		}
		n++
	}
}

// CPUMaxAllSource reads the hottest junction temperature across all CPU
// cores; the cpu-max sensor monitors this fleet-wide maximum rather than
// any single core.
type CPUMaxAllSource struct{}

func (CPUMaxAllSource) Read(ctx context.Context) (float64, bool) {
	best, found := 0.0, false
	for core := 0; ; core++ {
		v, ok := CPUMaxSource{CoreIndex: core}.Read(ctx)
		if !ok {
			break
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

// CPUDeltaMinSource reads the smallest margin below the critical junction
// temperature across all CPU cores: the core closest to throttling
// defines the cpu-delta sensor's value.
type CPUDeltaMinSource struct{}

func (CPUDeltaMinSource) Read(ctx context.Context) (float64, bool) {
	best, found := 0.0, false
	for core := 0; ; core++ {
		v, ok := CPUDeltaSource{CoreIndex: core}.Read(ctx)
		if !ok {
			break
		}
		if !found || v < best {
			best, found = v, true
		}
	}
	return best, found
}
