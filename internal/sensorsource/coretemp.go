package sensorsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// hwmonRoot is overridable in tests.
var hwmonRoot = "/sys/class/hwmon"

const (
	coretempNameFile  = "name"
	coretempNameValue = "coretemp"
	// hwmon numbers the package sensor temp1_*; per-core sensors start
	// at temp2_* for core 0.
	coreOffset = 2
)

var coretempValueRe = regexp.MustCompile(`^([0-9]+)`)

// findCoreTempDevice returns the hwmon device directory whose "name" file
// reads "coretemp", or "" if none is present.
func findCoreTempDevice() string {
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		dir := filepath.Join(hwmonRoot, e.Name())
		raw, err := os.ReadFile(filepath.Join(dir, coretempNameFile))
		if err != nil {
			continue
		}
		if strings.Contains(string(raw), coretempNameValue) {
			return dir
		}
	}
	return ""
}

// readCoreTempValue reads one raw milli-degree value file for a given CPU
// core index and value type ("input", "max", "crit", "crit_alarm").
func readCoreTempValue(device string, coreIndex int, valueType string) (int, bool) {
	if device == "" {
		return 0, false
	}
	file := filepath.Join(device, fmt.Sprintf("temp%d_%s", coreOffset+coreIndex, valueType))
	raw, err := os.ReadFile(file)
	if err != nil {
		return 0, false
	}
	m := coretempValueRe.FindStringSubmatch(strings.TrimSpace(string(raw)))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// CPUMaxSource reads a CPU core's junction temperature directly.
type CPUMaxSource struct {
	CoreIndex int
}

func (s CPUMaxSource) Read(ctx context.Context) (float64, bool) {
	v, ok := readCoreTempValue(findCoreTempDevice(), s.CoreIndex, "input")
	if !ok {
		return 0, false
	}
	return float64(v) / 1000.0, true
}

// CPUDeltaSource reads a CPU core's margin below its critical junction
// temperature.
type CPUDeltaSource struct {
	CoreIndex int
}

func (s CPUDeltaSource) Read(ctx context.Context) (float64, bool) {
	critMax, ok := readCoreTempValue(findCoreTempDevice(), s.CoreIndex, "crit")
	if !ok {
		return 0, false
	}
	value, ok := readCoreTempValue(findCoreTempDevice(), s.CoreIndex, "input")
	if !ok {
		return 0, false
	}
	return float64(critMax-value) / 1000.0, true
}
