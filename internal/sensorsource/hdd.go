package sensorsource

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// runCommand is overridable in tests to avoid touching real hddtemp/
// smartctl/lsblk binaries.
var runCommand = func(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

var (
	hddtempRe  = regexp.MustCompile(`^([0-9]+)`)
	smartctlRe = regexp.MustCompile(`(?m)^\s*194\s+\S.*\s([0-9]+)\s*$`)
	lsblkRe    = regexp.MustCompile(`^(\S+)\s+(\S*)$`)
)

// HDDSource reads a hard disk's temperature via hddtemp if present, else
// falls back to the SMART attribute 194 ("Temperature_Celsius") reported
// by smartctl. It remembers which method worked last time, so the
// unavailable tool isn't probed again on every sample.
type HDDSource struct {
	Device string

	mu     sync.Mutex
	method int // 0 = unknown, 1 = hddtemp, 2 = smartctl
}

func (s *HDDSource) Read(ctx context.Context) (float64, bool) {
	s.mu.Lock()
	method := s.method
	s.mu.Unlock()

	switch method {
	case 1:
		if v, ok := s.readHddtemp(ctx); ok {
			return v, true
		}
	case 2:
		if v, ok := s.readSmartctl(ctx); ok {
			return v, true
		}
	}

	if v, ok := s.readHddtemp(ctx); ok {
		s.setMethod(1)
		return v, true
	}
	if v, ok := s.readSmartctl(ctx); ok {
		s.setMethod(2)
		return v, true
	}
	s.setMethod(0)
	return 0, false
}

func (s *HDDSource) setMethod(m int) {
	s.mu.Lock()
	s.method = m
	s.mu.Unlock()
}

func (s *HDDSource) readHddtemp(ctx context.Context) (float64, bool) {
	out, err := runCommand(ctx, "sudo", "-n", "hddtemp", "-n", "-u", "C", s.Device)
	if err != nil {
		return 0, false
	}
	m := hddtempRe.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(v), true
}

func (s *HDDSource) readSmartctl(ctx context.Context) (float64, bool) {
	out, err := runCommand(ctx, "sudo", "-n", "smartctl", "-A", s.Device)
	if err != nil {
		return 0, false
	}
	m := smartctlRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return float64(v), true
}

// DiscoverHDDs lists internal SATA block devices with temperature
// information, via "lsblk -S -d -l -n -o NAME,TRAN".
func DiscoverHDDs(ctx context.Context) []string {
	out, err := runCommand(ctx, "lsblk", "-S", "-d", "-l", "-n", "-o", "NAME,TRAN")
	if err != nil {
		return nil
	}
	var devices []string
	for _, line := range strings.Split(out, "\n") {
		m := lsblkRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if m[2] != "sata" {
			continue
		}
		devices = append(devices, "/dev/"+m[1])
	}
	return devices
}
