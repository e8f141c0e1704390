// Package serialport owns the host-side UART transport: opening and
// configuring the fixed 9600-8N1 link to the MCU, and the 16550-class
// auto-discovery walk over /sys/class/tty used when no port is
// configured. The ioctl-level plumbing (termios, open flags) comes from
// github.com/daedaluz/goserial.
package serialport

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goserial "github.com/daedaluz/goserial"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
)

// Port is the minimal transport surface the MCU link needs: a blocking
// byte reader, a writer that flushes immediately, and a closer that
// unblocks any in-flight read (how shutdown interrupts the reader).
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// sysClassTTY is the sysfs directory scanned for candidate UARTs;
// overridable in tests.
var sysClassTTY = "/sys/class/tty"

// port16550A is the Linux kernel's PORT_16550A serial_core driver-type
// constant, as read from a tty's "type" sysfs attribute.
const port16550A = 4

// Open configures and opens name at the fixed 9600-8N1 framing the MCU
// protocol requires. Callers that already know the device
// path (pmc_port configured) call this directly; candidates returned by
// Discover are opened with it one by one by the caller.
func Open(name string) (Port, error) {
	p, err := goserial.Open(name, goserial.NewOptions())
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "serialport.Open", err)
	}
	attrs := &goserial.Termios{}
	attrs.MakeRaw()
	attrs.Cflag = goserial.B9600 | goserial.CS8 | goserial.CREAD | goserial.CLOCAL
	if err := p.SetAttr(goserial.TCSANOW, attrs); err != nil {
		_ = p.Close()
		return nil, errs.Wrap(errs.Transport, "serialport.Open", err)
	}
	return p, nil
}

// Discover enumerates /sys/class/tty candidates whose driver reports a
// 16550-class UART (serial_core "type" == PORT_16550A) and which are not
// currently acting as an active OS console, in directory-listing order.
// It returns device paths under /dev, not yet opened.
func Discover() ([]string, error) {
	entries, err := os.ReadDir(sysClassTTY)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "serialport.Discover", err)
	}
	var candidates []string
	for _, e := range entries {
		dir := filepath.Join(sysClassTTY, e.Name())
		if !isDir(dir) {
			continue
		}
		if !hasDriverType(dir, port16550A) {
			continue
		}
		if !isNotActiveConsole(dir) {
			continue
		}
		candidates = append(candidates, filepath.Join("/dev", e.Name()))
	}
	return candidates, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func hasDriverType(dir string, want int) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "type"))
	if err != nil {
		return false
	}
	line := firstLine(raw)
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return false
	}
	return v == want
}

// isNotActiveConsole requires the "console" sysfs attribute to exist
// and its (upper-cased) content to contain "N", the
// not-an-active-console marker.
func isNotActiveConsole(dir string) bool {
	f, err := os.Open(filepath.Join(dir, "console"))
	if err != nil {
		return false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false
	}
	return strings.Contains(strings.ToUpper(sc.Text()), "N")
}

func firstLine(raw []byte) string {
	if i := strings.IndexByte(string(raw), '\n'); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}
