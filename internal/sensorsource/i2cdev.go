package sensorsource

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/michaelroland/wdnas-hwdaemon/internal/errs"
)

// i2cSlaveIoctl is the Linux i2c-dev request selecting the target chip
// address for subsequent read/write calls (I2C_SLAVE).
const i2cSlaveIoctl = 0x0703

// I2CDev adapts a Linux /dev/i2c-N character device to the
// tinygo.org/x/drivers I2C transaction interface, which the DIMM SPD
// temperature source reads through. One ioctl selects the slave address,
// then the write and read halves of the transaction are plain file I/O.
type I2CDev struct {
	mu sync.Mutex
	f  *os.File
}

// OpenI2C opens an i2c-dev device node, e.g. "/dev/i2c-0".
func OpenI2C(path string) (*I2CDev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.Wrap(errs.SensorUnavailable, "sensorsource.OpenI2C", err)
	}
	return &I2CDev{f: f}, nil
}

// Tx selects addr, writes w (if any), then reads len(r) bytes (if any).
func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := unix.IoctlSetInt(int(d.f.Fd()), i2cSlaveIoctl, int(addr)); err != nil {
		return errs.Wrap(errs.SensorUnavailable, "i2c.Tx", err)
	}
	if len(w) > 0 {
		if _, err := d.f.Write(w); err != nil {
			return errs.Wrap(errs.SensorUnavailable, "i2c.Tx", err)
		}
	}
	if len(r) > 0 {
		if _, err := d.f.Read(r); err != nil {
			return errs.Wrap(errs.SensorUnavailable, "i2c.Tx", err)
		}
	}
	return nil
}

// Close releases the device node.
func (d *I2CDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
