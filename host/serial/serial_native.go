//go:build !wasm

package serial

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/juju/errors"
	"github.com/tarm/serial"
)

// ErrPortLocked is returned when another process holds the device
const ErrPortLocked = errors.ConstError("serial port locked")

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	lock *flock.Flock
	cfg  *Config
}

// LockPath returns the lock file guarding cfg.Device
func LockPath(cfg *Config) string {
	dir := cfg.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(filepath.Clean(cfg.Device))
	return filepath.Join(dir, "gotick"+name+".lock")
}

// Open opens a native serial port. The device is locked for the lifetime
// of the port so two tools never interleave frames on it.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.NotValidf("nil serial config")
	}

	lock, err := acquire(cfg)
	if err != nil {
		return nil, err
	}

	serialConfig := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	}

	port, err := serial.OpenPort(serialConfig)
	if err != nil {
		lock.Unlock()
		return nil, errors.Annotatef(err, "open serial port %s", cfg.Device)
	}

	return &NativePort{
		port: port,
		lock: lock,
		cfg:  cfg,
	}, nil
}

func acquire(cfg *Config) (*flock.Flock, error) {
	lock := flock.New(LockPath(cfg))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "lock %s", cfg.Device)
	}
	if !ok {
		return nil, errors.Annotatef(ErrPortLocked, "%s (lock %s)", cfg.Device, lock.Path())
	}
	return lock, nil
}

// Read reads data from the serial port
func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write writes data to the serial port
func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port and drops the device lock
func (p *NativePort) Close() error {
	var err error
	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	if p.lock != nil {
		if uerr := p.lock.Unlock(); err == nil {
			err = uerr
		}
		p.lock = nil
	}
	return errors.Trace(err)
}

// Flush flushes the serial port buffers
func (p *NativePort) Flush() error {
	return errors.Trace(p.port.Flush())
}
