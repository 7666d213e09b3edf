package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceGone marks a reader error that ends that reader's loop: the
// device was unplugged or never found. The multiplexer stops the affected
// reader and leaves the others running; it does not respawn, since a
// reopen against the wrong handle risks duplicate delivery.
var ErrDeviceGone = errors.New("scanner device gone")

// BarcodeReader is the interface for all scanner implementations.
type BarcodeReader interface {
	// Read blocks until one complete barcode is read or ctx is cancelled.
	// A return of ("", nil) means no barcode this pass (e.g. timeout);
	// errors wrapping ErrDeviceGone are terminal for this reader.
	Read(ctx context.Context) (string, error)

	// Close releases any resources held by the reader.
	Close() error
}

// DeviceConfig describes one physical scanner.
type DeviceConfig struct {
	Type    string `yaml:"type"`    // "hid", "evdev", "serial"
	Tag     string `yaml:"tag"`     // source tag, e.g. "scan1"
	Vendor  uint16 `yaml:"vendor"`  // USB vendor id (hid)
	Product uint16 `yaml:"product"` // USB product id (hid)
	Device  string `yaml:"device"`  // device path (evdev, serial)
	Baud    int    `yaml:"baud"`    // baud rate (serial)
}

// Config holds the full scanner section of the daemon config.
type Config struct {
	Devices       []DeviceConfig `yaml:"devices"`
	Active        string         `yaml:"active"`          // initially active source tag
	IdleFlushMs   int            `yaml:"idle_flush_ms"`   // 0 = 500ms default
	ReadTimeoutMs int            `yaml:"read_timeout_ms"` // 0 = 1s default
}

// DefaultReadTimeout bounds each blocking device read so readers notice
// cancellation and drive the idle flush even when no bytes arrive.
const DefaultReadTimeout = time.Second

// IdleFlush returns the configured idle-flush threshold.
func (c Config) IdleFlush() time.Duration {
	if c.IdleFlushMs <= 0 {
		return DefaultIdleFlush
	}
	return time.Duration(c.IdleFlushMs) * time.Millisecond
}

// ReadTimeout returns the configured per-read timeout.
func (c Config) ReadTimeout() time.Duration {
	if c.ReadTimeoutMs <= 0 {
		return DefaultReadTimeout
	}
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// New creates a BarcodeReader for one configured device.
func New(dev DeviceConfig, idleFlush, readTimeout time.Duration) (BarcodeReader, error) {
	switch dev.Type {
	case "hid", "":
		return NewHID(dev.Vendor, dev.Product, idleFlush, readTimeout)
	case "evdev":
		return NewEvdev(dev.Device, idleFlush, readTimeout)
	case "serial":
		return NewSerial(dev.Device, dev.Baud, idleFlush, readTimeout)
	default:
		return nil, fmt.Errorf("unknown scanner type %q", dev.Type)
	}
}
