package scanner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kenshaw/evdev"
)

// Evdev reads barcode scanners the kernel exposes as keyboard input
// devices (/dev/input/eventN). Used when the scanner is already bound to
// the input layer and raw endpoint access isn't wanted.
type Evdev struct {
	device      *evdev.Evdev
	asm         *Assembler
	readTimeout time.Duration
}

// NewEvdev opens the given input event device.
func NewEvdev(device string, idleFlush, readTimeout time.Duration) (*Evdev, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", device, err)
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	log.Printf("Opened evdev scanner %s: %s (vendor 0x%04x, product 0x%04x)",
		device, dev.Name(), dev.ID().Vendor, dev.ID().Product)

	return &Evdev{
		device:      dev,
		asm:         NewAssembler(idleFlush),
		readTimeout: readTimeout,
	}, nil
}

// Read implements BarcodeReader.Read. Key-down events accumulate into the
// assembler; Enter terminates, and a quiet read interval flushes a
// terminator-less burst.
func (e *Evdev) Read(ctx context.Context) (string, error) {
	ch := e.device.Poll(ctx)
	idle := time.NewTimer(e.readTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-idle.C:
			if code, ok := e.asm.FlushIdle(); ok {
				return code, nil
			}
			idle.Reset(e.readTimeout)

		case event := <-ch:
			if event == nil {
				return "", fmt.Errorf("%w: evdev channel closed", ErrDeviceGone)
			}

			if _, isKey := event.Type.(evdev.KeyType); !isKey || event.Value != 1 {
				continue
			}

			var r rune
			if event.Type == evdev.KeyEnter {
				r = Terminator
			} else {
				s := evdev.KeyType(event.Code).String()
				if len(s) != 1 {
					continue // modifier or unsupported key
				}
				r = rune(s[0])
			}

			if code, ok := e.asm.Feed(r); ok {
				return code, nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.readTimeout)
		}
	}
}

// Close implements BarcodeReader.Close.
func (e *Evdev) Close() error {
	if e.device == nil {
		return nil
	}
	return e.device.Close()
}
