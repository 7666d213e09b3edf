package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"
)

// HID reads raw input reports straight from a scanner's interrupt IN
// endpoint. This works for scanners that enumerate as HID keyboards but
// are grabbed away from the console, and for ones the kernel never binds
// a keyboard driver to.
type HID struct {
	usbctx *gousb.Context
	dev    *gousb.Device
	done   func()
	ep     *gousb.InEndpoint

	asm         *Assembler
	buf         []byte
	readTimeout time.Duration
}

// NewHID opens the scanner with the given USB vendor/product id and
// claims its first interrupt IN endpoint.
func NewHID(vendor, product uint16, idleFlush, readTimeout time.Duration) (*HID, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	usbctx := gousb.NewContext()

	dev, err := usbctx.OpenDeviceWithVIDPID(gousb.ID(vendor), gousb.ID(product))
	if err != nil {
		usbctx.Close()
		return nil, fmt.Errorf("open usb %04x:%04x: %w", vendor, product, err)
	}
	if dev == nil {
		usbctx.Close()
		return nil, fmt.Errorf("usb %04x:%04x: %w: not found", vendor, product, ErrDeviceGone)
	}

	// The kernel's HID keyboard driver holds the interface otherwise.
	if err := dev.SetAutoDetach(true); err != nil {
		log.Printf("usb %04x:%04x: auto-detach: %v", vendor, product, err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbctx.Close()
		return nil, fmt.Errorf("claim interface %04x:%04x: %w", vendor, product, err)
	}

	var ep *gousb.InEndpoint
	for _, desc := range intf.Setting.Endpoints {
		if desc.Direction != gousb.EndpointDirectionIn {
			continue
		}
		ep, err = intf.InEndpoint(desc.Number)
		if err != nil {
			done()
			dev.Close()
			usbctx.Close()
			return nil, fmt.Errorf("open IN endpoint %04x:%04x: %w", vendor, product, err)
		}
		break
	}
	if ep == nil {
		done()
		dev.Close()
		usbctx.Close()
		return nil, fmt.Errorf("usb %04x:%04x: no IN endpoint", vendor, product)
	}

	log.Printf("Opened HID scanner %04x:%04x on IN endpoint %d (packet size %d)",
		vendor, product, ep.Desc.Number, ep.Desc.MaxPacketSize)

	return &HID{
		usbctx:      usbctx,
		dev:         dev,
		done:        done,
		ep:          ep,
		asm:         NewAssembler(idleFlush),
		buf:         make([]byte, ep.Desc.MaxPacketSize),
		readTimeout: readTimeout,
	}, nil
}

// Read implements BarcodeReader.Read. Each pass does one bounded-timeout
// endpoint read; timeouts still run the idle flush so terminator-less
// scanners frame correctly.
func (h *HID) Read(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		rctx, cancel := context.WithTimeout(ctx, h.readTimeout)
		n, err := h.ep.ReadContext(rctx, h.buf)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if isUSBTimeout(err) {
				if code, ok := h.asm.FlushIdle(); ok {
					return code, nil
				}
				continue
			}
			if errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.ErrorIO) {
				return "", fmt.Errorf("%w: %v", ErrDeviceGone, err)
			}
			// Transient; report and try the next report.
			log.Printf("HID read: %v", err)
			continue
		}

		ch, ok := DecodeReport(h.buf[:n])
		if !ok {
			continue
		}
		if code, ok := h.asm.Feed(ch); ok {
			return code, nil
		}
	}
}

func isUSBTimeout(err error) bool {
	return errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Close implements BarcodeReader.Close.
func (h *HID) Close() error {
	if h.done != nil {
		h.done()
	}
	var err error
	if h.dev != nil {
		err = h.dev.Close()
	}
	if h.usbctx != nil {
		if cerr := h.usbctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
