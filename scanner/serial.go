package scanner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Serial reads scanners attached over a serial line (or USB-CDC bridge)
// that emit barcode characters terminated by CR/LF.
type Serial struct {
	port *serial.Port
	asm  *Assembler
	buf  []byte
}

// NewSerial opens the given serial device.
func NewSerial(device string, baud int, idleFlush, readTimeout time.Duration) (*Serial, error) {
	if baud == 0 {
		baud = 9600
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}

	return &Serial{
		port: port,
		asm:  NewAssembler(idleFlush),
		buf:  make([]byte, 64),
	}, nil
}

// Read implements BarcodeReader.Read.
func (s *Serial) Read(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := s.port.Read(s.buf)
		if err != nil && err != io.EOF {
			// Anything past a timeout means the port itself went away.
			return "", fmt.Errorf("%w: %v", ErrDeviceGone, err)
		}
		if n == 0 {
			// Read timeout; quiet line, check the idle flush.
			if code, ok := s.asm.FlushIdle(); ok {
				return code, nil
			}
			continue
		}

		for _, b := range s.buf[:n] {
			r := rune(b)
			if r == '\r' {
				r = Terminator
			}
			if code, ok := s.asm.Feed(r); ok {
				return code, nil
			}
		}
	}
}

// Close implements BarcodeReader.Close.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
