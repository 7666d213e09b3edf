package scanner

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

// Handler receives each accepted barcode. The multiplexer trims the value
// and drops empties before calling it, so handlers always see a non-empty
// identifier.
type Handler func(barcode string)

// Multiplexer runs one reader per attached scanner and forwards barcodes
// from whichever source is currently active. Multiple scanners may be
// attached for hardware-compatibility reasons, but only one logical input
// stream drives the ledger at a time; the operator picks which.
type Multiplexer struct {
	handler Handler

	mu      sync.RWMutex
	active  string
	readers []namedReader

	// retryWait spaces out transient read errors. Shortened in tests.
	retryWait time.Duration
}

type namedReader struct {
	tag    string
	reader BarcodeReader
}

// NewMultiplexer creates a Multiplexer forwarding to handler. The active
// tag selects the initially accepted source; it may name a reader that is
// never added, in which case everything is discarded until SetActive.
func NewMultiplexer(active string, handler Handler) *Multiplexer {
	return &Multiplexer{
		handler:   handler,
		active:    active,
		retryWait: time.Second,
	}
}

// Add registers an already-open reader under a source tag.
func (m *Multiplexer) Add(tag string, r BarcodeReader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers = append(m.readers, namedReader{tag: tag, reader: r})
}

// Open builds and registers a reader for every configured device.
// A device that fails to open is reported and skipped; the remaining
// scanners still run.
func (m *Multiplexer) Open(cfg Config) {
	for _, dev := range cfg.Devices {
		r, err := New(dev, cfg.IdleFlush(), cfg.ReadTimeout())
		if err != nil {
			log.Printf("%s: %v", dev.Tag, err)
			continue
		}
		m.Add(dev.Tag, r)
	}
}

// SetActive switches which source's barcodes are forwarded. Takes effect
// on the next completed barcode; an in-flight decode may still be judged
// against the old value, which is acceptable for a rare operator action.
func (m *Multiplexer) SetActive(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Printf("Active scanner: %s", tag)
	m.active = tag
}

// Active returns the currently accepted source tag.
func (m *Multiplexer) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Run starts every registered reader and blocks until all of them have
// exited after ctx is cancelled (or died on their own). Cancellation is
// observed within one read-timeout interval per reader.
func (m *Multiplexer) Run(ctx context.Context) {
	m.mu.RLock()
	readers := make([]namedReader, len(m.readers))
	copy(readers, m.readers)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, nr := range readers {
		wg.Add(1)
		go func(nr namedReader) {
			defer wg.Done()
			m.readLoop(ctx, nr)
		}(nr)
	}
	wg.Wait()
}

func (m *Multiplexer) readLoop(ctx context.Context, nr namedReader) {
	for {
		code, err := nr.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, ErrDeviceGone) {
				log.Printf("%s: %v", nr.tag, err)
				return
			}
			log.Printf("%s: read: %v", nr.tag, err)
			time.Sleep(m.retryWait)
			continue
		}

		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}

		if nr.tag != m.Active() {
			continue
		}

		log.Printf("%s: %s", nr.tag, code)
		m.handler(code)
	}
}

// Close closes every registered reader. Call after Run has returned.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nr := range m.readers {
		if err := nr.reader.Close(); err != nil {
			log.Printf("%s: close: %v", nr.tag, err)
		}
	}
}
