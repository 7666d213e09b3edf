package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeReader feeds barcodes from a channel and blocks otherwise, like a
// real device with nothing under the beam.
type fakeReader struct {
	codes  chan string
	errs   chan error
	closed bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		codes: make(chan string, 16),
		errs:  make(chan error, 1),
	}
}

func (f *fakeReader) Read(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-f.errs:
		return "", err
	case code := <-f.codes:
		return code, nil
	}
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

// collector gathers handled barcodes.
type collector struct {
	mu    sync.Mutex
	codes []string
}

func (c *collector) handle(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.codes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMultiplexer_ForwardsOnlyActiveSource(t *testing.T) {
	var got collector
	m := NewMultiplexer("scan1", got.handle)

	r1 := newFakeReader()
	r2 := newFakeReader()
	m.Add("scan1", r1)
	m.Add("scan2", r2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	r2.codes <- "IGNORED1"
	r1.codes <- "A100"
	r2.codes <- "IGNORED2"
	r1.codes <- "A200"

	waitFor(t, func() bool { return len(got.snapshot()) == 2 })

	codes := got.snapshot()
	if codes[0] != "A100" || codes[1] != "A200" {
		t.Errorf("forwarded %v, want [A100 A200]", codes)
	}

	cancel()
	<-done
}

func TestMultiplexer_SetActiveSwitchesSource(t *testing.T) {
	var got collector
	m := NewMultiplexer("scan1", got.handle)

	r1 := newFakeReader()
	r2 := newFakeReader()
	m.Add("scan1", r1)
	m.Add("scan2", r2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	r1.codes <- "FROM1"
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })

	m.SetActive("scan2")
	if m.Active() != "scan2" {
		t.Fatalf("Active() = %q, want scan2", m.Active())
	}

	r1.codes <- "STALE"
	r2.codes <- "FROM2"
	waitFor(t, func() bool {
		for _, c := range got.snapshot() {
			if c == "FROM2" {
				return true
			}
		}
		return false
	})

	for _, c := range got.snapshot() {
		if c == "STALE" {
			t.Error("barcode from deselected source was forwarded")
		}
	}

	cancel()
	<-done
}

func TestMultiplexer_TrimsAndDropsEmptyBarcodes(t *testing.T) {
	var got collector
	m := NewMultiplexer("scan1", got.handle)

	r1 := newFakeReader()
	m.Add("scan1", r1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	r1.codes <- "   "
	r1.codes <- "\tS123 "
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })

	if codes := got.snapshot(); codes[0] != "S123" {
		t.Errorf("forwarded %v, want [S123]", codes)
	}

	cancel()
	<-done
}

func TestMultiplexer_DeviceGoneStopsOnlyThatReader(t *testing.T) {
	var got collector
	m := NewMultiplexer("scan1", got.handle)
	m.retryWait = time.Millisecond

	r1 := newFakeReader()
	r2 := newFakeReader()
	m.Add("scan1", r1)
	m.Add("scan2", r2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	r2.errs <- fmt.Errorf("%w: unplugged", ErrDeviceGone)

	// The surviving reader still delivers.
	r1.codes <- "STILL-HERE"
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })

	cancel()
	<-done
}

func TestMultiplexer_TransientErrorKeepsReaderAlive(t *testing.T) {
	var got collector
	m := NewMultiplexer("scan1", got.handle)
	m.retryWait = time.Millisecond

	r1 := newFakeReader()
	m.Add("scan1", r1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	r1.errs <- fmt.Errorf("transient babble")
	r1.codes <- "AFTER-ERROR"
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })

	cancel()
	<-done
}

func TestMultiplexer_RunReturnsOnlyAfterAllReadersExit(t *testing.T) {
	m := NewMultiplexer("scan1", func(string) {})

	r1 := newFakeReader()
	r2 := newFakeReader()
	m.Add("scan1", r1)
	m.Add("scan2", r2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run returned while readers still blocked")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	m.Close()
	if !r1.closed || !r2.closed {
		t.Error("Close did not close all readers")
	}
}
