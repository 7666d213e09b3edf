package scanner

import (
	"strings"
	"time"
)

// DefaultIdleFlush is the inter-character gap after which a non-empty
// buffer is treated as a complete barcode. Scanners present a barcode as
// a rapid keystroke burst, so a long gap is a reliable frame boundary for
// devices that never send a trailing Enter. Tuned against real hardware;
// override per config if a scanner needs more slack.
const DefaultIdleFlush = 500 * time.Millisecond

// Assembler folds a stream of decoded characters into complete barcodes.
// It frames on the terminator character when one arrives, or on an idle
// gap when it doesn't. Not safe for concurrent use; each device reader
// owns exactly one.
type Assembler struct {
	buf      strings.Builder
	lastChar time.Time
	idle     time.Duration
	now      func() time.Time
}

// NewAssembler returns an Assembler with the given idle-flush threshold.
// A zero threshold selects DefaultIdleFlush.
func NewAssembler(idle time.Duration) *Assembler {
	if idle <= 0 {
		idle = DefaultIdleFlush
	}
	return &Assembler{idle: idle, now: time.Now}
}

// Feed accepts one decoded character. It returns a completed barcode when
// the character is the terminator and the buffer is non-empty; a
// terminator against an empty buffer is a no-op.
func (a *Assembler) Feed(ch rune) (string, bool) {
	if ch == Terminator {
		return a.take()
	}
	a.buf.WriteRune(ch)
	a.lastChar = a.now()
	return "", false
}

// FlushIdle emits the buffer as a completed barcode if it is non-empty
// and no character has arrived within the idle threshold. Callers run it
// on every read timeout; against an empty buffer it never emits, so a
// flushed barcode is emitted exactly once.
func (a *Assembler) FlushIdle() (string, bool) {
	if a.buf.Len() == 0 {
		return "", false
	}
	if a.now().Sub(a.lastChar) <= a.idle {
		return "", false
	}
	return a.take()
}

func (a *Assembler) take() (string, bool) {
	if a.buf.Len() == 0 {
		return "", false
	}
	code := a.buf.String()
	a.buf.Reset()
	return code, true
}
