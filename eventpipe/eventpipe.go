// Package eventpipe injects scans through a named pipe. Writing a line
// to the pipe is equivalent to scanning that barcode on the active
// device, which makes exercising the ledger possible without hardware:
//
//	echo S123 > /tmp/goattend-scans
package eventpipe

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
)

// Config holds configuration for the scan pipe.
type Config struct {
	Path string `yaml:"path"` // path to named pipe, empty disables
}

// Handler is called with each injected barcode.
type Handler func(barcode string)

// Pipe listens for barcode lines on a named pipe.
type Pipe struct {
	path    string
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates the pipe and starts listening. Returns (nil, nil) when no
// path is configured.
func New(cfg Config, handler Handler) (*Pipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	// Recreate so a stale pipe from a previous run can't wedge opens.
	os.Remove(cfg.Path)
	if err := syscall.Mkfifo(cfg.Path, 0o666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		path:    cfg.Path,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go p.listen(ctx)
	log.Printf("Scan pipe listening on %s", cfg.Path)
	return p, nil
}

func (p *Pipe) listen(ctx context.Context) {
	defer close(p.done)

	for ctx.Err() == nil {
		// Opening read-write keeps the FIFO open across writers, so the
		// scanner loop survives each echo closing its end.
		f, err := os.OpenFile(p.path, os.O_RDWR, 0)
		if err != nil {
			log.Printf("open scan pipe: %v", err)
			return
		}

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if ctx.Err() != nil {
				break
			}
			barcode := strings.TrimSpace(sc.Text())
			if barcode == "" {
				continue
			}
			log.Printf("pipe: %s", barcode)
			p.handler(barcode)
		}
		f.Close()

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			log.Printf("scan pipe read: %v", err)
		}
	}
}

// Close stops the listener and removes the pipe.
func (p *Pipe) Close() {
	p.cancel()
	// Unblock a pending read so the listener can observe cancellation.
	if f, err := os.OpenFile(p.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		f.Write([]byte("\n"))
		f.Close()
	}
	<-p.done
	os.Remove(p.path)
}
