package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"goattend/broadcast"
	"goattend/eventpipe"
	"goattend/ledger"
	"goattend/mqtt"
	"goattend/scanner"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg    *Config
	mqtt   *mqtt.Client
	mux    *scanner.Multiplexer
	ledger *ledger.Ledger
	hub    *broadcast.Hub
	pipe   *eventpipe.Pipe
	db     *sql.DB
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Printf("goattend build %s\n", myBuild)

	cfgfile := flag.String("cfg", "goattend.cfg", "Config file")
	flag.Parse()

	// Load configuration
	f, err := os.Open(*cfgfile)
	if err != nil {
		log.Fatalf("Open config: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("Decode config: %v", err)
	}

	if cfg.ClientID == "" {
		log.Fatal("client_id missing in config file")
	}
	if len(cfg.Scanner.Devices) == 0 && cfg.Pipe.Path == "" {
		log.Fatal("no scanner devices or pipe configured")
	}

	// Create application context
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		cfg:    &cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Open attendance database
	app.db, err = ledger.Open(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Open attendance db: %v", err)
	}

	// Initialize MQTT (no-op when no broker configured)
	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect: app.onMQTTConnect,
		OnMessage: app.onMQTTMessage,
	})
	if err != nil {
		log.Fatalf("Init MQTT: %v", err)
	}

	// Build broadcasters and ledger
	notifiers := []ledger.Notifier{
		broadcast.NewMQTTPublisher(app.mqtt,
			fmt.Sprintf("attend/status/node/%s/scan", cfg.ClientID)),
	}
	if cfg.WSAddr != "" {
		app.hub = broadcast.NewHub()
		notifiers = append(notifiers, app.hub)
	}
	app.ledger = ledger.New(app.db, broadcast.NewMulti(notifiers...))

	// Build scanner multiplexer feeding the ledger
	app.mux = scanner.NewMultiplexer(cfg.Scanner.Active, app.onBarcode)
	app.mux.Open(cfg.Scanner)

	// Scan-injection pipe shares the same path into the ledger
	app.pipe, err = eventpipe.New(cfg.Pipe, app.onBarcode)
	if err != nil {
		log.Fatalf("Init scan pipe: %v", err)
	}

	// Start background goroutines
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Printf("MQTT connect: %v", err)
		}
	}()
	if app.hub != nil {
		go app.serveWS()
	}
	go app.pingSender()

	muxDone := make(chan struct{})
	go func() {
		app.mux.Run(ctx)
		close(muxDone)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	// Cleanup: join readers first so nothing scans into a closed ledger.
	<-muxDone
	app.mux.Close()
	if app.pipe != nil {
		app.pipe.Close()
	}
	if app.hub != nil {
		app.hub.Close()
	}
	app.mqtt.Disconnect()
	app.db.Close()

	fmt.Println("Shutdown complete")
}

// onBarcode is the single downstream callback for accepted barcodes,
// from physical scanners and the injection pipe alike.
func (app *App) onBarcode(barcode string) {
	ctx, cancel := context.WithTimeout(app.ctx, 10*time.Second)
	defer cancel()

	t, err := app.ledger.RecordScan(ctx, barcode, "", "")
	if err != nil {
		// The scan is lost for attendance purposes; no automatic retry,
		// since a retry after a partial failure could toggle the session
		// the wrong way. Keep listening.
		log.Printf("Record scan %q: %v", barcode, err)
		return
	}
	fmt.Printf("%s: %s (%s)\n", t.Action, t.Barcode, t.Status)
}

func (app *App) onMQTTConnect() {
	// Subscribe to node-specific source selection
	topic := fmt.Sprintf("attend/control/node/%s/source", app.cfg.ClientID)
	if err := app.mqtt.Subscribe(topic); err != nil {
		log.Printf("Subscribe error: %v", err)
	}
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	sourceTopic := fmt.Sprintf("attend/control/node/%s/source", app.cfg.ClientID)
	if topic == sourceTopic {
		tag := strings.TrimSpace(string(payload))
		if tag != "" {
			app.mux.SetActive(tag)
		}
	}
}

func (app *App) serveWS() {
	srv := &http.Server{Addr: app.cfg.WSAddr}
	http.Handle("/ws", app.hub)

	go func() {
		<-app.ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Printf("WebSocket hub on %s/ws", app.cfg.WSAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("WS server: %v", err)
	}
}

func (app *App) pingSender() {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			topic := fmt.Sprintf("attend/status/node/%s/ping", app.cfg.ClientID)
			app.mqtt.Publish(topic, []byte(`{"status":"ok"}`))
		}
	}
}
