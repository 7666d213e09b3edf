package main

import (
	"goattend/eventpipe"
	"goattend/ledger"
	"goattend/mqtt"
	"goattend/scanner"
)

// Config is the main configuration structure for goattend.
type Config struct {
	// MQTT connection settings (status plane + remote source selection)
	MQTT mqtt.Config `yaml:"mqtt"`

	// Scanner devices, timing and initially active source
	Scanner scanner.Config `yaml:"scanner"`

	// Attendance database
	DB ledger.Config `yaml:"db"`

	// Scan-injection pipe (disabled when path is empty)
	Pipe eventpipe.Config `yaml:"pipe"`

	// General settings
	ClientID string `yaml:"client_id"`
	WSAddr   string `yaml:"ws_addr"` // e.g. ":5051"; empty disables the hub
}
