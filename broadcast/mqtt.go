package broadcast

import (
	"encoding/json"
	"log"

	"goattend/ledger"
	"goattend/mqtt"
)

// MQTTPublisher pushes transitions to the broker as JSON. Publishing is
// asynchronous in the paho client, so a broker outage never stalls a
// scan; undelivered transitions are simply lost from the status plane
// (the ledger row is already committed).
type MQTTPublisher struct {
	client *mqtt.Client
	topic  string
}

// NewMQTTPublisher returns a publisher sending to topic.
func NewMQTTPublisher(client *mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

// Publish implements ledger.Notifier.
func (p *MQTTPublisher) Publish(t ledger.Transition) {
	payload, err := json.Marshal(t)
	if err != nil {
		log.Printf("mqtt marshal transition: %v", err)
		return
	}
	p.client.Publish(p.topic, payload)
}
