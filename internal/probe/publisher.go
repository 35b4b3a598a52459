// Package probe moves captured frames over NATS: a probe process close to
// the interface publishes raw frames, and an engine elsewhere consumes
// them as if they came from a local capture handle.
package probe

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"PacketScope/internal/model"
)

// wireFrame is the NATS message payload: one raw frame and its capture
// timestamp. Data is base64 in the JSON encoding.
type wireFrame struct {
	Timestamp time.Time `json:"ts"`
	Data      []byte    `json:"data"`
}

// Publisher publishes captured frames to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the NATS server.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.WithField("url", url).Info("connected to NATS server")
	return &Publisher{nc: nc, subject: subject}, nil
}

// Publish sends one frame.
func (p *Publisher) Publish(frame model.Frame) error {
	data, err := json.Marshal(wireFrame{Timestamp: frame.Timestamp, Data: frame.Data})
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Info("NATS connection drained and closed")
	}
}
