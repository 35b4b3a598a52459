package probe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"PacketScope/internal/model"
	"PacketScope/internal/pump"
)

// StreamSource consumes frames published by a Publisher and implements
// pump.Source, so a remote probe plugs into the pipeline exactly like a
// local capture handle.
type StreamSource struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
}

// OpenStream subscribes to the given subject.
func OpenStream(url, subject string) (*StreamSource, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	msgs := make(chan *nats.Msg, 1024)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		nc.Close()
		return nil, err
	}
	log.WithFields(log.Fields{"url": url, "subject": subject}).Info("subscribed to frame stream")
	return &StreamSource{nc: nc, sub: sub, msgs: msgs}, nil
}

// Receive blocks for the next published frame. A payload that does not
// unmarshal is a transient error: one bad message should not take the
// pipeline down.
func (s *StreamSource) Receive(ctx context.Context) (model.Frame, error) {
	select {
	case <-ctx.Done():
		return model.Frame{}, ctx.Err()
	case msg := <-s.msgs:
		var wf wireFrame
		if err := json.Unmarshal(msg.Data, &wf); err != nil {
			return model.Frame{}, pump.Transient(fmt.Errorf("bad frame payload: %w", err))
		}
		return model.Frame{Data: wf.Data, Timestamp: wf.Timestamp}, nil
	}
}

// Close unsubscribes and closes the connection.
func (s *StreamSource) Close() error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
