// Package pump runs the capture loop: it pulls raw frames from a Source,
// decodes them, and fans the result out to every registered consumer. The
// pump never filters; consumers (live list vs. aggregate stats) may run
// different filters over the same stream.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"PacketScope/internal/decode"
	"PacketScope/internal/model"
)

// Source is the capture collaborator: something that blocks until it can
// yield one raw frame with its arrival timestamp. Receive must honor
// context cancellation so shutdown stays responsive. A returned
// TransientError keeps the loop running; any other error is fatal.
type Source interface {
	Receive(ctx context.Context) (model.Frame, error)
	Close() error
}

// TransientError marks a capture hiccup the loop should survive.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient capture error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the pump counts it and keeps going.
func Transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Pump owns the receive loop for one Source.
type Pump struct {
	source    Source
	consumers []model.Consumer
	transient atomic.Uint64
}

// New creates a pump forwarding to the given consumers.
func New(source Source, consumers ...model.Consumer) *Pump {
	return &Pump{source: source, consumers: consumers}
}

// Run blocks until the context is cancelled or the source fails fatally.
// Cancellation is a clean stop and returns nil; a fatal source error is
// returned wrapped.
func (p *Pump) Run(ctx context.Context) error {
	log.Info("capture pump started")
	for {
		frame, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("capture pump stopping")
				return nil
			}
			if IsTransient(err) {
				p.transient.Add(1)
				log.WithError(err).Debug("transient capture error, continuing")
				continue
			}
			return fmt.Errorf("capture source failed: %w", err)
		}

		ev := model.Event{RawLen: len(frame.Data)}
		pkt, derr := decode.Decode(frame.Data, frame.Timestamp)
		if derr != nil {
			ev.Err = derr
		} else {
			ev.Packet = pkt
		}
		for _, c := range p.consumers {
			c.Observe(ev)
		}
	}
}

// TransientErrors returns how many transient source errors the loop has
// absorbed.
func (p *Pump) TransientErrors() uint64 { return p.transient.Load() }
