// Package packetlist keeps a bounded ring of the most recent packets for
// display, filtered independently of the statistics aggregator so the
// live table and the aggregate view can show different slices of the same
// stream.
package packetlist

import (
	"sync"
	"time"

	"PacketScope/internal/filter"
	"PacketScope/internal/model"
)

const defaultCapacity = 1000

// Entry is one display row, already rendered to presentation-friendly
// fields.
type Entry struct {
	Time     time.Time `json:"time"`
	SrcIP    string    `json:"src_ip"`
	DstIP    string    `json:"dst_ip"`
	Protocol string    `json:"protocol"`
	SrcPort  uint16    `json:"src_port,omitempty"`
	DstPort  uint16    `json:"dst_port,omitempty"`
	Length   uint16    `json:"length"`
	TTL      uint8     `json:"ttl"`
}

// List is a bounded, filterable ring of recent packets.
type List struct {
	mu       sync.Mutex
	capacity int
	active   filter.Expr
	entries  []Entry
	version  uint64
	now      func() time.Time
}

// New creates a list holding at most capacity entries.
func New(capacity int) *List {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &List{capacity: capacity, now: time.Now}
}

// Observe implements model.Consumer. Decode errors are not displayable
// rows; the aggregator counts those.
func (l *List) Observe(ev model.Event) {
	if ev.Packet == nil {
		return
	}
	p := ev.Packet

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil && !l.active.Eval(p, l.now()) {
		return
	}

	entry := Entry{
		Time:     p.Timestamp,
		SrcIP:    p.SrcIP.String(),
		DstIP:    p.DstIP.String(),
		Protocol: model.ProtocolName(p.Protocol),
		Length:   p.Length,
		TTL:      p.TTL,
	}
	if t := p.Transport; t != nil && t.Kind != model.TransportICMP {
		entry.SrcPort = t.SrcPort
		entry.DstPort = t.DstPort
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	l.version++
}

// SetFilter atomically installs expr (nil clears the filter) and empties
// the list: rows admitted by the old filter must not appear under the new
// one.
func (l *List) SetFilter(expr filter.Expr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = expr
	l.entries = nil
	l.version++
}

// Snapshot returns the version and a copy of the entries, oldest first.
func (l *List) Snapshot() (uint64, []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version, append([]Entry(nil), l.entries...)
}
