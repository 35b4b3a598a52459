// Package stats maintains the rolling traffic statistics: a bounded ring
// of fixed-width throughput buckets plus per-protocol and per-host
// summary rows, updated packet by packet behind a single writer lock and
// read through versioned snapshots.
package stats

import (
	"sort"
	"sync"
	"time"

	"PacketScope/internal/filter"
	"PacketScope/internal/model"
)

const (
	defaultBucketWidth = time.Second
	defaultRetention   = 300
)

// Config sizes the throughput series.
type Config struct {
	BucketWidth time.Duration
	Retention   int
}

// Bucket aggregates everything observed in one fixed-width interval
// starting at Start.
type Bucket struct {
	Start   time.Time `json:"start"`
	Packets uint64    `json:"packets"`
	Bytes   uint64    `json:"bytes"`
}

// SummaryRow is the aggregate for one grouping key: a protocol name or a
// host address.
type SummaryRow struct {
	Key       string    `json:"key"`
	Packets   uint64    `json:"packets"`
	Bytes     uint64    `json:"bytes"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Snapshot is a consistent, read-only copy of aggregator state. Version
// is monotonic and advances only when state changed, so a polling
// consumer can skip redundant redraws.
type Snapshot struct {
	Version       uint64            `json:"version"`
	BucketWidth   time.Duration     `json:"bucket_width"`
	Buckets       []Bucket          `json:"buckets"`
	ByProtocol    []SummaryRow      `json:"by_protocol"`
	BySource      []SummaryRow      `json:"by_source"`
	ByDestination []SummaryRow      `json:"by_destination"`
	FilteredOut   uint64            `json:"filtered_out"`
	TooLate       uint64            `json:"too_late"`
	DecodeErrors  map[string]uint64 `json:"decode_errors"`
}

// Aggregator consumes the pump's event stream and maintains the
// statistics under the active filter. All mutation is serialized behind
// one mutex; filter swaps happen under the same lock so no packet is ever
// judged half by the old filter and half by the new one.
type Aggregator struct {
	mu        sync.Mutex
	width     time.Duration
	retention int
	now       func() time.Time

	activeFilter filter.Expr // nil matches everything

	buckets      []Bucket // contiguous, oldest first
	byProto      map[string]*SummaryRow
	bySrc        map[string]*SummaryRow
	byDst        map[string]*SummaryRow
	filteredOut  uint64
	tooLate      uint64
	decodeErrors map[string]uint64
	version      uint64
}

// New creates an aggregator with no filter installed.
func New(cfg Config) *Aggregator {
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = defaultBucketWidth
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Aggregator{
		width:        cfg.BucketWidth,
		retention:    cfg.Retention,
		now:          time.Now,
		byProto:      make(map[string]*SummaryRow),
		bySrc:        make(map[string]*SummaryRow),
		byDst:        make(map[string]*SummaryRow),
		decodeErrors: make(map[string]uint64),
	}
}

// Observe implements model.Consumer.
func (a *Aggregator) Observe(ev model.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Err != nil {
		a.decodeErrors[ev.Err.Kind.String()]++
		a.version++
		return
	}
	a.observePacket(ev.Packet)
}

func (a *Aggregator) observePacket(p *model.Packet) {
	if a.activeFilter != nil && !a.activeFilter.Eval(p, a.now()) {
		a.filteredOut++
		a.version++
		return
	}

	start := p.Timestamp.Truncate(a.width)
	switch {
	case len(a.buckets) == 0:
		a.buckets = append(a.buckets, Bucket{Start: start})
	case start.After(a.buckets[len(a.buckets)-1].Start):
		newest := a.buckets[len(a.buckets)-1].Start
		if int(start.Sub(newest)/a.width) >= a.retention {
			// The gap alone exceeds retention: everything held so far is
			// stale, restart the series at the new interval.
			a.buckets = append(a.buckets[:0], Bucket{Start: start})
		} else {
			for t := newest.Add(a.width); !t.After(start); t = t.Add(a.width) {
				a.buckets = append(a.buckets, Bucket{Start: t})
			}
			if excess := len(a.buckets) - a.retention; excess > 0 {
				a.buckets = a.buckets[excess:]
			}
		}
	case start.Before(a.buckets[0].Start):
		a.tooLate++
		a.version++
		return
	}

	idx := int(start.Sub(a.buckets[0].Start) / a.width)
	a.buckets[idx].Packets++
	a.buckets[idx].Bytes += uint64(p.Length)

	bump(a.byProto, model.ProtocolName(p.Protocol), p)
	bump(a.bySrc, p.SrcIP.String(), p)
	bump(a.byDst, p.DstIP.String(), p)
	a.version++
}

func bump(rows map[string]*SummaryRow, key string, p *model.Packet) {
	row, ok := rows[key]
	if !ok {
		rows[key] = &SummaryRow{
			Key:       key,
			Packets:   1,
			Bytes:     uint64(p.Length),
			FirstSeen: p.Timestamp,
			LastSeen:  p.Timestamp,
		}
		return
	}
	row.Packets++
	row.Bytes += uint64(p.Length)
	if p.Timestamp.Before(row.FirstSeen) {
		row.FirstSeen = p.Timestamp
	}
	if p.Timestamp.After(row.LastSeen) {
		row.LastSeen = p.Timestamp
	}
}

// SetFilter atomically installs expr (nil clears the filter) and resets
// all filter-derived state. Counts accumulated under the old filter must
// not leak into the new one; decode error counters are filter-independent
// and survive.
func (a *Aggregator) SetFilter(expr filter.Expr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.activeFilter = expr
	a.buckets = nil
	a.byProto = make(map[string]*SummaryRow)
	a.bySrc = make(map[string]*SummaryRow)
	a.byDst = make(map[string]*SummaryRow)
	a.filteredOut = 0
	a.tooLate = 0
	a.version++
}

// Snapshot deep-copies the current state under a short critical section.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Version:       a.version,
		BucketWidth:   a.width,
		Buckets:       append([]Bucket(nil), a.buckets...),
		ByProtocol:    sortedRows(a.byProto),
		BySource:      sortedRows(a.bySrc),
		ByDestination: sortedRows(a.byDst),
		FilteredOut:   a.filteredOut,
		TooLate:       a.tooLate,
		DecodeErrors:  make(map[string]uint64, len(a.decodeErrors)),
	}
	for k, v := range a.decodeErrors {
		snap.DecodeErrors[k] = v
	}
	return snap
}

// sortedRows flattens a summary map into a stable order: heaviest by
// bytes first, key as tiebreaker.
func sortedRows(rows map[string]*SummaryRow) []SummaryRow {
	out := make([]SummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Key < out[j].Key
	})
	return out
}
