package stats

import (
	"net"
	"testing"
	"time"

	"PacketScope/internal/filter"
	"PacketScope/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func pkt(ts time.Time, proto uint8, src, dst string, length uint16) model.Event {
	p := &model.Packet{
		Timestamp: ts,
		SrcIP:     net.ParseIP(src).To4(),
		DstIP:     net.ParseIP(dst).To4(),
		Protocol:  proto,
		Length:    length,
		TTL:       64,
	}
	switch proto {
	case model.ProtoTCP:
		p.Transport = &model.Transport{Kind: model.TransportTCP, SrcPort: 1000, DstPort: 80}
	case model.ProtoUDP:
		p.Transport = &model.Transport{Kind: model.TransportUDP, SrcPort: 1000, DstPort: 53}
	case model.ProtoICMP:
		p.Transport = &model.Transport{Kind: model.TransportICMP}
	}
	return model.Event{Packet: p, RawLen: int(length)}
}

func TestBucketDistribution(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})

	// Three packets per second across four intervals.
	for sec := 0; sec < 4; sec++ {
		for i := 0; i < 3; i++ {
			ts := base.Add(time.Duration(sec)*time.Second + time.Duration(i)*100*time.Millisecond)
			a.Observe(pkt(ts, model.ProtoUDP, "10.0.0.1", "10.0.0.2", 100))
		}
	}

	snap := a.Snapshot()
	if len(snap.Buckets) != 4 {
		t.Fatalf("got %d buckets, want 4", len(snap.Buckets))
	}
	for i, b := range snap.Buckets {
		wantStart := base.Add(time.Duration(i) * time.Second)
		if !b.Start.Equal(wantStart) {
			t.Errorf("bucket %d start = %v, want %v", i, b.Start, wantStart)
		}
		if b.Packets != 3 || b.Bytes != 300 {
			t.Errorf("bucket %d = %d pkts / %d bytes, want 3/300", i, b.Packets, b.Bytes)
		}
	}
}

func TestBucketGapsAndEviction(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 5})

	a.Observe(pkt(base, model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	// Jump three intervals ahead: two empty buckets open in between.
	a.Observe(pkt(base.Add(3*time.Second), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 20))

	snap := a.Snapshot()
	if len(snap.Buckets) != 4 {
		t.Fatalf("got %d buckets, want 4", len(snap.Buckets))
	}
	if snap.Buckets[1].Packets != 0 || snap.Buckets[2].Packets != 0 {
		t.Error("interior gap buckets should be empty")
	}

	// Advance past retention: the oldest buckets get evicted.
	a.Observe(pkt(base.Add(6*time.Second), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 30))
	snap = a.Snapshot()
	if len(snap.Buckets) != 5 {
		t.Fatalf("got %d buckets, want retention cap of 5", len(snap.Buckets))
	}
	if !snap.Buckets[0].Start.Equal(base.Add(2 * time.Second)) {
		t.Errorf("oldest bucket start = %v, want %v", snap.Buckets[0].Start, base.Add(2*time.Second))
	}
}

func TestOutOfOrderWithinRetention(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})

	a.Observe(pkt(base.Add(5*time.Second), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	a.Observe(pkt(base.Add(8*time.Second), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	// Late arrival for an interval already behind the newest bucket.
	a.Observe(pkt(base.Add(6*time.Second), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 40))

	snap := a.Snapshot()
	if snap.TooLate != 0 {
		t.Errorf("TooLate = %d, want 0", snap.TooLate)
	}
	if len(snap.Buckets) != 4 {
		t.Fatalf("got %d buckets, want 4", len(snap.Buckets))
	}
	if snap.Buckets[1].Packets != 1 || snap.Buckets[1].Bytes != 40 {
		t.Errorf("historical bucket = %d pkts / %d bytes, want 1/40", snap.Buckets[1].Packets, snap.Buckets[1].Bytes)
	}
}

func TestTooLateCounted(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})

	a.Observe(pkt(base.Add(time.Minute), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	before := a.Snapshot()

	a.Observe(pkt(base.Add(-time.Hour), model.ProtoUDP, "1.1.1.1", "2.2.2.2", 999))
	after := a.Snapshot()

	if after.TooLate != 1 {
		t.Errorf("TooLate = %d, want 1", after.TooLate)
	}
	if len(after.Buckets) != len(before.Buckets) {
		t.Fatalf("bucket count changed: %d -> %d", len(before.Buckets), len(after.Buckets))
	}
	for i := range after.Buckets {
		if after.Buckets[i] != before.Buckets[i] {
			t.Errorf("bucket %d changed: %+v -> %+v", i, before.Buckets[i], after.Buckets[i])
		}
	}
}

func TestSummaryRows(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})
	a.now = func() time.Time { return base }

	a.Observe(pkt(base, model.ProtoTCP, "10.0.0.1", "8.8.8.8", 100))
	a.Observe(pkt(base.Add(time.Second), model.ProtoTCP, "10.0.0.1", "9.9.9.9", 200))
	a.Observe(pkt(base.Add(2*time.Second), model.ProtoUDP, "10.0.0.2", "8.8.8.8", 50))

	snap := a.Snapshot()

	if len(snap.ByProtocol) != 2 {
		t.Fatalf("got %d protocol rows, want 2", len(snap.ByProtocol))
	}
	// Ordered heaviest first.
	if snap.ByProtocol[0].Key != "tcp" || snap.ByProtocol[0].Bytes != 300 || snap.ByProtocol[0].Packets != 2 {
		t.Errorf("top protocol row = %+v, want tcp 2/300", snap.ByProtocol[0])
	}
	if !snap.ByProtocol[0].FirstSeen.Equal(base) || !snap.ByProtocol[0].LastSeen.Equal(base.Add(time.Second)) {
		t.Errorf("tcp first/last seen = %v/%v", snap.ByProtocol[0].FirstSeen, snap.ByProtocol[0].LastSeen)
	}

	if len(snap.BySource) != 2 {
		t.Fatalf("got %d source rows, want 2", len(snap.BySource))
	}
	if snap.BySource[0].Key != "10.0.0.1" || snap.BySource[0].Bytes != 300 {
		t.Errorf("top source row = %+v, want 10.0.0.1 with 300 bytes", snap.BySource[0])
	}
	if len(snap.ByDestination) != 2 {
		t.Fatalf("got %d destination rows, want 2", len(snap.ByDestination))
	}
	if snap.ByDestination[0].Key != "8.8.8.8" || snap.ByDestination[0].Bytes != 150 {
		t.Errorf("top destination row = %+v, want 8.8.8.8 with 150 bytes", snap.ByDestination[0])
	}
}

func TestFilterDropsAndSwapResets(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})
	a.now = func() time.Time { return base }

	tcpOnly, err := filter.Parse("protocol = tcp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a.SetFilter(tcpOnly)

	a.Observe(pkt(base, model.ProtoTCP, "10.0.0.1", "8.8.8.8", 100))
	a.Observe(pkt(base, model.ProtoUDP, "10.0.0.2", "8.8.8.8", 50))

	snap := a.Snapshot()
	if snap.FilteredOut != 1 {
		t.Errorf("FilteredOut = %d, want 1", snap.FilteredOut)
	}
	if len(snap.ByProtocol) != 1 || snap.ByProtocol[0].Key != "tcp" {
		t.Fatalf("expected only tcp summarized, got %+v", snap.ByProtocol)
	}

	// Swap to udp-only: nothing observed under the old filter may linger.
	udpOnly, err := filter.Parse("protocol = udp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a.SetFilter(udpOnly)

	snap = a.Snapshot()
	if len(snap.ByProtocol) != 0 || len(snap.Buckets) != 0 || snap.FilteredOut != 0 {
		t.Errorf("state not reset after filter swap: %+v", snap)
	}

	a.Observe(pkt(base, model.ProtoUDP, "10.0.0.2", "8.8.8.8", 50))
	snap = a.Snapshot()
	if len(snap.ByProtocol) != 1 || snap.ByProtocol[0].Key != "udp" {
		t.Errorf("expected only udp after swap, got %+v", snap.ByProtocol)
	}
}

func TestDecodeErrorsCounted(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})

	a.Observe(pkt(base, model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	a.Observe(model.Event{Err: &model.DecodeError{Kind: model.TooShort}, RawLen: 5})
	a.Observe(model.Event{Err: &model.DecodeError{Kind: model.TooShort}, RawLen: 3})
	a.Observe(model.Event{Err: &model.DecodeError{Kind: model.MalformedHeader}, RawLen: 30})
	a.Observe(pkt(base, model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))

	snap := a.Snapshot()
	if snap.DecodeErrors["too-short"] != 2 || snap.DecodeErrors["malformed-header"] != 1 {
		t.Errorf("DecodeErrors = %v", snap.DecodeErrors)
	}
	if len(snap.Buckets) != 1 || snap.Buckets[0].Packets != 2 {
		t.Errorf("well-formed packets mis-aggregated: %+v", snap.Buckets)
	}
}

func TestSnapshotVersioning(t *testing.T) {
	a := New(Config{BucketWidth: time.Second, Retention: 60})

	s1 := a.Snapshot()
	s2 := a.Snapshot()
	if s1.Version != s2.Version {
		t.Errorf("version advanced without mutation: %d -> %d", s1.Version, s2.Version)
	}

	a.Observe(pkt(base, model.ProtoUDP, "1.1.1.1", "2.2.2.2", 10))
	s3 := a.Snapshot()
	if s3.Version == s2.Version {
		t.Error("version did not advance after mutation")
	}

	// Snapshots are copies: mutating the snapshot must not touch live state.
	s3.Buckets[0].Packets = 999
	if a.Snapshot().Buckets[0].Packets == 999 {
		t.Error("snapshot aliases live bucket state")
	}
}
