package export

import (
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"PacketScope/internal/model"
	"PacketScope/internal/stats"
)

func TestWriteRoundTrip(t *testing.T) {
	agg := stats.New(stats.Config{BucketWidth: time.Second, Retention: 60})
	agg.Observe(model.Event{Packet: &model.Packet{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SrcIP:     net.ParseIP("10.0.0.1").To4(),
		DstIP:     net.ParseIP("8.8.8.8").To4(),
		Protocol:  model.ProtoTCP,
		Length:    60,
		Transport: &model.Transport{Kind: model.TransportTCP, SrcPort: 1234, DstPort: 80},
	}})
	snap := agg.Snapshot()

	path, err := Write(snap, t.TempDir())
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read exported file: %v", err)
	}
	var got stats.Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("exported file is not valid JSON: %v", err)
	}
	if got.Version != snap.Version || len(got.Buckets) != 1 || got.Buckets[0].Packets != 1 {
		t.Errorf("exported snapshot = %+v, want %+v", got, snap)
	}
	if len(got.ByProtocol) != 1 || got.ByProtocol[0].Key != "tcp" {
		t.Errorf("by_protocol = %+v", got.ByProtocol)
	}
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/exports"
	if _, err := Write(stats.Snapshot{}, dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}
