package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PacketScope/internal/model"
	"PacketScope/internal/packetlist"
	"PacketScope/internal/stats"
)

func newTestServer() (*Server, *stats.Aggregator, *packetlist.List) {
	agg := stats.New(stats.Config{BucketWidth: time.Second, Retention: 60})
	list := packetlist.New(100)
	return NewServer(agg, list, nil), agg, list
}

func tcpEvent(ts time.Time, dstPort uint16) model.Event {
	return model.Event{Packet: &model.Packet{
		Timestamp: ts,
		SrcIP:     net.ParseIP("10.0.0.1").To4(),
		DstIP:     net.ParseIP("8.8.8.8").To4(),
		Protocol:  model.ProtoTCP,
		Length:    60,
		TTL:       64,
		Transport: &model.Transport{Kind: model.TransportTCP, SrcPort: 1234, DstPort: dstPort},
	}}
}

func udpEvent(ts time.Time) model.Event {
	return model.Event{Packet: &model.Packet{
		Timestamp: ts,
		SrcIP:     net.ParseIP("10.0.0.2").To4(),
		DstIP:     net.ParseIP("8.8.8.8").To4(),
		Protocol:  model.ProtoUDP,
		Length:    80,
		TTL:       64,
		Transport: &model.Transport{Kind: model.TransportUDP, SrcPort: 5353, DstPort: 53},
	}}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, agg, _ := newTestServer()
	now := time.Now()
	agg.Observe(tcpEvent(now, 80))
	agg.Observe(udpEvent(now))

	rec := doJSON(t, srv.Router(), "GET", "/api/v1/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Version    uint64             `json:"version"`
		ByProtocol []stats.SummaryRow `json:"by_protocol"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.ByProtocol) != 2 {
		t.Errorf("by_protocol rows = %d, want 2", len(resp.ByProtocol))
	}
	if resp.Version == 0 {
		t.Error("version missing from snapshot")
	}
}

func TestSetFilterRejectsBadExpression(t *testing.T) {
	srv, agg, _ := newTestServer()

	// Install a working filter first.
	rec := doJSON(t, srv.Router(), "PUT", "/api/v1/filter", `{"filter": "protocol = tcp"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// A bad expression is rejected with a precise offset...
	rec = doJSON(t, srv.Router(), "PUT", "/api/v1/filter", `{"filter": "src-ip > 10.0.0.1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var ferr struct {
		Error  string `json:"error"`
		Offset int    `json:"offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ferr); err != nil {
		t.Fatalf("bad error body: %v", err)
	}
	if ferr.Offset != 7 || ferr.Error == "" {
		t.Errorf("error response = %+v, want offset 7 with message", ferr)
	}

	// ...and the previously installed filter keeps running.
	agg.Observe(udpEvent(time.Now()))
	if snap := agg.Snapshot(); snap.FilteredOut != 1 {
		t.Errorf("FilteredOut = %d, want 1 (tcp filter should still be active)", snap.FilteredOut)
	}
}

func TestListAndStatsFiltersAreIndependent(t *testing.T) {
	srv, agg, list := newTestServer()

	rec := doJSON(t, srv.Router(), "PUT", "/api/v1/packets/filter", `{"filter": "dst-port = 53"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	now := time.Now()
	for _, ev := range []model.Event{tcpEvent(now, 80), udpEvent(now)} {
		agg.Observe(ev)
		list.Observe(ev)
	}

	// The list only shows port-53 traffic, the stats see everything.
	rec = doJSON(t, srv.Router(), "GET", "/api/v1/packets", "")
	var packets packetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &packets); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(packets.Packets) != 1 || packets.Packets[0].DstPort != 53 {
		t.Errorf("packets = %+v, want only the DNS packet", packets.Packets)
	}

	if snap := agg.Snapshot(); snap.FilteredOut != 0 || len(snap.ByProtocol) != 2 {
		t.Errorf("stats should be unfiltered: %+v", snap)
	}
}

func TestClearFilter(t *testing.T) {
	srv, agg, _ := newTestServer()

	doJSON(t, srv.Router(), "PUT", "/api/v1/filter", `{"filter": "protocol = tcp"}`)
	rec := doJSON(t, srv.Router(), "PUT", "/api/v1/filter", `{"filter": ""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	agg.Observe(udpEvent(time.Now()))
	if snap := agg.Snapshot(); snap.FilteredOut != 0 {
		t.Errorf("FilteredOut = %d after clearing filter, want 0", snap.FilteredOut)
	}
}

func TestBadRequestBody(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := doJSON(t, srv.Router(), "PUT", "/api/v1/filter", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
