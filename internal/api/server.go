// Package api exposes the engine to presentation-layer consumers over
// HTTP: versioned statistics snapshots, the recent-packet list, and
// atomic filter installation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"PacketScope/internal/filter"
	"PacketScope/internal/packetlist"
	"PacketScope/internal/pump"
	"PacketScope/internal/stats"
)

// Server wires the HTTP routes to the aggregator and packet list.
type Server struct {
	agg    *stats.Aggregator
	list   *packetlist.List
	pmp    *pump.Pump // optional, for the transient error counter
	router *mux.Router
}

// NewServer creates the API surface. pmp may be nil when no capture loop
// is running (tests, offline analysis).
func NewServer(agg *stats.Aggregator, list *packetlist.List, pmp *pump.Pump) *Server {
	s := &Server{agg: agg, list: list, pmp: pmp, router: mux.NewRouter()}
	s.router.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/filter", s.handleStatsFilter).Methods("PUT")
	s.router.HandleFunc("/api/v1/packets", s.handlePackets).Methods("GET")
	s.router.HandleFunc("/api/v1/packets/filter", s.handleListFilter).Methods("PUT")
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

type snapshotResponse struct {
	stats.Snapshot
	TransientErrors uint64 `json:"transient_errors"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	resp := snapshotResponse{Snapshot: s.agg.Snapshot()}
	if s.pmp != nil {
		resp.TransientErrors = s.pmp.TransientErrors()
	}
	writeJSON(w, http.StatusOK, resp)
}

type packetsResponse struct {
	Version uint64             `json:"version"`
	Packets []packetlist.Entry `json:"packets"`
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	version, entries := s.list.Snapshot()
	writeJSON(w, http.StatusOK, packetsResponse{Version: version, Packets: entries})
}

type filterRequest struct {
	Filter string `json:"filter"`
}

type filterErrorResponse struct {
	Error  string `json:"error"`
	Offset int    `json:"offset"`
}

func (s *Server) handleStatsFilter(w http.ResponseWriter, r *http.Request) {
	s.installFilter(w, r, s.agg.SetFilter)
}

func (s *Server) handleListFilter(w http.ResponseWriter, r *http.Request) {
	s.installFilter(w, r, s.list.SetFilter)
}

// installFilter compiles the requested filter and installs it only on
// success, so a bad expression leaves the previously active filter
// untouched. An empty filter string clears the filter.
func (s *Server) installFilter(w http.ResponseWriter, r *http.Request, install func(filter.Expr)) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, filterErrorResponse{Error: "invalid request body"})
		return
	}

	text := strings.TrimSpace(req.Filter)
	if text == "" {
		install(nil)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "filter": ""})
		return
	}

	expr, err := filter.Parse(text)
	if err != nil {
		resp := filterErrorResponse{Error: err.Error()}
		var perr *filter.ParseError
		if errors.As(err, &perr) {
			resp.Offset = perr.Offset
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	install(expr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "filter": text})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("failed to encode API response")
	}
}
