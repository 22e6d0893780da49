// Package rpcserver exposes the Daemon's operator surface (version,
// forcerun, getplan, cleanhosts, getinfo, getmean) as a small
// JSON-over-HTTP API, one mux.Router route per method.
package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Version is assigned by cmd/vmcad at startup from its own appVersion,
// matching version()'s contract.
var Version = "dev"

// Daemon is the subset of *daemon.Daemon the RPC surface calls. Declared
// locally to avoid a direct import cycle concern and to keep the handler
// set testable against a fake.
type Daemon interface {
	ForceRun() (bool, string)
	CleanHosts(hosts []string, overrideFixed, useEmpty bool) (bool, string)
	GetMean(override bool) (bool, string)
	GetPlan() string
	DumpData() string
}

// Server wraps a Daemon behind the RPC surface.
type Server struct {
	daemon Daemon
}

// New builds a Server bound to d.
func New(d Daemon) *Server {
	return &Server{daemon: d}
}

// Router returns the configured *mux.Router, one route per RPC method.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/version", s.version).Methods("GET")
	api.HandleFunc("/forcerun", s.forcerun).Methods("POST")
	api.HandleFunc("/getplan", s.getplan).Methods("GET")
	api.HandleFunc("/cleanhosts", s.cleanhosts).Methods("POST")
	api.HandleFunc("/getinfo", s.getinfo).Methods("GET")
	api.HandleFunc("/getmean", s.getmean).Methods("POST")

	return r
}

type result struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, result{OK: true, Text: Version})
}

func (s *Server) forcerun(w http.ResponseWriter, r *http.Request) {
	ok, text := s.daemon.ForceRun()
	respondJSON(w, http.StatusOK, result{OK: ok, Text: text})
}

func (s *Server) getplan(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, result{OK: true, Text: s.daemon.GetPlan()})
}

type cleanHostsRequest struct {
	Hosts    []string `json:"hosts"`
	Force    bool     `json:"force"`
	UseEmpty bool     `json:"use_empty"`
}

func (s *Server) cleanhosts(w http.ResponseWriter, r *http.Request) {
	var req cleanHostsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, result{OK: false, Text: "invalid request body: " + err.Error()})
		return
	}
	ok, text := s.daemon.CleanHosts(req.Hosts, req.Force, req.UseEmpty)
	respondJSON(w, http.StatusOK, result{OK: ok, Text: text})
}

func (s *Server) getinfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, result{OK: true, Text: s.daemon.DumpData()})
}

type getMeanRequest struct {
	Override bool `json:"override"`
}

func (s *Server) getmean(w http.ResponseWriter, r *http.Request) {
	var req getMeanRequest
	// An absent/empty body is treated as override=false, not an error:
	// getmean(override) in the original takes a single optional argument.
	_ = json.NewDecoder(r.Body).Decode(&req)
	ok, text := s.daemon.GetMean(req.Override)
	respondJSON(w, http.StatusOK, result{OK: ok, Text: text})
}
