/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshtime/clocksync/node"
)

// Server is the running daemon's control-plane HTTP handler: GET /status
// for "clocksync status", POST /ftsp, /gtsp, /pulsesync for the on/off
// subcommands, POST /gtsp/trigger for "gtsp trigger add|rm", and GET
// /metrics for Prometheus scraping.
type Server struct {
	mu   sync.Mutex
	ctx  context.Context
	node *node.Node
}

// NewServer builds a Server for n. ctx is the base context every toggled-on
// engine is resumed with; it's typically the same context the daemon's main
// loop runs under, so a toggle can't outlive the process that issued it.
func NewServer(ctx context.Context, n *node.Node) *Server {
	return &Server{ctx: ctx, node: n}
}

// Handler returns the full mux, including /metrics if metricsHandler is
// non-nil (typically promhttp.HandlerFor bound to the daemon's registry).
func (s *Server) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ftsp", s.handleToggle(s.node.FTSP))
	mux.HandleFunc("/gtsp", s.handleToggle(s.node.GTSP))
	mux.HandleFunc("/gtsp/trigger", s.handleGTSPTrigger)
	mux.HandleFunc("/pulsesync", s.handleToggle(s.node.PulseSync))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.node.Clock.Now()
	status := Status{
		NodeID: s.node.ID,

		FTSPEnabled: s.node.FTSP.Enabled(),
		FTSPSynced:  s.node.FTSP.IsSynced(),

		GTSPEnabled:   s.node.GTSP.Enabled(),
		GTSPSynced:    s.node.GTSP.IsSynced(),
		GTSPNeighbors: s.node.GTSP.NeighborCount(),

		PulseSyncEnabled: s.node.PulseSync.Enabled(),
		PulseSyncSynced:  s.node.PulseSync.IsSynced(),

		Local:   now.Local,
		Global:  now.Global,
		RatePPB: now.Rate * 1e9,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleToggle(e node.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Query().Get("state") {
		case "on":
			e.Resume(s.ctx)
		case "off":
			e.Pause()
		default:
			http.Error(w, `state must be "on" or "off"`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleGTSPTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	addr, err := strconv.ParseUint(r.URL.Query().Get("addr"), 10, 16)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid addr: %v", err), http.StatusBadRequest)
		return
	}
	switch r.URL.Query().Get("op") {
	case "add":
		s.node.GTSP.Trigger(uint16(addr))
	case "rm":
		s.node.GTSP.Untrigger(uint16(addr))
	default:
		http.Error(w, `op must be "add" or "rm"`, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListenAndServe blocks serving the control+metrics API on addr.
func (s *Server) ListenAndServe(addr string, metricsHandler http.Handler) error {
	return http.ListenAndServe(addr, s.Handler(metricsHandler))
}
