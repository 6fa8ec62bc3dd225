// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves the host's Prometheus metrics, health probes
// and JSON snapshots of plugin state over HTTP.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// readHeaderTimeout bounds slow clients.
const readHeaderTimeout = 10 * time.Second

// ReadinessChecker reports whether the host accepts work.
type ReadinessChecker func() bool

// Registration adds a package's collectors to the server's registry.
type Registration func(prometheus.Registerer)

// Snapshot produces the JSON body of a snapshot endpoint.
type Snapshot func() any

// Server exposes /metrics, /healthz/liveness, /healthz/readiness and any
// snapshot endpoints added with HandleJSON.
type Server struct {
	addr     string
	registry *prometheus.Registry
	ready    ReadinessChecker

	mu        sync.Mutex
	snapshots map[string]Snapshot
	listener  net.Listener
	http      *http.Server
	running   atomic.Bool
}

// NewServer creates a server listening on addr ("host:port"; port 0 picks
// a free port). Metrics go to a private registry holding the Go and process
// collectors plus every registration. A nil ready counts as always ready.
func NewServer(addr string, ready ReadinessChecker, registrations ...Registration) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, register := range registrations {
		register(registry)
	}
	return &Server{
		addr:      addr,
		registry:  registry,
		ready:     ready,
		snapshots: make(map[string]Snapshot),
	}
}

// Registry returns the server's metric registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// HandleJSON serves the value returned by snap as JSON under pattern.
// Endpoints added after Start are not served.
func (s *Server) HandleJSON(pattern string, snap Snapshot) {
	s.mu.Lock()
	s.snapshots[pattern] = snap
	s.mu.Unlock()
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	for pattern, snap := range s.snapshots {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, snap())
		})
	}
	return mux
}

// Start listens and serves in the background. The returned channel
// receives a serve failure, if any, and is closed once serving ends.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	srv := &http.Server{Handler: s.mux(), ReadHeaderTimeout: readHeaderTimeout}
	s.listener = listener
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("observability server listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully. Stopping a server that is not
// running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		// Still running; a later Stop may retry.
		s.running.Store(true)
		return oops.In("observability").With("operation", "shutdown").Wrap(err)
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || s.ready() {
		writeText(w, http.StatusOK, "ok")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "not ready")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	//nolint:errcheck // the client may have gone away
	w.Write([]byte(body + "\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // the client may have gone away
	w.Write(append(data, '\n'))
}
