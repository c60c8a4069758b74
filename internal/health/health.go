// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package health is the small gorilla/mux HTTP surface both daemons bind
// next to their domain work: /healthz (driven by injected checks) and
// /metrics (the Prometheus registry from internal/metrics). Grounded on
// cmd/cc-backend/server.go's router/middleware/listen/shutdown idiom,
// narrowed to the two endpoints these daemons need instead of the
// teacher's full web+GraphQL surface.
package health

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
)

// Check is one named dependency probe, e.g. a backend.Driver.HealthCheck or
// a store ping. Name appears in the JSON body so an operator can tell which
// dependency failed.
type Check struct {
	Name string
	Func func(ctx context.Context) error
}

// Server binds /healthz and /metrics on addr.
type Server struct {
	addr    string
	checks  []Check
	metrics http.Handler
	srv     *http.Server
}

// New builds a health server. metrics may be nil, in which case /metrics
// answers 404 (used by tests that don't care about Prometheus wiring).
func New(addr string, metrics http.Handler, checks ...Check) *Server {
	return &Server{addr: addr, checks: checks, metrics: metrics}
}

func (s *Server) router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	return handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %dms)", params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	healthy := true
	for _, c := range s.checks {
		if err := c.Func(ctx); err != nil {
			healthy = false
			results[c.Name] = err.Error()
		} else {
			results[c.Name] = "ok"
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	if !healthy {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(rw).Encode(results)
}

// Start binds addr and builds the HTTP server without serving; Serve runs
// the serve loop. This matches cmd/cc-backend/server.go's bind-then-serve
// split (the listener is bound
// here so a caller can drop privileges between Start and the blocking
// serve loop, same as the teacher's serverStart/DropPrivileges ordering).
func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return listener, nil
}

// Serve blocks, serving on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
