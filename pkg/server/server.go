// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package server exposes the turn pipeline over HTTP: a REST surface for
// profiles, consumption, and the knowledge graph, plus an SSE stream for
// conversation turns.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/consumption"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/orchestrator"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/session"
	"go.uber.org/zap"
)

// ownerHeader carries the caller identity. Requests without it are rejected
// as unauthenticated.
const ownerHeader = "X-Heddle-Owner"

// Server is the HTTP front end.
type Server struct {
	orch        *orchestrator.Orchestrator
	switcher    *profile.Switcher
	profiles    *profile.Store
	consumption *consumption.Store
	knowledge   *knowledge.Store
	sessions    *session.Store

	httpServer *http.Server
}

// Deps are the server's collaborators. Knowledge may be nil; its endpoints
// then answer 404.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Switcher     *profile.Switcher
	Profiles     *profile.Store
	Consumption  *consumption.Store
	Knowledge    *knowledge.Store
	Sessions     *session.Store
}

// New creates a server listening on addr.
func New(addr string, d Deps) *Server {
	s := &Server{
		orch:        d.Orchestrator,
		switcher:    d.Switcher,
		profiles:    d.Profiles,
		consumption: d.Consumption,
		knowledge:   d.Knowledge,
		sessions:    d.Sessions,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams have no bounded duration
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("POST /turn", s.withOwner(s.handleTurn))
	// ":activate" shares a path segment with the id, so the mux wildcard
	// syntax cannot express it; the handler splits the suffix itself.
	mux.HandleFunc("POST /profiles/", s.withOwner(s.handleProfileAction))
	mux.HandleFunc("GET /profiles/{id}/classification", s.withOwner(s.handleClassification))
	mux.HandleFunc("POST /consumption:check", s.withOwner(s.handleConsumptionCheck))

	mux.HandleFunc("GET /sessions", s.withOwner(s.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", s.withOwner(s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.withOwner(s.handleDeleteSession))
	// ":purge" shares a segment with the id, same workaround as profiles.
	mux.HandleFunc("POST /sessions/", s.withOwner(s.handleSessionAction))

	mux.HandleFunc("GET /kg/{profile}/entities", s.withOwner(s.handleListEntities))
	mux.HandleFunc("POST /kg/{profile}/entities", s.withOwner(s.handleUpsertEntity))
	mux.HandleFunc("DELETE /kg/{profile}/entities/{id}", s.withOwner(s.handleDeleteEntity))
	mux.HandleFunc("GET /kg/{profile}/relationships", s.withOwner(s.handleListRelationships))
	mux.HandleFunc("POST /kg/{profile}/relationships", s.withOwner(s.handleUpsertRelationship))
	mux.HandleFunc("DELETE /kg/{profile}/relationships/{id}", s.withOwner(s.handleDeleteRelationship))
	mux.HandleFunc("POST /kg/{profile}/search", s.withOwner(s.handleKGSearch))
	mux.HandleFunc("GET /kg/{profile}/stats", s.withOwner(s.handleKGStats))

	return s.logRequests(withCORS(mux))
}

// withCORS answers preflight requests and marks responses for cross-origin
// browser clients. Origins are unrestricted; owner identity travels in a
// header, not cookies.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ownerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// withOwner authenticates the request and passes the owner id through.
func (s *Server) withOwner(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			writeFault(w, fault.New(fault.KindAuth, "missing %s header", ownerHeader))
			return
		}
		next(w, r, owner)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// writeFault maps a tagged error onto the HTTP status surface and emits a
// JSON error body. Rate-limit faults carry Retry-After.
func writeFault(w http.ResponseWriter, err error) {
	status := fault.HTTPStatus(err)
	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  string(fault.KindOf(err)),
	}
	if f, ok := fault.As(err); ok && f.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(f.RetryAfterSeconds))
		body["retry_after"] = f.RetryAfterSeconds
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("write response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Wrap(fault.KindValidation, err, "invalid request body")
	}
	return nil
}

func badRequest(format string, args ...interface{}) error {
	return fault.New(fault.KindValidation, format, args...)
}
