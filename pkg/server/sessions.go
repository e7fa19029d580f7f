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
package server

import (
	"net/http"
	"strings"

	"github.com/teradata-labs/heddle/pkg/fault"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, owner string) {
	ids, err := s.sessions.List(r.Context(), owner)
	if err != nil {
		writeFault(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, owner string) {
	sessionID := r.PathValue("id")
	sess, err := s.sessions.Load(r.Context(), owner, sessionID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if sess == nil {
		writeFault(w, fault.New(fault.KindNotFound, "session %s not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, owner string) {
	if err := s.sessions.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// handleSessionAction routes POST /sessions/{id}:action paths. Only ":purge"
// exists today.
func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request, owner string) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	id, action, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		writeFault(w, badRequest("expected /sessions/{id}:purge"))
		return
	}
	if action != "purge" {
		writeFault(w, badRequest("unknown session action %q", action))
		return
	}

	var req struct {
		Field string `json:"field"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if err := s.sessions.PurgeField(r.Context(), owner, id, req.Field); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": req.Field})
}
