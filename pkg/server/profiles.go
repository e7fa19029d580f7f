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

// handleProfileAction routes POST /profiles/{id}:action paths. Only
// ":activate" exists today.
func (s *Server) handleProfileAction(w http.ResponseWriter, r *http.Request, owner string) {
	rest := strings.TrimPrefix(r.URL.Path, "/profiles/")
	id, action, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		writeFault(w, badRequest("expected /profiles/{id}:activate"))
		return
	}
	if action != "activate" {
		writeFault(w, badRequest("unknown profile action %q", action))
		return
	}
	s.handleActivate(w, r, owner, id)
}

// handleActivate performs synchronous profile activation with LLM
// validation. The response reports the classification mode and whether the
// classification came from cache.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request, owner, profileID string) {

	cachedBefore := false
	if c, err := s.profiles.GetClassification(r.Context(), profileID); err == nil && c != nil {
		cachedBefore = true
	}

	state, err := s.switcher.Activate(r.Context(), owner, profileID, true)
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := map[string]interface{}{
		"profile_id":          state.Profile.ID,
		"kind":                state.Profile.Kind,
		"classification_mode": state.Profile.ClassificationMode,
		"classification_hit":  cachedBefore,
		"tool_count":          len(state.Tools),
		"activated_at":        state.ActivatedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleClassification returns the cached capability classification. An
// unclassified profile answers with an empty object.
func (s *Server) handleClassification(w http.ResponseWriter, r *http.Request, owner string) {
	profileID := r.PathValue("id")

	p, err := s.profiles.GetProfile(r.Context(), owner, profileID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if p == nil {
		writeFault(w, fault.New(fault.KindNotFound, "profile %s not found", profileID))
		return
	}

	c, err := s.profiles.GetClassification(r.Context(), profileID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleConsumptionCheck returns the owner's remaining hour/day/month
// budgets.
func (s *Server) handleConsumptionCheck(w http.ResponseWriter, r *http.Request, owner string) {
	usage, err := s.consumption.Snapshot(r.Context(), owner)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":       owner,
		"current_period": usage.CurrentPeriod,
		"remaining":      usage.Remaining(),
		"usage":          usage,
	})
}
