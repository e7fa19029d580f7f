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

	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/knowledge"
)

// kgMaxSearchNodes bounds subgraph extraction for the search endpoint.
const kgMaxSearchNodes = 50

func (s *Server) kgStore(w http.ResponseWriter) *knowledge.Store {
	if s.knowledge == nil {
		writeFault(w, fault.New(fault.KindNotFound, "knowledge graph is not configured"))
		return nil
	}
	return s.knowledge
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	profileID := r.PathValue("profile")
	query := r.URL.Query().Get("q")
	typ := knowledge.EntityType(r.URL.Query().Get("type"))

	entities, err := kg.SearchEntities(r.Context(), owner, profileID, query, typ)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

func (s *Server) handleUpsertEntity(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	var e knowledge.Entity
	if err := decodeJSON(r, &e); err != nil {
		writeFault(w, err)
		return
	}
	e.OwnerID = owner
	e.ProfileID = r.PathValue("profile")

	saved, err := kg.UpsertEntity(r.Context(), &e)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	if err := kg.DeleteEntity(r.Context(), owner, r.PathValue("profile"), r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	g, err := kg.Graph(r.Context(), owner, r.PathValue("profile"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"relationships": g.Relationships()})
}

func (s *Server) handleUpsertRelationship(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	var rel knowledge.Relationship
	if err := decodeJSON(r, &rel); err != nil {
		writeFault(w, err)
		return
	}
	rel.OwnerID = owner
	rel.ProfileID = r.PathValue("profile")

	saved, err := kg.UpsertRelationship(r.Context(), &rel)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	if err := kg.DeleteRelationship(r.Context(), owner, r.PathValue("profile"), r.PathValue("id")); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// handleKGStats reports structural statistics of one profile's graph.
func (s *Server) handleKGStats(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	g, err := kg.Graph(r.Context(), owner, r.PathValue("profile"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Stats())
}

// handleKGSearch extracts the query-relevant subgraph and returns its
// rendered text form alongside the raw node and edge lists.
func (s *Server) handleKGSearch(w http.ResponseWriter, r *http.Request, owner string) {
	kg := s.kgStore(w)
	if kg == nil {
		return
	}
	var req struct {
		Query    string `json:"query"`
		MaxNodes int    `json:"max_nodes,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeFault(w, err)
		return
	}
	if req.Query == "" {
		writeFault(w, badRequest("query is required"))
		return
	}
	maxNodes := req.MaxNodes
	if maxNodes <= 0 || maxNodes > 500 {
		maxNodes = kgMaxSearchNodes
	}

	g, err := kg.Graph(r.Context(), owner, r.PathValue("profile"))
	if err != nil {
		writeFault(w, err)
		return
	}
	seeds, matched := g.MatchQuery(req.Query)
	sub := g.ExtractSubgraph(knowledge.ExtractOptions{
		SeedIDs:      seeds,
		QueryMatched: matched,
		MaxNodes:     maxNodes,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered":      sub.Render(),
		"entities":      sub.Entities,
		"relationships": sub.Relationships,
	})
}
