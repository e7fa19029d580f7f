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
package knowledge

import (
	"sort"
	"strings"
)

// joinableRounds bounds the iterative joinable-table discovery.
const joinableRounds = 3

// semanticCap bounds the entities added by semantic enrichment.
const semanticCap = 50

// ExtractOptions parameterizes adaptive subgraph extraction.
type ExtractOptions struct {
	// SeedIDs are the starting entity ids.
	SeedIDs []string
	// QueryMatched marks entity ids matched by the user query; their tables
	// get column budget first.
	QueryMatched map[string]bool
	// MaxNodes bounds the returned entity count.
	MaxNodes int
}

// Subgraph is the bounded extraction result: the entity set and every
// relationship with both endpoints inside it.
type Subgraph struct {
	Entities      []*Entity
	Relationships []*Relationship
	// Distance records the traversal depth each entity was discovered at.
	Distance map[string]int
}

// ExtractSubgraph surfaces a bounded subgraph rich enough to ground SQL
// generation. Traversal runs in phases: unbounded FK-chain BFS over
// structural nodes, iterative joinable-table discovery by shared column
// names, database parents, budget-aware column expansion, then semantic
// enrichment.
func (g *Graph) ExtractSubgraph(opts ExtractOptions) *Subgraph {
	if len(opts.SeedIDs) == 0 || opts.MaxNodes <= 0 {
		return &Subgraph{Distance: map[string]int{}}
	}

	dist := map[string]int{}
	discovered := map[string]bool{}
	add := func(id string, d int) {
		if !discovered[id] {
			discovered[id] = true
			dist[id] = d
		}
	}

	// Phase 1a: FK-chain BFS. Non-structural seeds promote to their adjacent
	// structural neighbors; traversal only walks table and foreign_key nodes.
	var frontier []string
	seedSet := map[string]bool{}
	for _, id := range opts.SeedIDs {
		e := g.entities[id]
		if e == nil {
			continue
		}
		seedSet[id] = true
		if e.Type.Structural() {
			add(id, 0)
			frontier = append(frontier, id)
			continue
		}
		for _, n := range g.Neighbors(id) {
			if ne := g.entities[n]; ne != nil && ne.Type.Structural() && !discovered[n] {
				add(n, 0)
				frontier = append(frontier, n)
			}
		}
	}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, n := range g.Neighbors(id) {
				ne := g.entities[n]
				if ne == nil || !ne.Type.Structural() || discovered[n] {
					continue
				}
				add(n, dist[id]+1)
				next = append(next, n)
			}
		}
		frontier = next
	}

	// Phase 1b: joinable-table discovery. A table joins the set when it owns
	// a column whose base name matches one owned by a discovered table.
	for round := 0; round < joinableRounds; round++ {
		names := map[string]bool{}
		maxDist := 0
		for id := range discovered {
			if d := dist[id]; d > maxDist {
				maxDist = d
			}
			if g.entities[id].Type != EntityTable {
				continue
			}
			for name := range g.columnNames(id) {
				names[name] = true
			}
		}

		addedAny := false
		for id, e := range g.entities {
			if e.Type != EntityTable || discovered[id] {
				continue
			}
			for name := range g.columnNames(id) {
				if names[name] {
					add(id, maxDist+1)
					addedAny = true
					break
				}
			}
		}
		if !addedAny {
			break
		}
	}

	// Phase 1c: database parents of discovered tables, included but never
	// expanded.
	for id := range discovered {
		if g.entities[id].Type != EntityTable {
			continue
		}
		for _, r := range g.in[id] {
			if r.Type == RelContains && g.entities[r.SourceID].Type == EntityDatabase {
				add(r.SourceID, dist[id])
			}
		}
	}

	// The structural phases are unbounded; trim to MaxNodes keeping
	// structural seeds first, then shallowest nodes.
	if len(discovered) > opts.MaxNodes {
		ids := make([]string, 0, len(discovered))
		for id := range discovered {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			si, sj := seedSet[ids[i]], seedSet[ids[j]]
			if si != sj {
				return si
			}
			if dist[ids[i]] != dist[ids[j]] {
				return dist[ids[i]] < dist[ids[j]]
			}
			return g.entities[ids[i]].Name < g.entities[ids[j]].Name
		})
		for _, id := range ids[opts.MaxNodes:] {
			delete(discovered, id)
			delete(dist, id)
		}
	}

	// Phase 2: column expansion. Query-matched tables first, then by depth.
	budget := opts.MaxNodes - len(discovered)
	if budget > 0 {
		var tables []string
		for id := range discovered {
			if g.entities[id].Type == EntityTable {
				tables = append(tables, id)
			}
		}
		sort.Slice(tables, func(i, j int) bool {
			qi, qj := opts.QueryMatched[tables[i]], opts.QueryMatched[tables[j]]
			if qi != qj {
				return qi
			}
			if dist[tables[i]] != dist[tables[j]] {
				return dist[tables[i]] < dist[tables[j]]
			}
			return g.entities[tables[i]].Name < g.entities[tables[j]].Name
		})

	columns:
		for _, tid := range tables {
			for _, r := range g.out[tid] {
				if r.Type != RelContains || g.entities[r.TargetID].Type != EntityColumn || discovered[r.TargetID] {
					continue
				}
				add(r.TargetID, dist[tid]+1)
				budget--
				if budget == 0 {
					break columns
				}
			}
		}
	}

	// Phase 3: semantic enrichment around structural nodes.
	if budget > 0 {
		semantic := 0
		var structural []string
		for id := range discovered {
			if g.entities[id].Type.Structural() {
				structural = append(structural, id)
			}
		}
		sort.Slice(structural, func(i, j int) bool {
			return g.entities[structural[i]].Name < g.entities[structural[j]].Name
		})
	enrich:
		for _, id := range structural {
			for _, n := range g.Neighbors(id) {
				ne := g.entities[n]
				if ne == nil || !ne.Type.Semantic() || discovered[n] {
					continue
				}
				add(n, dist[id]+1)
				budget--
				semantic++
				if budget == 0 || semantic >= semanticCap {
					break enrich
				}
			}
		}
	}

	return g.subgraphOf(discovered, dist)
}

// columnNames returns the lowercased base names of a table's column children.
func (g *Graph) columnNames(tableID string) map[string]bool {
	names := map[string]bool{}
	for _, r := range g.out[tableID] {
		if r.Type != RelContains {
			continue
		}
		if c := g.entities[r.TargetID]; c != nil && c.Type == EntityColumn {
			names[strings.ToLower(c.BaseName())] = true
		}
	}
	return names
}

// subgraphOf assembles the result set with deterministic ordering.
func (g *Graph) subgraphOf(ids map[string]bool, dist map[string]int) *Subgraph {
	sub := &Subgraph{Distance: dist}
	for id := range ids {
		sub.Entities = append(sub.Entities, g.entities[id])
	}
	sort.Slice(sub.Entities, func(i, j int) bool {
		di, dj := dist[sub.Entities[i].ID], dist[sub.Entities[j].ID]
		if di != dj {
			return di < dj
		}
		return sub.Entities[i].Name < sub.Entities[j].Name
	})
	for _, r := range g.rels {
		if ids[r.SourceID] && ids[r.TargetID] {
			sub.Relationships = append(sub.Relationships, r)
		}
	}
	return sub
}
