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

import "sort"

// Graph is an in-memory directed graph materialized from the store. It is
// immutable once built; the store drops it on any write and callers
// re-materialize lazily.
type Graph struct {
	entities map[string]*Entity
	out      map[string][]*Relationship
	in       map[string][]*Relationship
	rels     []*Relationship
}

// NewGraph builds a graph from entity and relationship rows. Edges whose
// endpoints are missing are dropped.
func NewGraph(entities []*Entity, rels []*Relationship) *Graph {
	g := &Graph{
		entities: make(map[string]*Entity, len(entities)),
		out:      make(map[string][]*Relationship),
		in:       make(map[string][]*Relationship),
	}
	for _, e := range entities {
		g.entities[e.ID] = e
	}
	for _, r := range rels {
		if g.entities[r.SourceID] == nil || g.entities[r.TargetID] == nil {
			continue
		}
		g.rels = append(g.rels, r)
		g.out[r.SourceID] = append(g.out[r.SourceID], r)
		g.in[r.TargetID] = append(g.in[r.TargetID], r)
	}
	return g
}

// Entity returns the entity with the given id, or nil.
func (g *Graph) Entity(id string) *Entity {
	return g.entities[id]
}

// Entities returns all entities.
func (g *Graph) Entities() []*Entity {
	out := make([]*Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	return out
}

// Relationships returns all edges.
func (g *Graph) Relationships() []*Relationship {
	return g.rels
}

// Outgoing returns edges with the given source.
func (g *Graph) Outgoing(id string) []*Relationship {
	return g.out[id]
}

// Incoming returns edges with the given target.
func (g *Graph) Incoming(id string) []*Relationship {
	return g.in[id]
}

// Neighbors returns the ids adjacent to id in either direction, deduplicated.
func (g *Graph) Neighbors(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range g.out[id] {
		if !seen[r.TargetID] {
			seen[r.TargetID] = true
			out = append(out, r.TargetID)
		}
	}
	for _, r := range g.in[id] {
		if !seen[r.SourceID] {
			seen[r.SourceID] = true
			out = append(out, r.SourceID)
		}
	}
	return out
}

// ShortestPath returns the entity ids on a shortest undirected path from
// startID to endID inclusive, or nil when unreachable.
func (g *Graph) ShortestPath(startID, endID string) []string {
	if g.entities[startID] == nil || g.entities[endID] == nil {
		return nil
	}
	if startID == endID {
		return []string{startID}
	}

	prev := map[string]string{startID: ""}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbors(cur) {
			if _, visited := prev[n]; visited {
				continue
			}
			prev[n] = cur
			if n == endID {
				var path []string
				for at := endID; at != ""; at = prev[at] {
					path = append(path, at)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, n)
		}
	}
	return nil
}

// Ancestors returns all ids reachable by following edges backwards from id.
func (g *Graph) Ancestors(id string) []string {
	return g.reach(id, g.in, func(r *Relationship) string { return r.SourceID })
}

// Descendants returns all ids reachable by following edges forward from id.
func (g *Graph) Descendants(id string) []string {
	return g.reach(id, g.out, func(r *Relationship) string { return r.TargetID })
}

func (g *Graph) reach(id string, adj map[string][]*Relationship, next func(*Relationship) string) []string {
	if g.entities[id] == nil {
		return nil
	}
	seen := map[string]bool{id: true}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range adj[cur] {
			n := next(r)
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

// Stats computes structural statistics for the graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		EntityCount:       len(g.entities),
		RelationshipCount: len(g.rels),
		EntityTypeCounts:  make(map[EntityType]int),
	}
	for _, e := range g.entities {
		s.EntityTypeCounts[e.Type]++
	}
	s.ComponentCount = g.componentCount()
	s.HasCycle = g.hasCycle()
	s.TopCentral = g.topCentral(5)
	return s
}

// componentCount counts weakly-connected components.
func (g *Graph) componentCount() int {
	seen := map[string]bool{}
	count := 0
	for id := range g.entities {
		if seen[id] {
			continue
		}
		count++
		queue := []string{id}
		seen[id] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range g.Neighbors(cur) {
				if !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
	}
	return count
}

// hasCycle detects a directed cycle with three-color DFS.
func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, r := range g.out[id] {
			switch color[r.TargetID] {
			case gray:
				return true
			case white:
				if visit(r.TargetID) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range g.entities {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// topCentral returns the n highest-degree entity names.
func (g *Graph) topCentral(n int) []string {
	type deg struct {
		name   string
		degree int
	}
	degs := make([]deg, 0, len(g.entities))
	for id, e := range g.entities {
		degs = append(degs, deg{e.Name, len(g.out[id]) + len(g.in[id])})
	}
	sort.Slice(degs, func(i, j int) bool {
		if degs[i].degree != degs[j].degree {
			return degs[i].degree > degs[j].degree
		}
		return degs[i].name < degs[j].name
	})
	if n > len(degs) {
		n = len(degs)
	}
	out := make([]string, 0, n)
	for _, d := range degs[:n] {
		if d.degree == 0 {
			break
		}
		out = append(out, d.name)
	}
	return out
}
