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
// Package knowledge stores per-profile knowledge graphs: durable entity and
// relationship rows in SQLite plus a lazily-materialized in-memory graph used
// for traversal, subgraph extraction, and planner context rendering.
package knowledge

import (
	"strings"
	"time"
)

// EntityType classifies a knowledge graph node.
type EntityType string

const (
	EntityDatabase        EntityType = "database"
	EntityTable           EntityType = "table"
	EntityColumn          EntityType = "column"
	EntityForeignKey      EntityType = "foreign_key"
	EntityBusinessConcept EntityType = "business_concept"
	EntityTaxonomy        EntityType = "taxonomy"
	EntityMetric          EntityType = "metric"
	EntityDomain          EntityType = "domain"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityDatabase, EntityTable, EntityColumn, EntityForeignKey,
		EntityBusinessConcept, EntityTaxonomy, EntityMetric, EntityDomain:
		return true
	}
	return false
}

// Structural reports whether t participates in FK-chain traversal.
func (t EntityType) Structural() bool {
	return t == EntityTable || t == EntityForeignKey
}

// Semantic reports whether t is a semantic-enrichment type.
func (t EntityType) Semantic() bool {
	switch t {
	case EntityBusinessConcept, EntityMetric, EntityTaxonomy, EntityDomain:
		return true
	}
	return false
}

// RelationType classifies a knowledge graph edge.
type RelationType string

const (
	RelContains    RelationType = "contains"
	RelForeignKey  RelationType = "foreign_key"
	RelIsA         RelationType = "is_a"
	RelHasProperty RelationType = "has_property"
	RelMeasures    RelationType = "measures"
	RelDerivesFrom RelationType = "derives_from"
	RelDependsOn   RelationType = "depends_on"
	RelRelatesTo   RelationType = "relates_to"
)

// Valid reports whether t is a known relationship type.
func (t RelationType) Valid() bool {
	switch t {
	case RelContains, RelForeignKey, RelIsA, RelHasProperty,
		RelMeasures, RelDerivesFrom, RelDependsOn, RelRelatesTo:
		return true
	}
	return false
}

// Entity is a knowledge graph node, unique per (owner, profile, name, type).
type Entity struct {
	ID         string                 `json:"id"`
	OwnerID    string                 `json:"owner_id"`
	ProfileID  string                 `json:"profile_id"`
	Name       string                 `json:"name"`
	Type       EntityType             `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Source     string                 `json:"source,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// prop returns a string-valued property, or "".
func (e *Entity) prop(key string) string {
	if e.Properties == nil {
		return ""
	}
	if s, ok := e.Properties[key].(string); ok {
		return s
	}
	return ""
}

// BaseName returns the unqualified entity name. Column entities are commonly
// named "table.column"; the base name is the final segment.
func (e *Entity) BaseName() string {
	if i := strings.LastIndex(e.Name, "."); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// Relationship is a directed knowledge graph edge, unique per
// (owner, profile, source_id, target_id, type).
type Relationship struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	ProfileID   string                 `json:"profile_id"`
	SourceID    string                 `json:"source_id"`
	TargetID    string                 `json:"target_id"`
	Type        RelationType           `json:"type"`
	Cardinality string                 `json:"cardinality,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Source      string                 `json:"source,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Stats summarizes a materialized graph.
type Stats struct {
	EntityCount       int                `json:"entity_count"`
	RelationshipCount int                `json:"relationship_count"`
	EntityTypeCounts  map[EntityType]int `json:"entity_type_counts"`
	ComponentCount    int                `json:"component_count"`
	HasCycle          bool               `json:"has_cycle"`
	// TopCentral lists the highest-degree entity names, most connected first.
	TopCentral []string `json:"top_central,omitempty"`
}
