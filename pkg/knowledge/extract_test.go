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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// salesGraph builds: sales db containing orders and customers, each with a
// customer_id column, plus an fk node linking the tables and a revenue metric
// attached to orders.
func salesGraph() *Graph {
	entities := []*Entity{
		ent("db", "sales", EntityDatabase),
		ent("orders", "orders", EntityTable),
		ent("customers", "customers", EntityTable),
		ent("fk1", "orders_customers_fk", EntityForeignKey),
		ent("o.cid", "orders.customer_id", EntityColumn),
		ent("o.total", "orders.total", EntityColumn),
		ent("c.cid", "customers.customer_id", EntityColumn),
		ent("c.name", "customers.name", EntityColumn),
		ent("m1", "revenue", EntityMetric),
	}
	entities[4].Properties = map[string]interface{}{"data_type": "integer"}
	entities[6].Properties = map[string]interface{}{"data_type": "integer"}

	rels := []*Relationship{
		rel("db", "orders", RelContains),
		rel("db", "customers", RelContains),
		rel("orders", "o.cid", RelContains),
		rel("orders", "o.total", RelContains),
		rel("customers", "c.cid", RelContains),
		rel("customers", "c.name", RelContains),
		rel("orders", "fk1", RelForeignKey),
		rel("fk1", "customers", RelForeignKey),
		rel("m1", "orders", RelMeasures),
	}
	return NewGraph(entities, rels)
}

func subgraphIDs(sub *Subgraph) map[string]bool {
	ids := map[string]bool{}
	for _, e := range sub.Entities {
		ids[e.ID] = true
	}
	return ids
}

func TestExtractFollowsFKChain(t *testing.T) {
	g := salesGraph()

	sub := g.ExtractSubgraph(ExtractOptions{SeedIDs: []string{"orders"}, MaxNodes: 50})
	ids := subgraphIDs(sub)

	// The FK chain pulls in the fk node and the far table.
	assert.True(t, ids["orders"])
	assert.True(t, ids["fk1"])
	assert.True(t, ids["customers"])
	// Database parent included.
	assert.True(t, ids["db"])
	// Budget allows all columns.
	assert.True(t, ids["o.cid"])
	assert.True(t, ids["c.cid"])
	// Semantic enrichment picks up the metric.
	assert.True(t, ids["m1"])
}

func TestExtractJoinableTableDiscovery(t *testing.T) {
	// No FK chain between the tables: only the shared column name joins them.
	entities := []*Entity{
		ent("orders", "orders", EntityTable),
		ent("customers", "customers", EntityTable),
		ent("o.cid", "orders.customer_id", EntityColumn),
		ent("c.cid", "customers.customer_id", EntityColumn),
	}
	rels := []*Relationship{
		rel("orders", "o.cid", RelContains),
		rel("customers", "c.cid", RelContains),
	}
	g := NewGraph(entities, rels)

	sub := g.ExtractSubgraph(ExtractOptions{SeedIDs: []string{"orders"}, MaxNodes: 50})
	ids := subgraphIDs(sub)
	assert.True(t, ids["customers"], "table discovered via shared column name")
	// Discovered one logical hop deeper than the seed.
	assert.Greater(t, sub.Distance["customers"], sub.Distance["orders"])
}

func TestExtractRespectsMaxNodes(t *testing.T) {
	g := salesGraph()

	for _, maxNodes := range []int{1, 2, 3, 5, 9, 50} {
		sub := g.ExtractSubgraph(ExtractOptions{
			SeedIDs:  []string{"orders", "customers"},
			MaxNodes: maxNodes,
		})
		assert.LessOrEqual(t, len(sub.Entities), maxNodes, "max_nodes=%d", maxNodes)

		// Structural seeds survive whenever they fit.
		if maxNodes >= 2 {
			ids := subgraphIDs(sub)
			assert.True(t, ids["orders"], "max_nodes=%d", maxNodes)
			assert.True(t, ids["customers"], "max_nodes=%d", maxNodes)
		}

		// Every returned relationship has both endpoints in the set.
		ids := subgraphIDs(sub)
		for _, r := range sub.Relationships {
			assert.True(t, ids[r.SourceID] && ids[r.TargetID])
		}
	}
}

func TestExtractEmptySeeds(t *testing.T) {
	g := salesGraph()

	sub := g.ExtractSubgraph(ExtractOptions{MaxNodes: 50})
	assert.Empty(t, sub.Entities)
	assert.Empty(t, sub.Relationships)
}

func TestExtractNonStructuralSeedPromotes(t *testing.T) {
	g := salesGraph()

	// A column seed promotes to its owning table before the BFS.
	sub := g.ExtractSubgraph(ExtractOptions{SeedIDs: []string{"o.cid"}, MaxNodes: 50})
	ids := subgraphIDs(sub)
	assert.True(t, ids["orders"])
	assert.True(t, ids["customers"])
}

func TestExtractQueryMatchedTablesGetColumnsFirst(t *testing.T) {
	g := salesGraph()

	// Budget for structural set (orders, customers, fk1, db) plus two columns.
	sub := g.ExtractSubgraph(ExtractOptions{
		SeedIDs:      []string{"orders", "customers"},
		QueryMatched: map[string]bool{"customers": true},
		MaxNodes:     6,
	})
	ids := subgraphIDs(sub)
	assert.True(t, ids["c.cid"] || ids["c.name"], "query-matched table's columns come first")
	assert.False(t, ids["o.cid"] || ids["o.total"], "no budget left for unmatched table's columns")
}

func TestExtractSemanticCap(t *testing.T) {
	entities := []*Entity{ent("t", "facts", EntityTable)}
	var rels []*Relationship
	for i := 0; i < 80; i++ {
		id := fmt.Sprintf("m%d", i)
		entities = append(entities, ent(id, id, EntityMetric))
		rels = append(rels, rel(id, "t", RelMeasures))
	}
	g := NewGraph(entities, rels)

	sub := g.ExtractSubgraph(ExtractOptions{SeedIDs: []string{"t"}, MaxNodes: 200})
	// 1 table + at most 50 semantic entities.
	assert.LessOrEqual(t, len(sub.Entities), 51)
}

// End-to-end: seeds {orders, customers}, shared customer_id column, rendered
// planner context contains the join hint.
func TestExtractAndRenderSalesJoin(t *testing.T) {
	g := salesGraph()

	sub := g.ExtractSubgraph(ExtractOptions{
		SeedIDs:  []string{"orders", "customers"},
		MaxNodes: 50,
	})
	ids := subgraphIDs(sub)
	require.True(t, ids["orders"])
	require.True(t, ids["customers"])
	require.True(t, ids["o.cid"])
	require.True(t, ids["c.cid"])

	text := sub.Render()
	assert.True(t, strings.HasPrefix(text, "--- KNOWLEDGE GRAPH CONTEXT ---"))
	assert.True(t, strings.HasSuffix(text, "--- END KNOWLEDGE GRAPH CONTEXT ---"))
	assert.Contains(t, text, "TABLE SCHEMAS (use these to validate SQL column references):")
	assert.Contains(t, text, "sales.orders:")
	assert.Contains(t, text, "customer_id(integer)")
	assert.Contains(t, text, "JOINABLE COLUMNS (shared across tables — use for JOIN conditions):")
	assert.Contains(t, text, "customer_id: customers, orders")

	// Containment edges shown in the schema are excluded from the
	// relationship section.
	assert.NotContains(t, text, "--[contains]-->")
	assert.Contains(t, text, "revenue --[measures]--> orders")
}

func TestRenderEmptySubgraph(t *testing.T) {
	sub := &Subgraph{}
	assert.Empty(t, sub.Render())
}
