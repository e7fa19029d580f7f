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
	"sort"
	"strings"
)

// Render produces the planner context block for a subgraph. Section order is
// fixed: table schemas, joinable columns, grouped non-column entities, then
// relationships (minus the table→column containment already shown in the
// schemas).
func (s *Subgraph) Render() string {
	if len(s.Entities) == 0 {
		return ""
	}

	byID := make(map[string]*Entity, len(s.Entities))
	for _, e := range s.Entities {
		byID[e.ID] = e
	}

	// table id → owned columns, and table id → parent database name.
	tableCols := map[string][]*Entity{}
	tableDB := map[string]string{}
	columnOwner := map[string]string{}
	for _, r := range s.Relationships {
		if r.Type != RelContains {
			continue
		}
		src, dst := byID[r.SourceID], byID[r.TargetID]
		switch {
		case src.Type == EntityTable && dst.Type == EntityColumn:
			tableCols[src.ID] = append(tableCols[src.ID], dst)
			columnOwner[dst.ID] = src.Name
		case src.Type == EntityDatabase && dst.Type == EntityTable:
			tableDB[dst.ID] = src.Name
		}
	}

	var b strings.Builder
	b.WriteString("--- KNOWLEDGE GRAPH CONTEXT ---\n")

	// TABLE SCHEMAS
	var tables []*Entity
	for _, e := range s.Entities {
		if e.Type == EntityTable {
			tables = append(tables, e)
		}
	}
	if len(tables) > 0 {
		sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
		b.WriteString("TABLE SCHEMAS (use these to validate SQL column references):\n")
		for _, t := range tables {
			qualified := t.Name
			if db := tableDB[t.ID]; db != "" {
				qualified = db + "." + t.Name
			}
			cols := tableCols[t.ID]
			sort.Slice(cols, func(i, j int) bool { return cols[i].BaseName() < cols[j].BaseName() })
			parts := make([]string, 0, len(cols))
			for _, c := range cols {
				if dt := c.prop("data_type"); dt != "" {
					parts = append(parts, fmt.Sprintf("%s(%s)", c.BaseName(), dt))
				} else {
					parts = append(parts, c.BaseName())
				}
			}
			fmt.Fprintf(&b, "  %s: %s\n", qualified, strings.Join(parts, ", "))
		}
	}

	// JOINABLE COLUMNS: base names owned by two or more tables.
	joinable := map[string]map[string]bool{}
	for _, cols := range tableCols {
		for _, c := range cols {
			name := strings.ToLower(c.BaseName())
			if joinable[name] == nil {
				joinable[name] = map[string]bool{}
			}
			joinable[name][columnOwner[c.ID]] = true
		}
	}
	var joinNames []string
	for name, owners := range joinable {
		if len(owners) >= 2 {
			joinNames = append(joinNames, name)
		}
	}
	if len(joinNames) > 0 {
		sort.Strings(joinNames)
		b.WriteString("JOINABLE COLUMNS (shared across tables — use for JOIN conditions):\n")
		for _, name := range joinNames {
			var owners []string
			for t := range joinable[name] {
				owners = append(owners, t)
			}
			sort.Strings(owners)
			fmt.Fprintf(&b, "  %s: %s\n", name, strings.Join(owners, ", "))
		}
	}

	// Grouped non-column entities. Tables already appear in the schemas.
	groups := map[EntityType][]*Entity{}
	for _, e := range s.Entities {
		if e.Type == EntityTable || e.Type == EntityColumn {
			continue
		}
		groups[e.Type] = append(groups[e.Type], e)
	}
	var groupTypes []EntityType
	for t := range groups {
		groupTypes = append(groupTypes, t)
	}
	sort.Slice(groupTypes, func(i, j int) bool { return groupTypes[i] < groupTypes[j] })
	for _, t := range groupTypes {
		fmt.Fprintf(&b, "%s ENTITIES:\n", strings.ToUpper(string(t)))
		ents := groups[t]
		sort.Slice(ents, func(i, j int) bool { return ents[i].Name < ents[j].Name })
		for _, e := range ents {
			fmt.Fprintf(&b, "  - %s%s\n", e.Name, entityDetail(e))
		}
	}

	// KNOWN RELATIONSHIPS, skipping the containment edges already rendered.
	var relLines []string
	for _, r := range s.Relationships {
		src, dst := byID[r.SourceID], byID[r.TargetID]
		if r.Type == RelContains &&
			((src.Type == EntityTable && dst.Type == EntityColumn) ||
				(src.Type == EntityDatabase && dst.Type == EntityTable)) {
			continue
		}
		label := string(r.Type)
		if r.Cardinality != "" {
			label += "[" + r.Cardinality + "]"
		}
		line := fmt.Sprintf("  - %s --[%s]--> %s", src.Name, label, dst.Name)
		if desc, ok := r.Metadata["description"].(string); ok && desc != "" {
			line += " — " + desc
		}
		relLines = append(relLines, line)
	}
	if len(relLines) > 0 {
		sort.Strings(relLines)
		b.WriteString("KNOWN RELATIONSHIPS:\n")
		for _, line := range relLines {
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("--- END KNOWLEDGE GRAPH CONTEXT ---")
	return b.String()
}

// entityDetail formats the parenthesized description suffix for an entity.
func entityDetail(e *Entity) string {
	var parts []string
	if d := e.prop("description"); d != "" {
		parts = append(parts, d)
	}
	if dt := e.prop("data_type"); dt != "" {
		parts = append(parts, "type: "+dt)
	}
	if db := e.prop("database"); db != "" {
		parts = append(parts, "database: "+db)
	}
	if biz := e.prop("business"); biz != "" {
		parts = append(parts, "business: "+biz)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
