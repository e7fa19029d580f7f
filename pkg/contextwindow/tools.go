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
package contextwindow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// toolDefinitionsModule renders the bound tools. The first turn gets full
// descriptions and schemas grouped by category; later turns get the compact
// names-only form, which is also the condensed form.
type toolDefinitionsModule struct {
	est *tokens.Estimator
}

func (m *toolDefinitionsModule) ID() string      { return ModuleToolDefinitions }
func (m *toolDefinitionsModule) Weight() float64 { return 0.15 }
func (m *toolDefinitionsModule) AppliesTo(kind types.ProfileKind) bool {
	return kind == types.ProfileToolEnabled || kind == types.ProfileGenie
}
func (m *toolDefinitionsModule) Condensable() bool                     { return true }
func (m *toolDefinitionsModule) Purge(ownerID, sessionID string) error { return nil }

func (m *toolDefinitionsModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	if len(tc.Tools) == 0 {
		return Contribution{}, nil
	}

	content := renderToolsNamesOnly(tc.Tools)
	if tc.TurnNumber <= 1 {
		full := renderToolsFull(tc.Tools)
		if m.est.Estimate(full) <= budget {
			content = full
		}
	}
	return Contribution{
		Content:    content,
		TokensUsed: m.est.Estimate(content),
		Metadata:   map[string]interface{}{"tool_count": len(tc.Tools)},
	}, nil
}

func (m *toolDefinitionsModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	compact := renderToolsNamesOnly(tc.Tools)
	if m.est.Estimate(compact) > target {
		// Even names-only overshoots; keep whole lines up to the char budget.
		compact = truncateLines(compact, m.est.CharsFor(target))
	}
	return compact, nil
}

func byCategory(tools []types.ToolDefinition) ([]string, map[string][]types.ToolDefinition) {
	groups := map[string][]types.ToolDefinition{}
	for _, t := range tools {
		cat := t.Category
		if cat == "" {
			cat = "other"
		}
		groups[cat] = append(groups[cat], t)
	}
	cats := make([]string, 0, len(groups))
	for cat, list := range groups {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats, groups
}

func renderToolsFull(tools []types.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("AVAILABLE TOOLS:\n")
	cats, groups := byCategory(tools)
	for _, cat := range cats {
		fmt.Fprintf(&b, "\n[%s]\n", cat)
		for _, t := range groups[cat] {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
			if t.InputSchema != nil {
				if schema, err := json.Marshal(t.InputSchema); err == nil {
					fmt.Fprintf(&b, "  schema: %s\n", schema)
				}
			}
		}
	}
	return b.String()
}

func renderToolsNamesOnly(tools []types.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("AVAILABLE TOOLS (names by category):\n")
	cats, groups := byCategory(tools)
	for _, cat := range cats {
		names := make([]string, len(groups[cat]))
		for i, t := range groups[cat] {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", cat, strings.Join(names, ", "))
	}
	return b.String()
}

// truncateLines keeps whole leading lines within maxChars.
func truncateLines(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	lines := strings.Split(s, "\n")
	var b strings.Builder
	for _, line := range lines {
		if b.Len()+len(line)+1 > maxChars {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
