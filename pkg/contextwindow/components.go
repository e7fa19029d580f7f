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
	"fmt"
	"strings"

	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// componentInstruction holds the per-intensity phrasing for one
// generative-UI component.
var componentInstructions = map[string]map[string]string{
	"canvas": {
		"minimal":   "A canvas is available for rendering code and markup.",
		"standard":  "Render runnable code, HTML, SVG, or diagrams on the canvas rather than inline.",
		"assertive": "ALWAYS place runnable code, HTML, SVG, and diagrams on the canvas. Never paste large code blocks inline.",
	},
	"chart": {
		"minimal":   "Charts can be rendered from tabular results.",
		"standard":  "When results are numeric and comparative, render a chart component.",
		"assertive": "ALWAYS visualize numeric comparisons as a chart component instead of describing them.",
	},
	"table": {
		"minimal":   "Tables can be rendered from row results.",
		"standard":  "Render multi-row results as a table component.",
		"assertive": "ALWAYS render row results as a table component, never as inline text lists.",
	},
}

// componentInstructionsModule tells the LLM which generative-UI components
// exist and how eagerly to use them.
type componentInstructionsModule struct {
	est *tokens.Estimator
}

func (m *componentInstructionsModule) ID() string                            { return ModuleComponentInstructions }
func (m *componentInstructionsModule) Weight() float64                       { return 0.05 }
func (m *componentInstructionsModule) AppliesTo(types.ProfileKind) bool      { return true }
func (m *componentInstructionsModule) Condensable() bool                     { return true }
func (m *componentInstructionsModule) Purge(ownerID, sessionID string) error { return nil }

func (m *componentInstructionsModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	content := m.render(tc, tc.Profile.UIIntensity)
	if content == "" {
		return Contribution{}, nil
	}
	return Contribution{Content: content, TokensUsed: m.est.Estimate(content)}, nil
}

func (m *componentInstructionsModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	// Condensing falls back to the tersest phrasing.
	return m.render(tc, "minimal"), nil
}

func (m *componentInstructionsModule) render(tc *TurnContext, intensity string) string {
	if tc.Profile == nil || len(tc.Profile.UIComponents) == 0 {
		return ""
	}
	if intensity == "" {
		intensity = "standard"
	}
	var b strings.Builder
	b.WriteString("UI COMPONENTS:\n")
	wrote := false
	for _, name := range tc.Profile.UIComponents {
		levels, ok := componentInstructions[name]
		if !ok {
			continue
		}
		text, ok := levels[intensity]
		if !ok {
			text = levels["standard"]
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, text)
		wrote = true
	}
	if !wrote {
		return ""
	}
	return b.String()
}
