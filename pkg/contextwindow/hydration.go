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
	"strings"

	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// hydrationRowLimit is the result-list size beyond which plan hydration
// summarizes to a count plus the first rows.
const (
	hydrationRowLimit   = 20
	hydrationRowPreview = 5
)

// planHydrationModule replays the previous valid turn's successful tool
// results so the LLM reuses them instead of re-running idempotent calls.
type planHydrationModule struct {
	est *tokens.Estimator
}

func (m *planHydrationModule) ID() string      { return ModulePlanHydration }
func (m *planHydrationModule) Weight() float64 { return 0.05 }
func (m *planHydrationModule) AppliesTo(kind types.ProfileKind) bool {
	return kind == types.ProfileToolEnabled || kind == types.ProfileGenie
}
func (m *planHydrationModule) Condensable() bool                     { return true }
func (m *planHydrationModule) Purge(ownerID, sessionID string) error { return nil }

func (m *planHydrationModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	if tc.Session == nil {
		return Contribution{}, nil
	}
	trace := tc.Session.LastValidTrace()
	if trace == nil {
		return Contribution{}, nil
	}

	var b strings.Builder
	b.WriteString("PREVIOUS TURN RESULTS (reuse instead of re-running identical calls):\n")
	wrote := false
	for _, step := range trace.ExecutionTrace {
		if step.OutputSummary.Status != "success" {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "- %s:", step.Action.ToolName)
		results := step.OutputSummary.Results
		if len(results) > hydrationRowLimit {
			fmt.Fprintf(&b, " %d rows, first %d: %s\n",
				len(results), hydrationRowPreview, compactJSON(results[:hydrationRowPreview]))
		} else if len(results) > 0 {
			fmt.Fprintf(&b, " %s\n", compactJSON(results))
		} else {
			b.WriteString(" ok\n")
		}
	}
	if !wrote {
		return Contribution{}, nil
	}

	content := b.String()
	if m.est.Estimate(content) > budget {
		content = m.namesOnly(trace.ExecutionTrace)
	}
	return Contribution{Content: content, TokensUsed: m.est.Estimate(content)}, nil
}

func (m *planHydrationModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	if tc.Session == nil {
		return "", nil
	}
	trace := tc.Session.LastValidTrace()
	if trace == nil {
		return "", nil
	}
	return m.namesOnly(trace.ExecutionTrace), nil
}

func (m *planHydrationModule) namesOnly(steps []session.ExecutionStep) string {
	var parts []string
	for _, step := range steps {
		if step.OutputSummary.Status != "success" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%d rows)", step.Action.ToolName, len(step.OutputSummary.Results)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "PREVIOUS TURN RESULTS: " + strings.Join(parts, ", ") + "\n"
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
