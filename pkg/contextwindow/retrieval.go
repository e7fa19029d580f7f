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
	"strings"

	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

// knowledgeContextModule injects the query-relevant knowledge graph
// subgraph. The node cap scales with the token budget; condensing
// re-extracts with a smaller cap.
type knowledgeContextModule struct {
	est *tokens.Estimator
}

func (m *knowledgeContextModule) ID() string                            { return ModuleKnowledgeContext }
func (m *knowledgeContextModule) Weight() float64                       { return 0.10 }
func (m *knowledgeContextModule) AppliesTo(types.ProfileKind) bool      { return true }
func (m *knowledgeContextModule) Condensable() bool                     { return true }
func (m *knowledgeContextModule) Purge(ownerID, sessionID string) error { return nil }

// nodesForBudget scales the extraction cap with the token budget.
func nodesForBudget(budget int) int {
	n := budget / 32
	if n < 5 {
		n = 5
	}
	if n > 100 {
		n = 100
	}
	return n
}

func (m *knowledgeContextModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	if tc.Knowledge == nil {
		return Contribution{}, nil
	}
	sub, err := tc.Knowledge(ctx, nodesForBudget(budget))
	if err != nil {
		return Contribution{}, err
	}
	if sub == nil {
		return Contribution{}, nil
	}
	content := sub.Render()
	if content == "" {
		return Contribution{}, nil
	}
	return Contribution{
		Content:    content,
		TokensUsed: m.est.Estimate(content),
		Metadata:   map[string]interface{}{"entity_count": len(sub.Entities)},
	}, nil
}

func (m *knowledgeContextModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	if tc.Knowledge == nil {
		return "", nil
	}
	maxNodes := target / 32
	if maxNodes < 3 {
		maxNodes = 3
	}
	sub, err := tc.Knowledge(ctx, maxNodes)
	if err != nil || sub == nil {
		return "", err
	}
	return sub.Render(), nil
}

// ragContextModule injects retrieved example snippets with a preamble and
// separators. The candidate count scales with the budget and shrinks on
// condense.
type ragContextModule struct {
	est *tokens.Estimator
}

func (m *ragContextModule) ID() string                            { return ModuleRAGContext }
func (m *ragContextModule) Weight() float64                       { return 0.05 }
func (m *ragContextModule) AppliesTo(types.ProfileKind) bool      { return true }
func (m *ragContextModule) Condensable() bool                     { return true }
func (m *ragContextModule) Purge(ownerID, sessionID string) error { return nil }

const ragPreamble = "RELEVANT EXAMPLES (prior validated interactions):"

func snippetsForBudget(budget int) int {
	k := budget / 128
	if k < 1 {
		k = 1
	}
	if k > 8 {
		k = 8
	}
	return k
}

func (m *ragContextModule) Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error) {
	content, count, err := m.render(ctx, budget, tc)
	if err != nil {
		return Contribution{}, err
	}
	if content == "" {
		return Contribution{}, nil
	}
	return Contribution{
		Content:    content,
		TokensUsed: m.est.Estimate(content),
		Metadata:   map[string]interface{}{"snippet_count": count},
	}, nil
}

func (m *ragContextModule) Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error) {
	condensed, _, err := m.render(ctx, target, tc)
	return condensed, err
}

func (m *ragContextModule) render(ctx context.Context, budget int, tc *TurnContext) (string, int, error) {
	if tc.RAG == nil {
		return "", 0, nil
	}
	snippets, err := tc.RAG(ctx, snippetsForBudget(budget))
	if err != nil {
		return "", 0, err
	}
	if len(snippets) == 0 {
		return "", 0, nil
	}

	// Fit whole snippets into the budget; partial examples mislead.
	var kept []string
	total := m.est.Estimate(ragPreamble)
	for _, s := range snippets {
		cost := m.est.Estimate(s) + 2
		if total+cost > budget && len(kept) > 0 {
			break
		}
		total += cost
		kept = append(kept, s)
	}
	return ragPreamble + "\n" + strings.Join(kept, "\n---\n") + "\n", len(kept), nil
}
