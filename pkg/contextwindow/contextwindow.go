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
// Package contextwindow assembles the LLM prompt from weighted context
// modules under a hard token budget. Modules contribute concurrently; when
// the total overshoots, the largest condensable contributions are shrunk,
// then the lowest-priority ones dropped. The budget always wins.
package contextwindow

import (
	"context"
	"sort"
	"sync"

	"github.com/teradata-labs/heddle/internal/csync"
	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

// condenseFloor is the minimum target ever handed to Condense. Below this a
// contribution carries no usable signal.
const condenseFloor = 64

// Module IDs, also the keys of profile.ModuleWeights.
const (
	ModuleSystemPrompt          = "system_prompt"
	ModuleToolDefinitions       = "tool_definitions"
	ModuleConversationHistory   = "conversation_history"
	ModuleWorkflowHistory       = "workflow_history"
	ModulePlanHydration         = "plan_hydration"
	ModuleDocumentContext       = "document_context"
	ModuleKnowledgeContext      = "knowledge_context"
	ModuleRAGContext            = "rag_context"
	ModuleComponentInstructions = "component_instructions"
)

// TurnContext carries everything modules may draw on for one turn.
type TurnContext struct {
	OwnerID    string
	Profile    *profile.Profile
	Session    *session.Session
	TurnNumber int
	Query      string
	Tools      []types.ToolDefinition

	// Knowledge extracts a query-relevant subgraph bounded by maxNodes.
	// Nil when the profile carries no knowledge graph.
	Knowledge func(ctx context.Context, maxNodes int) (*knowledge.Subgraph, error)

	// RAG retrieves up to k example snippets for the query. Nil when RAG
	// is not configured.
	RAG func(ctx context.Context, k int) ([]string, error)
}

// Contribution is one module's rendered slice of the prompt.
type Contribution struct {
	ModuleID    string                 `json:"module_id"`
	Content     string                 `json:"content"`
	TokensUsed  int                    `json:"tokens_used"`
	Condensable bool                   `json:"condensable"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Module is one context source. Contribute renders within a token budget;
// Condense re-renders tighter when the assembly overshoots.
type Module interface {
	ID() string
	Weight() float64
	AppliesTo(kind types.ProfileKind) bool
	Condensable() bool
	Contribute(ctx context.Context, budget int, tc *TurnContext) (Contribution, error)
	Condense(ctx context.Context, content string, target int, tc *TurnContext) (string, error)
	Purge(ownerID, sessionID string) error
}

// Assembler runs the registered modules under a budget.
type Assembler struct {
	modules []Module
	byID    map[string]Module
	est     *tokens.Estimator
}

// NewAssembler creates an assembler over the given modules.
func NewAssembler(est *tokens.Estimator, modules ...Module) *Assembler {
	byID := make(map[string]Module, len(modules))
	for _, m := range modules {
		byID[m.ID()] = m
	}
	return &Assembler{modules: modules, byID: byID, est: est}
}

// DefaultModules returns the standard module set in priority order.
func DefaultModules(est *tokens.Estimator) []Module {
	return []Module{
		&systemPromptModule{est: est},
		&toolDefinitionsModule{est: est},
		&conversationHistoryModule{est: est},
		&workflowHistoryModule{est: est},
		&planHydrationModule{est: est},
		&documentContextModule{est: est},
		&knowledgeContextModule{est: est},
		&ragContextModule{est: est},
		&componentInstructionsModule{est: est},
	}
}

// Assemble produces the per-module contributions whose token sum respects
// the budget.
func (a *Assembler) Assemble(ctx context.Context, budget int, tc *TurnContext) (map[string]Contribution, error) {
	if budget <= 0 {
		return nil, fault.New(fault.KindValidation, "context budget must be positive, got %d", budget)
	}

	applicable, weights := a.applicable(tc.Profile)
	if len(applicable) == 0 {
		return map[string]Contribution{}, nil
	}

	// Phase 1: proportional allocation, concurrent contribution.
	results := csync.NewMap[string, Contribution]()
	var wg sync.WaitGroup
	var sysErr error
	var sysErrMu sync.Mutex
	for _, m := range applicable {
		alloc := int(weights[m.ID()] * float64(budget))
		if alloc < 1 {
			alloc = 1
		}
		wg.Add(1)
		go func(m Module, alloc int) {
			defer wg.Done()
			contrib, err := m.Contribute(ctx, alloc, tc)
			if err != nil {
				// The system prompt is hard-required; anything else
				// degrades to absence.
				if m.ID() == ModuleSystemPrompt {
					sysErrMu.Lock()
					sysErr = err
					sysErrMu.Unlock()
					return
				}
				log.Warn("context module failed, skipping",
					zap.String("module", m.ID()), zap.Error(err))
				return
			}
			if contrib.Content == "" {
				return
			}
			contrib.ModuleID = m.ID()
			contrib.Condensable = m.Condensable()
			results.Set(m.ID(), contrib)
		}(m, alloc)
	}
	wg.Wait()
	if sysErr != nil {
		return nil, sysErr
	}

	contribs := map[string]Contribution{}
	total := 0
	for id, c := range results.Seq2() {
		contribs[id] = c
		total += c.TokensUsed
	}

	// Phase 2: condense the largest condensable contribution until the
	// total fits or nothing shrinks further.
	exhausted := map[string]bool{}
	for total > budget {
		victim := ""
		for id, c := range contribs {
			if !c.Condensable || exhausted[id] {
				continue
			}
			if victim == "" || c.TokensUsed > contribs[victim].TokensUsed {
				victim = id
			}
		}
		if victim == "" {
			break
		}

		c := contribs[victim]
		target := c.TokensUsed - (total - budget)
		if target < condenseFloor {
			target = condenseFloor
		}
		condensed, err := a.byID[victim].Condense(ctx, c.Content, target, tc)
		newTokens := a.est.Estimate(condensed)
		if err != nil || newTokens >= c.TokensUsed {
			exhausted[victim] = true
			continue
		}
		total -= c.TokensUsed - newTokens
		c.Content = condensed
		c.TokensUsed = newTokens
		contribs[victim] = c
		if newTokens <= target {
			exhausted[victim] = true
		}
	}

	// Phase 3: drop the lowest-priority condensable contributions.
	// Non-condensable modules are never dropped.
	if total > budget {
		order := make([]string, 0, len(contribs))
		for id, c := range contribs {
			if c.Condensable {
				order = append(order, id)
			}
		}
		sort.Slice(order, func(i, j int) bool {
			return weights[order[i]] < weights[order[j]]
		})
		for _, id := range order {
			if total <= budget {
				break
			}
			total -= contribs[id].TokensUsed
			log.Debug("context module dropped over budget", zap.String("module", id))
			delete(contribs, id)
		}
	}

	return contribs, nil
}

// Purge clears module-scoped state for a session across all modules.
func (a *Assembler) Purge(ownerID, sessionID string) error {
	for _, m := range a.modules {
		if err := m.Purge(ownerID, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// applicable filters modules by profile kind and weight overrides, returning
// the modules and their normalized weights.
func (a *Assembler) applicable(p *profile.Profile) ([]Module, map[string]float64) {
	var mods []Module
	weights := map[string]float64{}
	var sum float64
	for _, m := range a.modules {
		if !m.AppliesTo(p.Kind) {
			continue
		}
		w := m.Weight()
		if override, ok := p.ModuleWeights[m.ID()]; ok {
			w = override
		}
		if w <= 0 {
			continue
		}
		mods = append(mods, m)
		weights[m.ID()] = w
		sum += w
	}
	for id := range weights {
		weights[id] /= sum
	}
	return mods, weights
}
