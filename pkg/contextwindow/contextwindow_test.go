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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/knowledge"
	"github.com/teradata-labs/heddle/pkg/profile"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/tokens"
	"github.com/teradata-labs/heddle/pkg/types"
)

func newTestAssembler() *Assembler {
	est := tokens.NewEstimator()
	return NewAssembler(est, DefaultModules(est)...)
}

func testProfile(kind types.ProfileKind) *profile.Profile {
	return &profile.Profile{
		ID:           "p1",
		OwnerID:      "alice",
		Kind:         kind,
		SystemPrompt: "You are a data analyst for the sales warehouse.",
	}
}

func chattySession(pairs int) *session.Session {
	s := &session.Session{ID: "s1", OwnerID: "alice"}
	for i := 0; i < pairs; i++ {
		s.AppendMessage(types.Message{Role: "user", Content: fmt.Sprintf("question %d about quarterly revenue trends and customer churn", i)})
		s.AppendMessage(types.Message{Role: "assistant", Content: fmt.Sprintf("answer %d covering the revenue figures in considerable descriptive detail", i)})
	}
	return s
}

func wideTools(n int) []types.ToolDefinition {
	tools := make([]types.ToolDefinition, n)
	for i := range tools {
		tools[i] = types.ToolDefinition{
			Name:        fmt.Sprintf("tool_%02d", i),
			Description: strings.Repeat("does a moderately complicated thing to warehouse rows. ", 4),
			Category:    []string{"query", "admin", "viz"}[i%3],
			InputSchema: &types.JSONSchema{Type: "object", Properties: map[string]*types.JSONSchema{
				"target": {Type: "string", Description: "table or view to operate on"},
			}},
		}
	}
	return tools
}

func TestAssembleRespectsBudget(t *testing.T) {
	a := newTestAssembler()
	tc := &TurnContext{
		OwnerID:    "alice",
		Profile:    testProfile(types.ProfileToolEnabled),
		Session:    chattySession(40),
		TurnNumber: 3,
		Query:      "show revenue by region",
		Tools:      wideTools(12),
	}

	for _, budget := range []int{128, 256, 512, 1000, 4000} {
		t.Run(fmt.Sprintf("budget_%d", budget), func(t *testing.T) {
			contribs, err := a.Assemble(context.Background(), budget, tc)
			require.NoError(t, err)

			total := 0
			for _, c := range contribs {
				total += c.TokensUsed
			}
			assert.LessOrEqual(t, total, budget)
			assert.Contains(t, contribs, ModuleSystemPrompt)
		})
	}
}

func TestAssembleHistoryPlusToolsCondensesUnderBudget(t *testing.T) {
	a := newTestAssembler()
	tc := &TurnContext{
		OwnerID:    "alice",
		Profile:    testProfile(types.ProfileToolEnabled),
		Session:    chattySession(60), // well over 900 tokens of history
		TurnNumber: 2,
		Tools:      wideTools(20), // full render well over 600 tokens
	}

	contribs, err := a.Assemble(context.Background(), 1000, tc)
	require.NoError(t, err)

	total := 0
	for _, c := range contribs {
		total += c.TokensUsed
	}
	assert.LessOrEqual(t, total, 1000)

	// Turn 2 tools are names-only.
	tools := contribs[ModuleToolDefinitions]
	assert.Contains(t, tools.Content, "names by category")
	assert.NotContains(t, tools.Content, "schema:")
}

func TestAssembleRejectsNonPositiveBudget(t *testing.T) {
	a := newTestAssembler()
	_, err := a.Assemble(context.Background(), 0, &TurnContext{Profile: testProfile(types.ProfileLLMOnly)})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestSystemPromptDefaultsWhenEmpty(t *testing.T) {
	a := newTestAssembler()
	p := testProfile(types.ProfileLLMOnly)
	p.SystemPrompt = ""
	contribs, err := a.Assemble(context.Background(), 2000, &TurnContext{Profile: p})
	require.NoError(t, err)
	assert.Equal(t, defaultSystemPrompt, contribs[ModuleSystemPrompt].Content)
	assert.False(t, contribs[ModuleSystemPrompt].Condensable)
}

func TestConversationHistoryExcludesInvalidMessages(t *testing.T) {
	a := newTestAssembler()
	s := &session.Session{ID: "s1", OwnerID: "alice"}
	s.AppendMessage(types.Message{Role: "user", Content: "good question"})
	s.AppendMessage(types.Message{Role: "assistant", Content: "hallucinated answer", Invalid: true})
	s.AppendMessage(types.Message{Role: "assistant", Content: "corrected answer"})

	contribs, err := a.Assemble(context.Background(), 4000, &TurnContext{
		Profile: testProfile(types.ProfileLLMOnly),
		Session: s,
	})
	require.NoError(t, err)

	history := contribs[ModuleConversationHistory].Content
	assert.Contains(t, history, "good question")
	assert.Contains(t, history, "corrected answer")
	assert.NotContains(t, history, "hallucinated answer")
}

func TestToolDefinitionsFullOnFirstTurn(t *testing.T) {
	a := newTestAssembler()
	tc := &TurnContext{
		Profile:    testProfile(types.ProfileToolEnabled),
		TurnNumber: 1,
		Tools:      wideTools(3),
	}
	contribs, err := a.Assemble(context.Background(), 8000, tc)
	require.NoError(t, err)

	tools := contribs[ModuleToolDefinitions]
	assert.Contains(t, tools.Content, "schema:")
	assert.Contains(t, tools.Content, "[query]")
}

func TestPlanHydrationSummarizesLargeResults(t *testing.T) {
	a := newTestAssembler()
	results := make([]interface{}, 25)
	for i := range results {
		results[i] = map[string]interface{}{"region": fmt.Sprintf("r%d", i)}
	}
	s := &session.Session{
		ID:      "s1",
		OwnerID: "alice",
		WorkflowHistory: []session.TurnTrace{{
			TurnNumber: 1,
			IsValid:    true,
			ExecutionTrace: []session.ExecutionStep{
				{
					Action:        session.StepAction{ToolName: "execute_sql"},
					OutputSummary: session.StepSummary{Status: "success", Results: results},
				},
				{
					Action:        session.StepAction{ToolName: "flaky_tool"},
					OutputSummary: session.StepSummary{Status: "error"},
				},
			},
		}},
	}

	contribs, err := a.Assemble(context.Background(), 8000, &TurnContext{
		Profile: testProfile(types.ProfileToolEnabled),
		Session: s,
	})
	require.NoError(t, err)

	hydration := contribs[ModulePlanHydration].Content
	assert.Contains(t, hydration, "25 rows, first 5")
	assert.Contains(t, hydration, "execute_sql")
	// Failed steps are not hydrated.
	assert.NotContains(t, hydration, "flaky_tool")
}

func TestModuleWeightZeroDisables(t *testing.T) {
	a := newTestAssembler()
	p := testProfile(types.ProfileToolEnabled)
	p.ModuleWeights = map[string]float64{ModuleToolDefinitions: 0}

	contribs, err := a.Assemble(context.Background(), 4000, &TurnContext{
		Profile:    p,
		TurnNumber: 1,
		Tools:      wideTools(3),
	})
	require.NoError(t, err)
	assert.NotContains(t, contribs, ModuleToolDefinitions)
	assert.Contains(t, contribs, ModuleSystemPrompt)
}

func TestDocumentContextTruncatesAtBoundaries(t *testing.T) {
	a := newTestAssembler()
	s := &session.Session{
		ID:      "s1",
		OwnerID: "alice",
		Attachments: []session.Attachment{
			{Filename: "report.txt", Content: strings.Repeat("a", 1200)},
			{Filename: "appendix.txt", Content: strings.Repeat("b", 1200)},
		},
	}
	p := testProfile(types.ProfileLLMOnly)
	// Starve everything except documents so the boundary logic is what binds.
	p.ModuleWeights = map[string]float64{
		ModuleSystemPrompt:    0.2,
		ModuleDocumentContext: 0.8,
	}

	contribs, err := a.Assemble(context.Background(), 500, &TurnContext{Profile: p, Session: s})
	require.NoError(t, err)

	docs := contribs[ModuleDocumentContext].Content
	assert.Contains(t, docs, "report.txt")
	// The second document does not fit and is dropped whole.
	assert.NotContains(t, docs, "appendix.txt")
}

func TestKnowledgeModuleScalesNodeCapWithBudget(t *testing.T) {
	a := newTestAssembler()
	var requested []int
	tc := &TurnContext{
		Profile: testProfile(types.ProfileToolEnabled),
		Knowledge: func(ctx context.Context, maxNodes int) (*knowledge.Subgraph, error) {
			requested = append(requested, maxNodes)
			return &knowledge.Subgraph{}, nil
		},
	}

	_, err := a.Assemble(context.Background(), 640, tc)
	require.NoError(t, err)
	require.NotEmpty(t, requested)
	assert.GreaterOrEqual(t, requested[0], 5)
	assert.LessOrEqual(t, requested[0], 100)
}

func TestRAGContextJoinsWithSeparators(t *testing.T) {
	a := newTestAssembler()
	tc := &TurnContext{
		Profile: testProfile(types.ProfileRAGFocused),
		RAG: func(ctx context.Context, k int) ([]string, error) {
			return []string{"Q: total sales?\nA: SELECT SUM(amount) FROM sales", "Q: churn?\nA: SELECT ..."}, nil
		},
	}

	contribs, err := a.Assemble(context.Background(), 4000, tc)
	require.NoError(t, err)

	rag := contribs[ModuleRAGContext].Content
	assert.True(t, strings.HasPrefix(rag, ragPreamble))
	assert.Contains(t, rag, "\n---\n")
	assert.Equal(t, 2, contribs[ModuleRAGContext].Metadata["snippet_count"])
}

func TestFailingOptionalModuleIsSkipped(t *testing.T) {
	a := newTestAssembler()
	tc := &TurnContext{
		Profile: testProfile(types.ProfileToolEnabled),
		Knowledge: func(ctx context.Context, maxNodes int) (*knowledge.Subgraph, error) {
			return nil, fmt.Errorf("graph store offline")
		},
	}

	contribs, err := a.Assemble(context.Background(), 2000, tc)
	require.NoError(t, err)
	assert.NotContains(t, contribs, ModuleKnowledgeContext)
	assert.Contains(t, contribs, ModuleSystemPrompt)
}
