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
package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/types"
)

// scriptedProvider returns a fixed response.
type scriptedProvider struct{ content string }

func (p *scriptedProvider) Chat(ctx context.Context, msgs []types.Message, tools []types.ToolDefinition) (*types.LLMResponse, error) {
	return &types.LLMResponse{Content: p.content, StopReason: "end_turn"}, nil
}
func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted" }

func TestLLMClassifierParsesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{content: "```json\n" +
		`{"tools": {"database": ["base_readQuery"], "search": ["web_search"]}, "prompts": {}}` +
		"\n```"}
	classifier := NewLLMClassifier(provider)

	tools := []types.ToolDefinition{
		{Name: "base_readQuery", Description: "read"},
		{Name: "web_search", Description: "search"},
		{Name: "unmentioned_tool", Description: "misc"},
	}
	c, err := classifier.Classify(context.Background(), ClassifyLight, tools, nil)
	require.NoError(t, err)

	assert.Len(t, c.Tools["database"], 1)
	assert.Len(t, c.Tools["search"], 1)
	// Tools the LLM did not mention land in "other".
	require.Len(t, c.Tools["other"], 1)
	assert.Equal(t, "unmentioned_tool", c.Tools["other"][0].Name)
	assert.Equal(t, ClassifyLight, c.ClassifiedWithMode)
}

func TestLLMClassifierIgnoresHallucinatedNames(t *testing.T) {
	provider := &scriptedProvider{content: `{"tools": {"database": ["made_up_tool"]}}`}
	classifier := NewLLMClassifier(provider)

	tools := []types.ToolDefinition{{Name: "real_tool", Description: "real"}}
	c, err := classifier.Classify(context.Background(), ClassifyFull, tools, nil)
	require.NoError(t, err)

	assert.Empty(t, c.Tools["database"])
	require.Len(t, c.Tools["other"], 1)
	assert.Equal(t, "real_tool", c.Tools["other"][0].Name)
}

func TestLLMClassifierUnparseableFallsBack(t *testing.T) {
	provider := &scriptedProvider{content: "I cannot classify these."}
	classifier := NewLLMClassifier(provider)

	tools := []types.ToolDefinition{{Name: "a"}, {Name: "b"}}
	c, err := classifier.Classify(context.Background(), ClassifyLight, tools, nil)
	require.NoError(t, err)
	assert.Len(t, c.Tools["other"], 2)
}

func TestKeywordClassifier(t *testing.T) {
	tools := []types.ToolDefinition{
		{Name: "base_readQuery", Description: "Run a SQL query"},
		{Name: "render_chart", Description: "Draw a bar chart"},
		{Name: "frobnicate", Description: "Does something unusual"},
	}
	prompts := []PromptInfo{{Name: "table_summary", Description: "Summarize a table"}}

	c, err := KeywordClassifier{}.Classify(context.Background(), ClassifyLight, tools, prompts)
	require.NoError(t, err)

	require.Len(t, c.Tools["database"], 1)
	assert.Equal(t, "base_readQuery", c.Tools["database"][0].Name)
	require.Len(t, c.Tools["visualization"], 1)
	assert.Equal(t, "render_chart", c.Tools["visualization"][0].Name)
	require.Len(t, c.Tools["other"], 1)
	require.Len(t, c.Prompts["database"], 1)
	assert.Equal(t, ClassifyLight, c.ClassifiedWithMode)
}
