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
package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/llm"
	"github.com/teradata-labs/heddle/pkg/types"
)

// scriptedInvoker returns canned results per tool name.
type scriptedInvoker struct {
	mu      sync.Mutex
	results map[string]*types.ToolResult
	errs    map[string]error
	calls   []string
	block   chan struct{} // when set, Invoke waits for ctx or release
}

func (i *scriptedInvoker) Invoke(ctx context.Context, name string, args map[string]interface{}) (*types.ToolResult, error) {
	i.mu.Lock()
	i.calls = append(i.calls, name)
	i.mu.Unlock()
	if i.block != nil {
		select {
		case <-i.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := i.errs[name]; ok {
		return nil, err
	}
	if r, ok := i.results[name]; ok {
		return r, nil
	}
	return &types.ToolResult{Success: true, Data: "ok"}, nil
}

func toolCallResponse(name string, input map[string]interface{}) *types.LLMResponse {
	return &types.LLMResponse{
		ToolCalls: []types.ToolCall{{ID: "call_1", Name: name, Input: input}},
		Usage:     types.Usage{InputTokens: 100, OutputTokens: 20},
	}
}

func textResponse(text string) *types.LLMResponse {
	return &types.LLMResponse{
		Content: text,
		Usage:   types.Usage{InputTokens: 120, OutputTokens: 40},
	}
}

func drain(stream *Stream) []Event {
	var events []Event
	for e := range stream.Events() {
		events = append(events, e)
	}
	return events
}

func eventTypes(events []Event, skipIndicators bool) []EventType {
	var out []EventType
	for _, e := range events {
		if skipIndicators && e.Type == EventStatusIndicator {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}

func runTurn(t *testing.T, req *Request) (*Result, []Event) {
	t.Helper()
	stream := NewStream()
	var events []Event
	done := make(chan struct{})
	go func() {
		events = drain(stream)
		close(done)
	}()
	res, err := New(0).Execute(context.Background(), req, stream)
	require.NoError(t, err)
	<-done
	return res, events
}

func TestExecuteToolLoopEventOrder(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("base_readQuery", map[string]interface{}{"sql": "SELECT 1"})},
		llm.ScriptedStep{Response: textResponse("Here are the top 5 products.")},
	)
	invoker := &scriptedInvoker{results: map[string]*types.ToolResult{
		"base_readQuery": {Success: true, Data: `[{"product": "a"}]`},
	}}
	req := &Request{
		TurnNumber: 1,
		Messages:   []types.Message{{Role: "user", Content: "show top 5 products by sales last month"}},
		Provider:   provider,
		Tools:      []types.ToolDefinition{{Name: "base_readQuery"}},
		Invoker:    invoker,
	}

	res, events := runTurn(t, req)

	assert.True(t, res.Success)
	assert.Equal(t, "Here are the top 5 products.", res.Answer)
	assert.Equal(t, []string{"base_readQuery"}, res.ToolsUsed)
	assert.Equal(t, []EventType{
		EventAgentStart,
		EventLLMStep,
		EventToolInvoked,
		EventToolCompleted,
		EventLLMStep,
		EventLLMComplete,
		EventAgentComplete,
	}, eventTypes(events, true))

	// Step names distinguish tool selection from response generation.
	var stepNames []string
	for _, e := range events {
		if e.Type == EventLLMStep {
			stepNames = append(stepNames, e.Payload["step_name"].(string))
		}
	}
	assert.Equal(t, []string{"Tool Selection", "Response Generation"}, stepNames)

	// Sequence numbers are strictly increasing.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}

	// The tool result flowed back to the second LLM call.
	calls := provider.Calls()
	require.Len(t, calls, 2)
	last := calls[1][len(calls[1])-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "base_readQuery", last.ToolName)
}

func TestExecuteAccumulatesUsageAcrossIterations(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("t", nil)},
		llm.ScriptedStep{Response: textResponse("done")},
	)
	req := &Request{
		Provider: provider,
		Invoker:  &scriptedInvoker{},
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)
	assert.Equal(t, 220, res.Usage.InputTokens)
	assert.Equal(t, 60, res.Usage.OutputTokens)
	assert.Equal(t, 280, res.Usage.TotalTokens)
}

func TestExecuteToolFailureFedBackToLLM(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("broken_tool", nil)},
		llm.ScriptedStep{Response: textResponse("recovered without the tool")},
	)
	invoker := &scriptedInvoker{errs: map[string]error{
		"broken_tool": fault.New(fault.KindUpstreamTransient, "connection reset"),
	}}
	req := &Request{
		Provider: provider,
		Invoker:  invoker,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, events := runTurn(t, req)

	require.True(t, res.Success)
	assert.Equal(t, "recovered without the tool", res.Answer)

	var completed *Event
	for i := range events {
		if events[i].Type == EventToolCompleted {
			completed = &events[i]
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, false, completed.Payload["success"])
	assert.Contains(t, completed.Payload["error"], "connection reset")

	// The failed result reached the LLM as a tool message.
	calls := provider.Calls()
	last := calls[1][len(calls[1])-1]
	require.NotNil(t, last.ToolResult)
	assert.False(t, last.ToolResult.Success)
}

func TestExecuteLLMFailureSynthesizesApology(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Err: fault.New(fault.KindAuth, "invalid x-api-key")},
	)
	req := &Request{
		Provider: provider,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, events := runTurn(t, req)

	assert.False(t, res.Success)
	assert.Equal(t, "auth", res.ErrorKind)
	assert.Contains(t, res.Answer, "credentials")

	final := events[len(events)-1]
	assert.Equal(t, EventAgentComplete, final.Type)
	assert.Equal(t, false, final.Payload["success"])
	assert.Equal(t, "auth", final.Payload["error_kind"])
}

func TestExecuteRetriesTransientLLMFailure(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Err: fault.New(fault.KindUpstreamTransient, "overloaded")},
		llm.ScriptedStep{Response: textResponse("second try worked")},
	)
	req := &Request{
		Provider: provider,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)
	assert.True(t, res.Success)
	assert.Equal(t, "second try worked", res.Answer)
	assert.Len(t, provider.Calls(), 2)
}

func TestExecuteDoesNotRetryAuthFailure(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Err: fault.New(fault.KindAuth, "bad key")},
		llm.ScriptedStep{Response: textResponse("should never be reached")},
	)
	req := &Request{
		Provider: provider,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)
	assert.False(t, res.Success)
	assert.Len(t, provider.Calls(), 1)
}

func TestExecuteIterationCap(t *testing.T) {
	// The model asks for a tool on every call; the cap ends the turn.
	steps := make([]llm.ScriptedStep, 6)
	for i := range steps {
		steps[i] = llm.ScriptedStep{Response: toolCallResponse("t", nil)}
	}
	provider := llm.NewScripted(steps...)
	req := &Request{
		Provider: provider,
		Invoker:  &scriptedInvoker{},
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, events := runTurn(t, req)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Len(t, provider.Calls(), DefaultMaxIterations)
	assert.Equal(t, EventAgentComplete, events[len(events)-1].Type)
}

func TestExecuteCancellationBetweenToolCalls(t *testing.T) {
	release := make(chan struct{})
	invoker := &scriptedInvoker{block: release}
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("slow_tool", nil)},
	)
	req := &Request{
		Provider: provider,
		Invoker:  invoker,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := NewStream()
	var events []Event
	done := make(chan struct{})
	go func() {
		events = drain(stream)
		close(done)
	}()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := New(0).Execute(ctx, req, stream)
	require.NoError(t, err)
	<-done

	assert.False(t, res.Success)
	assert.True(t, res.Cancelled)
	final := events[len(events)-1]
	assert.Equal(t, EventAgentComplete, final.Type)
	assert.Equal(t, true, final.Payload["cancelled"])
}

func TestExecuteDropsThinkingBlocksFromAnswer(t *testing.T) {
	provider := llm.NewScripted(llm.ScriptedStep{Response: &types.LLMResponse{
		ContentBlocks: []types.ContentBlock{
			{Type: "thinking", Text: "let me reason about this"},
			{Type: "text", Text: "The answer is 42."},
		},
		Usage: types.Usage{InputTokens: 10, OutputTokens: 5},
	}})
	req := &Request{
		Provider: provider,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)
	assert.Equal(t, "The answer is 42.", res.Answer)
	assert.NotContains(t, res.Answer, "reason about")
}

func TestExecuteAutoCanvasExtractsSQLBlock(t *testing.T) {
	answer := "Here is the query:\n\n```sql\nSELECT region, SUM(amount)\nFROM sales\nGROUP BY region\n```\n\nRun it against the warehouse."
	provider := llm.NewScripted(llm.ScriptedStep{Response: textResponse(answer)})
	req := &Request{
		Provider: provider,
		Tools:    []types.ToolDefinition{{Name: "render_canvas"}},
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)

	require.Len(t, res.ComponentPayloads, 1)
	p := res.ComponentPayloads[0]
	assert.Equal(t, "canvas", p.Component)
	assert.Equal(t, "sql", p.Payload["language"])
	assert.Equal(t, 3, p.Payload["line_count"])
	assert.NotContains(t, res.Answer, "```")
	assert.Contains(t, res.Answer, "Run it against the warehouse.")
}

func TestExecuteNoAutoCanvasWithoutCanvasTool(t *testing.T) {
	answer := "```sql\nSELECT 1\n```"
	provider := llm.NewScripted(llm.ScriptedStep{Response: textResponse(answer)})
	req := &Request{
		Provider: provider,
		Tools:    []types.ToolDefinition{{Name: "base_readQuery"}},
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, _ := runTurn(t, req)
	assert.Empty(t, res.ComponentPayloads)
	assert.Contains(t, res.Answer, "```sql")
}

func TestExecuteComponentPayloadPassthrough(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("chart_tool", nil)},
		llm.ScriptedStep{Response: textResponse("chart rendered")},
	)
	invoker := &scriptedInvoker{results: map[string]*types.ToolResult{
		"chart_tool": {
			Success: true,
			Data:    "rendered",
			Metadata: map[string]interface{}{
				componentEventsKey: []interface{}{
					map[string]interface{}{
						"component":     "chart",
						"render_target": "sub_window",
						"payload":       map[string]interface{}{"kind": "bar"},
					},
					map[string]interface{}{
						"component": "table",
						"payload":   map[string]interface{}{"rows": 3.0},
					},
				},
			},
		},
	}}
	req := &Request{
		Provider: provider,
		Invoker:  invoker,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	res, events := runTurn(t, req)

	require.Len(t, res.ComponentPayloads, 2)
	assert.Equal(t, "chart", res.ComponentPayloads[0].Component)
	assert.Equal(t, "table", res.ComponentPayloads[1].Component)

	// Only the sub_window payload streamed in real time.
	var renders []Event
	for _, e := range events {
		if e.Type == EventComponentRender {
			renders = append(renders, e)
		}
	}
	require.Len(t, renders, 1)
	assert.Equal(t, "chart", renders[0].Payload["component"])
}

func TestExecuteToolResultPreviewTruncated(t *testing.T) {
	big := strings.Repeat("x", resultPreviewLimit+500)
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("big_tool", nil)},
		llm.ScriptedStep{Response: textResponse("done")},
	)
	invoker := &scriptedInvoker{results: map[string]*types.ToolResult{
		"big_tool": {Success: true, Data: big},
	}}
	req := &Request{
		Provider: provider,
		Invoker:  invoker,
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	_, events := runTurn(t, req)

	for _, e := range events {
		if e.Type == EventToolCompleted {
			preview := e.Payload["preview"].(string)
			assert.Len(t, preview, resultPreviewLimit)
		}
	}
}

func TestExecuteStatusIndicatorsBracketCalls(t *testing.T) {
	provider := llm.NewScripted(
		llm.ScriptedStep{Response: toolCallResponse("t", nil)},
		llm.ScriptedStep{Response: textResponse("done")},
	)
	req := &Request{
		Provider: provider,
		Invoker:  &scriptedInvoker{},
		Messages: []types.Message{{Role: "user", Content: "q"}},
	}

	_, events := runTurn(t, req)

	var llmBusy, llmIdle, dbBusy, dbIdle int
	for _, e := range events {
		if e.Type != EventStatusIndicator {
			continue
		}
		switch e.Payload["target"].(string) + "/" + e.Payload["state"].(string) {
		case "llm/busy":
			llmBusy++
		case "llm/idle":
			llmIdle++
		case "db/busy":
			dbBusy++
		case "db/idle":
			dbIdle++
		}
	}
	assert.Equal(t, 2, llmBusy)
	assert.Equal(t, 2, llmIdle)
	assert.Equal(t, 1, dbBusy)
	assert.Equal(t, 1, dbIdle)
}

func TestExtractUsageMetadataShapes(t *testing.T) {
	cases := []struct {
		name string
		resp *types.LLMResponse
		in   int
		out  int
	}{
		{
			name: "direct usage",
			resp: &types.LLMResponse{Usage: types.Usage{InputTokens: 7, OutputTokens: 3}},
			in:   7, out: 3,
		},
		{
			name: "usage_metadata",
			resp: &types.LLMResponse{Metadata: map[string]interface{}{
				"usage_metadata": map[string]interface{}{"input_tokens": 11.0, "output_tokens": 4.0},
			}},
			in: 11, out: 4,
		},
		{
			name: "response_metadata token_usage openai spelling",
			resp: &types.LLMResponse{Metadata: map[string]interface{}{
				"response_metadata": map[string]interface{}{
					"token_usage": map[string]interface{}{"prompt_tokens": 20.0, "completion_tokens": 9.0},
				},
			}},
			in: 20, out: 9,
		},
		{
			name: "absent stays zero",
			resp: &types.LLMResponse{},
			in:   0, out: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := ExtractUsage(tc.resp, "unpriced-model")
			assert.Equal(t, tc.in, u.InputTokens)
			assert.Equal(t, tc.out, u.OutputTokens)
		})
	}
}

func TestStreamLossyDropsWhenFull(t *testing.T) {
	s := NewStream()
	for i := 0; i < streamCapacity; i++ {
		s.EmitLossy(Event{Type: EventStatusIndicator})
	}
	// Buffer full: the next lossy emit must not block.
	done := make(chan struct{})
	go func() {
		s.EmitLossy(Event{Type: EventStatusIndicator})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitLossy blocked on a full stream")
	}
	s.Close()
}

func TestStreamEmitBlocksUntilContextEnds(t *testing.T) {
	s := NewStream()
	for i := 0; i < streamCapacity; i++ {
		require.NoError(t, s.Emit(context.Background(), Event{Type: EventLLMStep}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Emit(ctx, Event{Type: EventLLMStep})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	s.Close()
}
