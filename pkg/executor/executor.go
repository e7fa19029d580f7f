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
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/fault"
	"github.com/teradata-labs/heddle/pkg/session"
	"github.com/teradata-labs/heddle/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultMaxIterations caps LLM round trips in one turn.
	DefaultMaxIterations = 5

	// resultPreviewLimit bounds the tool result excerpt carried on
	// tool_completed events.
	resultPreviewLimit = 5000

	componentEventsKey = "_component_llm_events"
)

// Request carries everything one turn execution needs. The orchestrator
// fills it from the active runtime state and the assembled context window.
type Request struct {
	OwnerID    string
	SessionID  string
	TurnNumber int

	// Messages is the initial list: system, filtered history, current user
	// message.
	Messages []types.Message

	Provider types.LLMProvider
	Tools    []types.ToolDefinition
	Invoker  types.ToolInvoker // nil when the profile has no MCP session
}

// Result is the outcome of one turn.
type Result struct {
	Answer    string
	Success   bool
	Cancelled bool
	// ErrorKind names the failure class when Success is false.
	ErrorKind string

	ToolsUsed         []string
	Usage             types.Usage
	ComponentPayloads []types.ComponentPayload
	Trace             []session.ExecutionStep
	Iterations        int
}

// Executor runs the ReAct loop: the LLM alternately emits tool calls and
// text until it answers without tools or the iteration cap is reached.
type Executor struct {
	maxIterations int
}

// New creates an executor. maxIterations <= 0 selects the default cap.
func New(maxIterations int) *Executor {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Executor{maxIterations: maxIterations}
}

// Execute runs one turn, emitting events to stream as it goes. The stream is
// closed before return. Tool failures are fed back to the LLM; LLM failures
// end the turn with an apologetic answer and Success=false. Cancellation is
// honored between iterations and between tool calls.
func (e *Executor) Execute(ctx context.Context, req *Request, stream *Stream) (*Result, error) {
	defer stream.Close()

	if req.Provider == nil {
		return nil, fault.New(fault.KindValidation, "executor: no LLM provider bound")
	}

	res := &Result{}
	messages := append([]types.Message(nil), req.Messages...)

	if err := stream.Emit(ctx, Event{
		Type:     EventAgentStart,
		Turn:     req.TurnNumber,
		Provider: req.Provider.Name(),
		Model:    req.Provider.Model(),
		Payload:  map[string]interface{}{"tool_count": len(req.Tools)},
	}); err != nil {
		return nil, err
	}

	var lastContent string
	for iter := 1; iter <= e.maxIterations; iter++ {
		if ctx.Err() != nil {
			return e.finishCancelled(req, stream, res)
		}
		res.Iterations = iter

		stream.EmitLossy(e.event(req, EventStatusIndicator, statusEvent("llm", "busy")))
		resp, err := e.chatWithRetry(ctx, req.Provider, messages, req.Tools)
		stream.EmitLossy(e.event(req, EventStatusIndicator, statusEvent("llm", "idle")))
		if err != nil {
			if ctx.Err() != nil {
				return e.finishCancelled(req, stream, res)
			}
			return e.finishLLMFailure(ctx, req, stream, res, err)
		}

		usage := ExtractUsage(resp, req.Provider.Model())
		res.Usage.Add(usage)
		lastContent = textOf(resp)

		stepName := "Response Generation"
		if len(resp.ToolCalls) > 0 {
			stepName = "Tool Selection"
		}
		if err := stream.Emit(ctx, e.event(req, EventLLMStep, map[string]interface{}{
			"step_number":           iter,
			"step_name":             stepName,
			"input_tokens":          usage.InputTokens,
			"output_tokens":         usage.OutputTokens,
			"cumulative_cost_micro": res.Usage.CostMicroUSD,
			"cumulative_tokens":     res.Usage.TotalTokens,
			"requested_tool_count":  len(resp.ToolCalls),
		})); err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			return e.finish(ctx, req, stream, res, lastContent, resp)
		}

		messages = append(messages, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return e.finishCancelled(req, stream, res)
			}
			toolMsg, step, err := e.runTool(ctx, req, stream, res, call)
			if err != nil {
				// Only emission/context errors reach here; tool faults are
				// converted into results and fed back.
				if ctx.Err() != nil {
					return e.finishCancelled(req, stream, res)
				}
				return nil, err
			}
			messages = append(messages, toolMsg)
			res.Trace = append(res.Trace, step)
		}
	}

	// Iteration cap reached. Whatever the model last said stands in for an
	// answer so the turn is not silently swallowed.
	log.Warn("iteration cap reached",
		zap.Int("max_iterations", e.maxIterations),
		zap.String("session_id", req.SessionID))
	if lastContent == "" {
		lastContent = "I could not complete the request within the allowed number of tool steps. Please try a narrower question."
	}
	return e.finish(ctx, req, stream, res, lastContent, nil)
}

// runTool executes one tool call and returns the tool message fed back to
// the LLM plus the trace step. Failures become structured results, never
// loop-ending errors.
func (e *Executor) runTool(ctx context.Context, req *Request, stream *Stream, res *Result, call types.ToolCall) (types.Message, session.ExecutionStep, error) {
	if err := stream.Emit(ctx, e.event(req, EventToolInvoked, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
	})); err != nil {
		return types.Message{}, session.ExecutionStep{}, err
	}

	var result *types.ToolResult
	start := time.Now()
	if req.Invoker == nil {
		result = &types.ToolResult{
			Success: false,
			Error:   &types.ToolError{Code: "no_tools", Message: "no tool server is connected for this profile"},
		}
	} else {
		stream.EmitLossy(e.event(req, EventStatusIndicator, statusEvent("db", "busy")))
		var err error
		result, err = req.Invoker.Invoke(ctx, call.Name, call.Input)
		stream.EmitLossy(e.event(req, EventStatusIndicator, statusEvent("db", "idle")))
		if err != nil {
			result = &types.ToolResult{
				Success: false,
				Error: &types.ToolError{
					Code:      string(fault.KindOf(err)),
					Message:   err.Error(),
					Retryable: fault.Retryable(err),
				},
			}
		}
	}
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}

	e.collectComponents(ctx, req, stream, res, result)

	payload := map[string]interface{}{
		"tool_name":   call.Name,
		"call_id":     call.ID,
		"success":     result.Success,
		"duration_ms": result.ExecutionTimeMs,
		"preview":     resultPreview(result),
	}
	if result.Error != nil {
		payload["error"] = result.Error.Message
	}
	if err := stream.Emit(ctx, e.event(req, EventToolCompleted, payload)); err != nil {
		return types.Message{}, session.ExecutionStep{}, err
	}

	res.ToolsUsed = appendUnique(res.ToolsUsed, call.Name)

	status := "success"
	if !result.Success {
		status = "error"
	}
	step := session.ExecutionStep{
		Action: session.StepAction{ToolName: call.Name, Args: call.Input},
		OutputSummary: session.StepSummary{
			Status:  status,
			Results: resultRows(result),
		},
	}
	return types.Message{
		Role:       "tool",
		ToolUseID:  call.ID,
		ToolName:   call.Name,
		ToolResult: result,
	}, step, nil
}

// collectComponents lifts component render payloads from tool metadata.
// sub_window payloads are also streamed in real time.
func (e *Executor) collectComponents(ctx context.Context, req *Request, stream *Stream, res *Result, result *types.ToolResult) {
	raw, ok := result.Metadata[componentEventsKey]
	if !ok {
		return
	}
	items, ok := raw.([]interface{})
	if !ok {
		return
	}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		p := types.ComponentPayload{
			Component: stringField(m, "component"),
		}
		if p.Component == "" {
			continue
		}
		p.RenderTarget = stringField(m, "render_target")
		if body, ok := m["payload"].(map[string]interface{}); ok {
			p.Payload = body
		}
		res.ComponentPayloads = append(res.ComponentPayloads, p)
		if p.RenderTarget == "sub_window" {
			if err := stream.Emit(ctx, e.event(req, EventComponentRender, map[string]interface{}{
				"component":     p.Component,
				"render_target": p.RenderTarget,
				"payload":       p.Payload,
			})); err != nil {
				return
			}
		}
	}
}

// finish emits the terminal events for a successful turn, running auto-canvas
// first when the profile has a canvas tool.
func (e *Executor) finish(ctx context.Context, req *Request, stream *Stream, res *Result, answer string, resp *types.LLMResponse) (*Result, error) {
	if hasCanvasTool(req.Tools) && !hasCanvasPayload(res.ComponentPayloads) {
		stripped, payloads := extractCanvasBlocks(answer)
		if len(payloads) > 0 {
			answer = stripped
			res.ComponentPayloads = append(res.ComponentPayloads, payloads...)
		}
	}

	res.Answer = answer
	res.Success = true

	if err := stream.Emit(ctx, e.event(req, EventLLMComplete, map[string]interface{}{
		"answer":                answer,
		"cumulative_tokens":     res.Usage.TotalTokens,
		"cumulative_cost_micro": res.Usage.CostMicroUSD,
	})); err != nil {
		return nil, err
	}
	if err := stream.Emit(ctx, e.event(req, EventAgentComplete, map[string]interface{}{
		"success":               true,
		"tools_used":            res.ToolsUsed,
		"iterations":            res.Iterations,
		"input_tokens":          res.Usage.InputTokens,
		"output_tokens":         res.Usage.OutputTokens,
		"cumulative_cost_micro": res.Usage.CostMicroUSD,
	})); err != nil {
		return nil, err
	}
	return res, nil
}

// finishLLMFailure ends the turn after LLM retries are exhausted. The answer
// apologizes and names the failure class without leaking provider internals.
func (e *Executor) finishLLMFailure(ctx context.Context, req *Request, stream *Stream, res *Result, cause error) (*Result, error) {
	kind := fault.KindOf(cause)
	log.Error("llm call failed, aborting turn",
		zap.String("session_id", req.SessionID),
		zap.String("kind", string(kind)),
		zap.Error(cause))

	res.Success = false
	res.ErrorKind = string(kind)
	res.Answer = apologyFor(kind)

	_ = stream.Emit(ctx, e.event(req, EventAgentComplete, map[string]interface{}{
		"success":    false,
		"error_kind": string(kind),
		"tools_used": res.ToolsUsed,
	}))
	return res, nil
}

// finishCancelled reports cooperative cancellation. Outputs of any tool call
// in flight when the cancel landed are discarded.
func (e *Executor) finishCancelled(req *Request, stream *Stream, res *Result) (*Result, error) {
	res.Success = false
	res.Cancelled = true

	// The turn context is gone; emit with a fresh short deadline so the
	// terminal event still reaches a live consumer.
	emitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = stream.Emit(emitCtx, e.event(req, EventAgentComplete, map[string]interface{}{
		"success":    false,
		"cancelled":  true,
		"tools_used": res.ToolsUsed,
	}))
	return res, nil
}

func (e *Executor) event(req *Request, typ EventType, payload map[string]interface{}) Event {
	return Event{
		Type:     typ,
		Turn:     req.TurnNumber,
		Provider: req.Provider.Name(),
		Model:    req.Provider.Model(),
		Payload:  payload,
	}
}

func apologyFor(kind fault.Kind) string {
	switch kind {
	case fault.KindRateLimited:
		return "I'm sorry, the language model is rate limiting requests right now. Please try again in a moment."
	case fault.KindAuth:
		return "I'm sorry, the language model rejected this profile's credentials. Please check the profile configuration."
	case fault.KindUpstreamTimeout:
		return "I'm sorry, the language model took too long to respond. Please try again."
	default:
		return "I'm sorry, the language model is currently unavailable. Please try again shortly."
	}
}

// textOf extracts the final answer text, dropping thinking blocks.
func textOf(resp *types.LLMResponse) string {
	if len(resp.ContentBlocks) == 0 {
		return resp.Content
	}
	var parts []string
	for _, b := range resp.ContentBlocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return resp.Content
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}

func resultPreview(r *types.ToolResult) string {
	var text string
	switch {
	case r.Error != nil:
		text = r.Error.Message
	case r.Data == nil:
		return ""
	default:
		if s, ok := r.Data.(string); ok {
			text = s
		} else if b, err := json.Marshal(r.Data); err == nil {
			text = string(b)
		} else {
			text = fmt.Sprintf("%v", r.Data)
		}
	}
	if len(text) > resultPreviewLimit {
		text = text[:resultPreviewLimit]
	}
	return text
}

// resultRows pulls row-shaped data out of a tool result for the turn trace.
func resultRows(r *types.ToolResult) []interface{} {
	if !r.Success || r.Data == nil {
		return nil
	}
	switch v := r.Data.(type) {
	case []interface{}:
		return v
	case string:
		var rows []interface{}
		if err := json.Unmarshal([]byte(v), &rows); err == nil {
			return rows
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(v), &obj); err == nil {
			if rows, ok := obj["rows"].([]interface{}); ok {
				return rows
			}
			return []interface{}{obj}
		}
		return nil
	default:
		return nil
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
